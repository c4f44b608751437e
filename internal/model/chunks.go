package model

import "github.com/raaihank/log-sentinel/internal/source"

// BuildChunks groups the anomalous lines of one source into chunks. Each
// anomaly is padded by context lines on both sides and windows that overlap
// or touch are merged. Context lines keep a score of 0 and stay unflagged.
func BuildChunks(id source.ID, lines []ScoredLine, context int) []Chunk {
	if context < 0 {
		context = 0
	}

	var (
		chunks []Chunk
		lo, hi = -1, -1
	)
	emit := func() {
		if lo < 0 {
			return
		}
		chunk := Chunk{
			Source: id,
			Start:  lines[lo].Pos,
			End:    lines[hi].Pos,
			Lines:  make([]ScoredLine, 0, hi-lo+1),
		}
		for _, l := range lines[lo : hi+1] {
			if l.Anomalous {
				if l.Score > chunk.MaxScore {
					chunk.MaxScore = l.Score
				}
			} else {
				l.Score = 0
			}
			chunk.Lines = append(chunk.Lines, l)
		}
		chunks = append(chunks, chunk)
	}

	for i, l := range lines {
		if !l.Anomalous {
			continue
		}
		start, end := max(0, i-context), min(len(lines)-1, i+context)
		if lo >= 0 && start <= hi+1 {
			hi = max(hi, end)
			continue
		}
		emit()
		lo, hi = start, end
	}
	emit()
	return chunks
}
