package model

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"

	"github.com/raaihank/log-sentinel/internal/index"
	"github.com/raaihank/log-sentinel/internal/source"
	"github.com/raaihank/log-sentinel/internal/tokenizer"
)

// encodingVersion changes whenever the persisted layout changes
const encodingVersion = 2

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

type encodedModel struct {
	Version     int               `json:"version"`
	Fingerprint string            `json:"fingerprint"`
	Params      index.Params      `json:"params"`
	Tokenizer   tokenizer.Options `json:"tokenizer"`
	CreatedAt   time.Time         `json:"created_at"`
	Sources     []encodedSource   `json:"sources"`
}

type encodedSource struct {
	Source  source.ID       `json:"source"`
	Index   *index.Snapshot `json:"index,omitempty"`
	Failure string          `json:"failure,omitempty"`
}

// Marshal serializes a model into a compressed blob. Unmarshal of the
// blob yields a model that scores every line exactly like m.
func Marshal(m *Model) ([]byte, error) {
	enc := encodedModel{
		Version:     encodingVersion,
		Fingerprint: m.fingerprint,
		Params:      m.params,
		Tokenizer:   m.tokenizer,
		CreatedAt:   m.createdAt,
	}
	for _, id := range m.Sources() {
		snap := m.indexes[id].Snapshot()
		enc.Sources = append(enc.Sources, encodedSource{Source: id, Index: &snap})
	}
	for _, id := range source.SortedIDs(m.failures) {
		enc.Sources = append(enc.Sources, encodedSource{Source: id, Failure: m.failures[id]})
	}

	data, err := json.Marshal(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

// Unmarshal restores a model produced by Marshal
func Unmarshal(blob []byte) (*Model, error) {
	data, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}

	var enc encodedModel
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	if enc.Version != encodingVersion {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrIncompatible, enc.Version, encodingVersion)
	}

	m := &Model{
		fingerprint: enc.Fingerprint,
		params:      enc.Params,
		tokenizer:   enc.Tokenizer.Effective(),
		createdAt:   enc.CreatedAt,
		indexes:     make(map[source.ID]*index.Index, len(enc.Sources)),
		failures:    make(map[source.ID]string),
	}
	for _, s := range enc.Sources {
		if s.Index == nil {
			m.failures[s.Source] = s.Failure
			continue
		}
		if s.Index.Params != enc.Params {
			return nil, fmt.Errorf("%w: source %s uses %+v, model uses %+v", ErrIncompatible, s.Source, s.Index.Params, enc.Params)
		}
		idx, err := index.FromSnapshot(*s.Index)
		if err != nil {
			return nil, fmt.Errorf("%w: source %s: %v", ErrCorruptModel, s.Source, err)
		}
		m.indexes[s.Source] = idx
	}
	return m, nil
}
