package index

import (
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/raaihank/log-sentinel/internal/tokenizer"
)

// bigramSep joins adjacent tokens into one bigram feature
const bigramSep = "\x1f"

// Vectorize maps a token sequence to its sparse vector. Each token and each
// adjacent token pair is hashed to one dimension; the weight of a dimension
// is 1+ln(count) and the result is L2-normalized. An empty sequence yields
// the zero vector.
func Vectorize(tokens []tokenizer.Token, p Params) Vector {
	if len(tokens) == 0 || p.Dimensions == 0 {
		return Vector{}
	}

	dims := make([]uint32, 0, 2*len(tokens))
	for i, tok := range tokens {
		dims = append(dims, p.dimension(string(tok)))
		if i > 0 {
			dims = append(dims, p.dimension(string(tokens[i-1])+bigramSep+string(tok)))
		}
	}
	slices.Sort(dims)

	v := Vector{
		Dims:    make([]uint32, 0, len(dims)),
		Weights: make([]float32, 0, len(dims)),
	}
	raw := make([]float64, 0, len(dims))
	var norm float64
	for i := 0; i < len(dims); {
		j := i + 1
		for j < len(dims) && dims[j] == dims[i] {
			j++
		}
		w := 1 + math.Log(float64(j-i))
		v.Dims = append(v.Dims, dims[i])
		raw = append(raw, w)
		norm += w * w
		i = j
	}

	norm = math.Sqrt(norm)
	for _, w := range raw {
		v.Weights = append(v.Weights, float32(w/norm))
	}
	return v
}

// dimension hashes a feature into [0, Dimensions)
func (p Params) dimension(feature string) uint32 {
	return uint32(mix64(xxhash.Sum64String(feature)^p.Seed) % uint64(p.Dimensions))
}

// mix64 is the splitmix64 finalizer; it spreads the seeded hash over all bits
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Cosine returns the dot product of two normalized sparse vectors
func Cosine(a, b Vector) float64 {
	var dot float64
	i, j := 0, 0
	for i < len(a.Dims) && j < len(b.Dims) {
		switch {
		case a.Dims[i] == b.Dims[j]:
			dot += float64(a.Weights[i]) * float64(b.Weights[j])
			i++
			j++
		case a.Dims[i] < b.Dims[j]:
			i++
		default:
			j++
		}
	}
	return dot
}
