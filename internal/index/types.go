package index

import (
	"errors"
	"fmt"
)

const (
	// DefaultDimensions is the width of the hashed feature space
	DefaultDimensions = 1 << 16
	// DefaultSeed is mixed into every feature hash. It is persisted with
	// the index so reloaded indexes hash identically.
	DefaultSeed uint64 = 0x5eed1e55

	// exactEpsilon snaps near-zero distances caused by float rounding to 0
	exactEpsilon = 1e-6
)

// ErrInvalidSnapshot is returned when a snapshot cannot form a usable index
var ErrInvalidSnapshot = errors.New("invalid index snapshot")

// Params fixes the feature space of an index
type Params struct {
	Dimensions uint32 `json:"dimensions" yaml:"dimensions" mapstructure:"dimensions"`
	Seed       uint64 `json:"seed" yaml:"seed" mapstructure:"seed"`
}

// DefaultParams returns the default feature space
func DefaultParams() Params {
	return Params{Dimensions: DefaultDimensions, Seed: DefaultSeed}
}

// Validate checks that p describes a usable feature space
func (p Params) Validate() error {
	if p.Dimensions == 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidSnapshot)
	}
	return nil
}

// Vector is a sparse L2-normalized vector. Dims are strictly increasing and
// Weights[i] is the weight of Dims[i].
type Vector struct {
	Dims    []uint32  `json:"d"`
	Weights []float32 `json:"w"`
}

// IsZero reports whether v has no non-zero component
func (v Vector) IsZero() bool {
	return len(v.Dims) == 0
}

// Snapshot is the serializable form of an Index
type Snapshot struct {
	Params Params   `json:"params"`
	Lines  int      `json:"lines"`
	Rows   []Vector `json:"rows"`
}

// Stats describes a built index
type Stats struct {
	Lines    int `json:"lines"`
	Rows     int `json:"rows"`
	Features int `json:"features"`
}

type posting struct {
	row    int32
	weight float32
}

// scratch accumulates per-row dot products for one query
type scratch struct {
	acc     []float64
	touched []int32
}
