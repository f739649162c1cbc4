package sampler

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
)

// IntRange is an inclusive integer range
type IntRange struct {
	Min int
	Max int
}

// FloatRange is a continuous range [Min, Max)
type FloatRange struct {
	Min float64
	Max float64
}

// DurationRange is a continuous range of durations
type DurationRange struct {
	Min time.Duration
	Max time.Duration
}

// Ranges bounds every randomized job parameter
type Ranges struct {
	Width      IntRange
	Height     IntRange
	Iterations IntRange
	XA         FloatRange
	XB         FloatRange
	YA         FloatRange
	YB         FloatRange
}

// Validate checks every range is ordered and that sampled jobs can be rendered
func (r Ranges) Validate() error {
	ints := []struct {
		name string
		rng  IntRange
	}{
		{"width", r.Width},
		{"height", r.Height},
		{"iterations", r.Iterations},
	}
	for _, f := range ints {
		if f.rng.Min > f.rng.Max {
			return fmt.Errorf("%s range is inverted: min %d > max %d", f.name, f.rng.Min, f.rng.Max)
		}
	}

	floats := []struct {
		name string
		rng  FloatRange
	}{
		{"xa", r.XA},
		{"xb", r.XB},
		{"ya", r.YA},
		{"yb", r.YB},
	}
	for _, f := range floats {
		if f.rng.Min > f.rng.Max {
			return fmt.Errorf("%s range is inverted: min %g > max %g", f.name, f.rng.Min, f.rng.Max)
		}
	}

	if r.Width.Min < domain.MinDimension || r.Height.Min < domain.MinDimension {
		return fmt.Errorf("minimum width and height must be at least %d", domain.MinDimension)
	}

	if r.Iterations.Min < 1 {
		return fmt.Errorf("minimum iterations must be at least 1")
	}

	return nil
}

// IDFunc generates job ids
type IDFunc func() string

// Sampler draws random jobs. It owns its generator, so two samplers built on
// equal sources produce equal sequences. Safe for concurrent use.
type Sampler struct {
	ranges Ranges
	newID  IDFunc

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customizes a Sampler
type Option func(*Sampler)

// WithSource replaces the crypto-seeded source
func WithSource(src rand.Source) Option {
	return func(s *Sampler) {
		s.rng = rand.New(src)
	}
}

// WithIDFunc replaces uuid.NewString as the id generator
func WithIDFunc(fn IDFunc) Option {
	return func(s *Sampler) {
		s.newID = fn
	}
}

// New creates a Sampler seeded once from crypto/rand
func New(ranges Ranges, opts ...Option) *Sampler {
	s := &Sampler{
		ranges: ranges,
		newID:  uuid.NewString,
		rng:    rand.New(rand.NewPCG(seed(), seed())),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sample draws one job. The job is not validated; overlapping ranges can
// produce a degenerate box.
func (s *Sampler) Sample() domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.Job{
		ID:         s.newID(),
		Width:      s.intLocked(s.ranges.Width),
		Height:     s.intLocked(s.ranges.Height),
		Iterations: s.intLocked(s.ranges.Iterations),
		XA:         s.floatLocked(s.ranges.XA),
		XB:         s.floatLocked(s.ranges.XB),
		YA:         s.floatLocked(s.ranges.YA),
		YB:         s.floatLocked(s.ranges.YB),
	}
}

// IntBetween draws uniformly from the inclusive range
func (s *Sampler) IntBetween(r IntRange) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intLocked(r)
}

// DurationBetween draws uniformly from [Min, Max]
func (s *Sampler) DurationBetween(r DurationRange) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(s.rng.Int64N(int64(r.Max-r.Min)+1))
}

func (s *Sampler) intLocked(r IntRange) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + s.rng.IntN(r.Max-r.Min+1)
}

func (s *Sampler) floatLocked(r FloatRange) float64 {
	return r.Min + s.rng.Float64()*(r.Max-r.Min)
}

func seed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}
