package sampler

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// default producer ranges, see configs/producer-service
var testRanges = Ranges{
	Width:      IntRange{Min: 256, Max: 1024},
	Height:     IntRange{Min: 256, Max: 1024},
	Iterations: IntRange{Min: 128, Max: 512},
	XA:         FloatRange{Min: -4.0, Max: -1.0},
	XB:         FloatRange{Min: 1.0, Max: 4.0},
	YA:         FloatRange{Min: -3.0, Max: -0.5},
	YB:         FloatRange{Min: 0.5, Max: 3.0},
}

func TestSampler_SampleWithinRanges(t *testing.T) {
	s := New(testRanges, WithSource(rand.NewPCG(1, 2)))

	for n := 0; n < 1000; n++ {
		job := s.Sample()

		require.NoError(t, job.Validate())
		assert.GreaterOrEqual(t, job.Width, 256)
		assert.LessOrEqual(t, job.Width, 1024)
		assert.GreaterOrEqual(t, job.Height, 256)
		assert.LessOrEqual(t, job.Height, 1024)
		assert.GreaterOrEqual(t, job.Iterations, 128)
		assert.LessOrEqual(t, job.Iterations, 512)
		assert.GreaterOrEqual(t, job.XA, -4.0)
		assert.Less(t, job.XA, -1.0)
		assert.GreaterOrEqual(t, job.XB, 1.0)
		assert.Less(t, job.XB, 4.0)
		assert.GreaterOrEqual(t, job.YA, -3.0)
		assert.Less(t, job.YA, -0.5)
		assert.GreaterOrEqual(t, job.YB, 0.5)
		assert.Less(t, job.YB, 3.0)
	}
}

func TestSampler_IntegerBoundsAreInclusive(t *testing.T) {
	s := New(testRanges, WithSource(rand.NewPCG(3, 4)))

	seen := map[int]bool{}
	for n := 0; n < 2000; n++ {
		seen[s.IntBetween(IntRange{Min: 1, Max: 3})] = true
	}

	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)
}

func TestSampler_Reproducible(t *testing.T) {
	counter := 0
	ids := func() string {
		counter++
		return fmt.Sprintf("job-%d", counter)
	}

	a := New(testRanges, WithSource(rand.NewPCG(9, 9)), WithIDFunc(ids))
	first := a.Sample()

	counter = 0
	b := New(testRanges, WithSource(rand.NewPCG(9, 9)), WithIDFunc(ids))
	second := b.Sample()

	assert.Equal(t, first, second)
}

func TestSampler_DefaultIDsAreUniqueUUIDs(t *testing.T) {
	s := New(testRanges)

	seen := map[string]bool{}
	for n := 0; n < 100; n++ {
		job := s.Sample()
		_, err := uuid.Parse(job.ID)
		require.NoError(t, err)
		require.False(t, seen[job.ID], "id reused: %s", job.ID)
		seen[job.ID] = true
	}
}

func TestSampler_DurationBetween(t *testing.T) {
	s := New(testRanges, WithSource(rand.NewPCG(5, 6)))

	for n := 0; n < 500; n++ {
		d := s.DurationBetween(DurationRange{Min: time.Second, Max: 10 * time.Second})
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 10*time.Second)
	}

	assert.Equal(t, 2*time.Second, s.DurationBetween(DurationRange{Min: 2 * time.Second, Max: 2 * time.Second}))
}

func TestSampler_DegenerateRangeReturnsMin(t *testing.T) {
	s := New(testRanges)
	assert.Equal(t, 7, s.IntBetween(IntRange{Min: 7, Max: 7}))
}

func TestRanges_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *Ranges)
		wantErr   bool
		errString string
	}{
		{
			name:    "defaults are valid",
			mutate:  func(r *Ranges) {},
			wantErr: false,
		},
		{
			name:      "inverted width",
			mutate:    func(r *Ranges) { r.Width = IntRange{Min: 10, Max: 5} },
			wantErr:   true,
			errString: "width range is inverted",
		},
		{
			name:      "inverted yb",
			mutate:    func(r *Ranges) { r.YB = FloatRange{Min: 1, Max: 0} },
			wantErr:   true,
			errString: "yb range is inverted",
		},
		{
			name: "first inverted range is reported",
			mutate: func(r *Ranges) {
				r.YB = FloatRange{Min: 1, Max: 0}
				r.Iterations = IntRange{Min: 9, Max: 3}
				r.Height = IntRange{Min: 10, Max: 5}
			},
			wantErr:   true,
			errString: "height range is inverted",
		},
		{
			name:      "single pixel height allowed by range",
			mutate:    func(r *Ranges) { r.Height = IntRange{Min: 1, Max: 10} },
			wantErr:   true,
			errString: "at least 2",
		},
		{
			name:      "zero iterations allowed by range",
			mutate:    func(r *Ranges) { r.Iterations = IntRange{Min: 0, Max: 10} },
			wantErr:   true,
			errString: "iterations must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRanges
			tt.mutate(&r)

			err := r.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
