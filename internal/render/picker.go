package render

import (
	"math/rand/v2"
	"sync"
)

// PointPicker draws candidate Julia constants from a box
type PointPicker interface {
	Pick(box Box) complex128
}

// RandomPicker draws candidates uniformly from the box
type RandomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPicker returns a picker on src, or on the auto-seeded global
// source when src is nil. A fixed src makes the selected constant reproducible.
func NewRandomPicker(src rand.Source) *RandomPicker {
	p := &RandomPicker{}
	if src != nil {
		p.rng = rand.New(src)
	}
	return p
}

// Pick implements PointPicker
func (p *RandomPicker) Pick(box Box) complex128 {
	var u, v float64
	if p.rng == nil {
		u, v = rand.Float64(), rand.Float64()
	} else {
		p.mu.Lock()
		u, v = p.rng.Float64(), p.rng.Float64()
		p.mu.Unlock()
	}

	cx := u*(box.XB-box.XA) + box.XA
	cy := v*(box.YB-box.YA) + box.YA
	return complex(cx, cy)
}

// PickerFunc adapts a function to PointPicker
type PickerFunc func(box Box) complex128

// Pick implements PointPicker
func (f PickerFunc) Pick(box Box) complex128 {
	return f(box)
}
