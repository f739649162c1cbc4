package model

import "time"

// Fractal is a persisted fractal record. Result columns stay NULL until the
// render is reconciled.
type Fractal struct {
	ID          string    `db:"id" json:"id"`
	Width       int       `db:"width" json:"width"`
	Height      int       `db:"height" json:"height"`
	Iterations  int       `db:"iterations" json:"iterations"`
	XA          float64   `db:"xa" json:"xa"`
	XB          float64   `db:"xb" json:"xb"`
	YA          float64   `db:"ya" json:"ya"`
	YB          float64   `db:"yb" json:"yb"`
	Checksum    *string   `db:"checksum" json:"checksum,omitempty"`
	Duration    *float64  `db:"duration" json:"duration,omitempty"`
	Size        *int64    `db:"size" json:"size,omitempty"`
	GeneratedBy *string   `db:"generated_by" json:"generated_by,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Completed reports whether a render result has been recorded
func (f *Fractal) Completed() bool {
	return f.Checksum != nil
}
