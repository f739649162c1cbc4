package dto

// CreateFractalRequest registers a pending fractal. Coordinates are pointers so
// that a legitimate 0 is told apart from a missing field.
type CreateFractalRequest struct {
	UUID       string   `json:"uuid" binding:"required"`
	Width      int      `json:"width" binding:"required"`
	Height     int      `json:"height" binding:"required"`
	Iterations int      `json:"iterations" binding:"required"`
	XA         *float64 `json:"xa" binding:"required"`
	XB         *float64 `json:"xb" binding:"required"`
	YA         *float64 `json:"ya" binding:"required"`
	YB         *float64 `json:"yb" binding:"required"`
}

// UpdateFractalRequest records a render result. Image is base64 on the wire.
type UpdateFractalRequest struct {
	Checksum    string   `json:"checksum" binding:"required"`
	Duration    *float64 `json:"duration" binding:"required"`
	Image       []byte   `json:"image,omitempty"`
	Size        *int64   `json:"size,omitempty"`
	GeneratedBy string   `json:"generated_by,omitempty"`
}

type ListFractalsRequest struct {
	Completed bool   `form:"completed"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListFractalsResponse struct {
	Fractals   []FractalDTO `json:"fractals"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type FractalDTO struct {
	UUID        string   `json:"uuid"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Iterations  int      `json:"iterations"`
	XA          float64  `json:"xa"`
	XB          float64  `json:"xb"`
	YA          float64  `json:"ya"`
	YB          float64  `json:"yb"`
	Completed   bool     `json:"completed"`
	Status      string   `json:"status"`
	Checksum    string   `json:"checksum,omitempty"`
	Duration    *float64 `json:"duration,omitempty"`
	Size        *int64   `json:"size,omitempty"`
	GeneratedBy string   `json:"generated_by,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
