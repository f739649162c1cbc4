// Package render draws Julia-set fractals.
//
// Rendering happens in two steps. First a constant c is chosen by rejection
// sampling: candidates are drawn uniformly from the job's box until one has an
// escape count strictly between 10 and 100. That loop has no upper bound; a box
// with no qualifying point never returns. The renderer logs a warning every
// 10000 rejected candidates so a stuck job is visible, but it never gives up
// on its own, since any cutoff would change which images are produced.
//
// Second, every pixel is mapped into the box and iterated under z <- z*z + c.
// The escape count selects a banded colour.
package render

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math/cmplx"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
)

const (
	escapeRadius = 2.0

	// a candidate constant is accepted when acceptMin < count < acceptMax
	acceptMin = 10
	acceptMax = 100

	rejectionWarnEvery = 10000
)

// Box is the region of the complex plane covered by the image
type Box struct {
	XA, XB, YA, YB float64
}

// BoxOf returns the bounding box of a job
func BoxOf(job domain.Job) Box {
	return Box{XA: job.XA, XB: job.XB, YA: job.YA, YB: job.YB}
}

// Options configures a Renderer
type Options struct {
	// Parallelism is the number of goroutines sharing the rows of one image.
	// 0 or 1 renders on the calling goroutine; a negative value uses GOMAXPROCS.
	Parallelism int
	// Picker draws candidate constants. Defaults to a RandomPicker on the global source.
	Picker PointPicker
	Logger *slog.Logger
}

// Renderer draws Julia sets. It is safe for concurrent use if its Picker is.
type Renderer struct {
	parallelism int
	picker      PointPicker
	logger      *slog.Logger
}

// Frame is a rendered image together with the constant it was drawn with
type Frame struct {
	Image    *image.NRGBA
	C        complex128
	Attempts int
}

// New creates a Renderer
func New(opts Options) *Renderer {
	parallelism := opts.Parallelism
	if parallelism < 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	if parallelism == 0 {
		parallelism = 1
	}

	picker := opts.Picker
	if picker == nil {
		picker = NewRandomPicker(nil)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Renderer{
		parallelism: parallelism,
		picker:      picker,
		logger:      logger,
	}
}

// Render validates the job and draws it. It runs to completion once started.
func (r *Renderer) Render(job domain.Job) (*Frame, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	box := BoxOf(job)
	c, attempts := r.SelectConstant(box, job.Iterations)

	r.logger.Debug("Julia constant selected",
		slog.String("job_id", job.ID),
		slog.Float64("c_real", real(c)),
		slog.Float64("c_imag", imag(c)),
		slog.Int("attempts", attempts),
	)

	img := image.NewNRGBA(image.Rect(0, 0, job.Width, job.Height))
	r.drawRows(img, box, c, job.Iterations)

	return &Frame{Image: img, C: c, Attempts: attempts}, nil
}

// SelectConstant draws candidates until one escapes after more than 10 and
// fewer than 100 iterations. A cap of 10 or less can never produce such a
// count, so for those jobs the candidates are iterated up to 100 instead.
func (r *Renderer) SelectConstant(box Box, iterations int) (complex128, int) {
	limit := iterations
	if limit <= acceptMin {
		limit = acceptMax
	}

	for attempts := 1; ; attempts++ {
		c := r.picker.Pick(box)
		i := EscapeCount(c, c, limit)
		if i > acceptMin && i < acceptMax {
			return c, attempts
		}

		if attempts%rejectionWarnEvery == 0 {
			r.logger.Warn("Still searching for a Julia constant",
				slog.Int("attempts", attempts),
				slog.String("box", fmt.Sprintf("[%g,%g]x[%g,%g]", box.XA, box.XB, box.YA, box.YB)),
				slog.Int("iterations", limit),
			)
		}
	}
}

func (r *Renderer) drawRows(img *image.NRGBA, box Box, c complex128, iterations int) {
	height := img.Rect.Dy()

	if r.parallelism == 1 || height < 2 {
		for y := 0; y < height; y++ {
			drawRow(img, box, c, iterations, y)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(r.parallelism)

	band := (height + r.parallelism - 1) / r.parallelism
	for start := 0; start < height; start += band {
		end := min(start+band, height)
		g.Go(func() error {
			for y := start; y < end; y++ {
				drawRow(img, box, c, iterations, y)
			}
			return nil
		})
	}

	_ = g.Wait()
}

func drawRow(img *image.NRGBA, box Box, c complex128, iterations, y int) {
	width := img.Rect.Dx()
	height := img.Rect.Dy()

	zy := Coordinate(y, height, box.YA, box.YB)
	for x := 0; x < width; x++ {
		zx := Coordinate(x, width, box.XA, box.XB)
		i := EscapeCount(complex(zx, zy), c, iterations)
		img.SetNRGBA(x, y, Color(i))
	}
}

// Coordinate maps pixel index i of n onto [a, b]: i*(b-a)/(n-1)+a.
// The last index is pinned to b so both edges of the box are hit exactly.
func Coordinate(i, n int, a, b float64) float64 {
	if i == n-1 {
		return b
	}
	return float64(i)*(b-a)/float64(n-1) + a
}

// EscapeCount iterates z <- z*z + c up to n times and returns the number of
// steps taken before |z| first exceeded 2, or n if it never did.
func EscapeCount(z, c complex128, n int) int {
	for i := 0; i < n; i++ {
		if cmplx.Abs(z) > escapeRadius {
			return i
		}
		z = z*z + c
	}
	return n
}

// Color is the banded palette for an escape count
func Color(i int) color.NRGBA {
	return color.NRGBA{
		R: uint8(i % 8 * 32),
		G: uint8(i % 16 * 16),
		B: uint8(i % 32 * 8),
		A: 0xff,
	}
}
