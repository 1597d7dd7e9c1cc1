// Mean squared error between two aligned images
package metrics

import (
	"fmt"
	"runtime"
	"strings"

	"gocv.io/x/gocv"

	"image-mse/internal/core"
)

// SquarePolicy selects how absolute differences are squared
type SquarePolicy int

const (
	// Widened squares in float64, so a difference of 255 contributes 65025.
	Widened SquarePolicy = iota
	// Wrap squares in 8 bits and wraps modulo 256, so 255 contributes 225.
	Wrap
)

func (p SquarePolicy) String() string {
	switch p {
	case Widened:
		return "widened"
	case Wrap:
		return "wrap"
	default:
		return fmt.Sprintf("SquarePolicy(%d)", int(p))
	}
}

// ParseSquarePolicy parses "widened" or "wrap"
func ParseSquarePolicy(s string) (SquarePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "widened", "":
		return Widened, nil
	case "wrap":
		return Wrap, nil
	default:
		return Widened, fmt.Errorf("unknown square policy: %q (want widened or wrap)", s)
	}
}

// Metric scores two images of identical shape
type Metric interface {
	// Compare computes the score and the buffers it was derived from
	Compare(original, processed gocv.Mat) (*Comparison, error)

	// GetName returns the metric name
	GetName() string

	// GetRange returns the value range (min, max)
	GetRange() (float64, float64)
}

var _ Metric = (*MSE)(nil)

// Comparison holds the buffers produced while computing MSE.
// Diff is the unsquared absolute difference; Squared is an 8-bit view of the
// squared difference suitable for display.
type Comparison struct {
	Diff    gocv.Mat
	Squared gocv.Mat
	Value   float64
	Sum     float64
}

// Close releases the comparison buffers
func (c *Comparison) Close() {
	c.Diff.Close()
	c.Squared.Close()
}

// MSE implements Mean Squared Error over every channel of every pixel
type MSE struct {
	policy SquarePolicy
}

// NewMSE creates a new MSE metric
func NewMSE(policy SquarePolicy) *MSE {
	return &MSE{policy: policy}
}

// Compare computes the difference buffers and the MSE of two images that
// already share width, height and channel count.
func (m *MSE) Compare(original, processed gocv.Mat) (*Comparison, error) {
	if original.Empty() || processed.Empty() {
		return nil, fmt.Errorf("empty images")
	}

	if original.Rows() != processed.Rows() || original.Cols() != processed.Cols() {
		return nil, fmt.Errorf("image dimensions mismatch: %dx%d vs %dx%d",
			original.Cols(), original.Rows(), processed.Cols(), processed.Rows())
	}

	if err := core.CheckChannels(original, processed); err != nil {
		return nil, err
	}

	diff := gocv.NewMat()
	if err := gocv.AbsDiff(original, processed, &diff); err != nil {
		diff.Close()
		return nil, fmt.Errorf("absdiff failed: %w", err)
	}

	var (
		squared gocv.Mat
		sum     float64
		err     error
	)
	switch m.policy {
	case Wrap:
		squared, sum, err = squareWrapped(diff)
	default:
		squared, sum, err = squareWidened(diff)
	}
	if err != nil {
		diff.Close()
		return nil, err
	}

	samples := core.DimensionsOf(diff).Samples()

	return &Comparison{
		Diff:    diff,
		Squared: squared,
		Sum:     sum,
		Value:   sum / float64(samples),
	}, nil
}

// squareWidened squares in float64 and saturates the display copy to 8 bits
func squareWidened(diff gocv.Mat) (gocv.Mat, float64, error) {
	diffF := gocv.NewMat()
	defer diffF.Close()
	diff.ConvertTo(&diffF, gocv.MatTypeCV64F)

	squaredF := gocv.NewMat()
	defer squaredF.Close()
	if err := gocv.Multiply(diffF, diffF, &squaredF); err != nil {
		return gocv.NewMat(), 0, fmt.Errorf("square failed: %w", err)
	}

	total := squaredF.Sum()
	sum := total.Val1 + total.Val2 + total.Val3 + total.Val4

	squared := gocv.NewMat()
	squaredF.ConvertTo(&squared, gocv.MatTypeCV8U)

	return squared, sum, nil
}

// squareWrapped squares each 8-bit sample with modulo-256 wraparound
func squareWrapped(diff gocv.Mat) (gocv.Mat, float64, error) {
	src := diff.ToBytes()
	dst := make([]byte, len(src))

	sum := 0.0
	for i, v := range src {
		sq := v * v
		dst[i] = sq
		sum += float64(sq)
	}

	// The Mat borrows dst, so clone before dst can be collected.
	view, err := gocv.NewMatFromBytes(diff.Rows(), diff.Cols(), diff.Type(), dst)
	if err != nil {
		return gocv.NewMat(), 0, fmt.Errorf("failed to build squared buffer: %w", err)
	}
	defer view.Close()
	squared := view.Clone()
	runtime.KeepAlive(dst)

	return squared, sum, nil
}

func (m *MSE) GetName() string {
	return "MSE"
}

// GetRange bounds the score for the configured policy
func (m *MSE) GetRange() (float64, float64) {
	if m.policy == Wrap {
		return 0, 255
	}
	return 0, 255 * 255
}
