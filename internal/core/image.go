// Core image buffer checks and dimension reconciliation
package core

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Dimensions describes the shape of an image buffer
type Dimensions struct {
	Width    int
	Height   int
	Channels int
}

// DimensionsOf reads the shape of a Mat
func DimensionsOf(mat gocv.Mat) Dimensions {
	return Dimensions{
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: mat.Channels(),
	}
}

// Samples returns the number of scalar samples (pixels times channels)
func (d Dimensions) Samples() int {
	return d.Width * d.Height * d.Channels
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%dx%d", d.Width, d.Height, d.Channels)
}

// ChannelMismatchError reports two inputs with different channel counts
type ChannelMismatchError struct {
	Original int
	Result   int
}

func (e *ChannelMismatchError) Error() string {
	return fmt.Sprintf("channel count mismatch: original has %d, result has %d", e.Original, e.Result)
}

// ValidateImage validates an OpenCV Mat for basic requirements
func ValidateImage(mat gocv.Mat) error {
	if mat.Empty() {
		return fmt.Errorf("image is empty")
	}

	if mat.Cols() <= 0 || mat.Rows() <= 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", mat.Cols(), mat.Rows())
	}

	channels := mat.Channels()
	if channels < 1 || channels > 4 {
		return fmt.Errorf("unsupported channel count: %d", channels)
	}

	return nil
}

// CheckChannels requires both images to share a channel count
func CheckChannels(original, result gocv.Mat) error {
	if original.Channels() != result.Channels() {
		return &ChannelMismatchError{
			Original: original.Channels(),
			Result:   result.Channels(),
		}
	}
	return nil
}

// AlignedSize returns the common (width, height) of two images
func AlignedSize(original, result Dimensions) image.Point {
	return image.Point{
		X: min(original.Width, result.Width),
		Y: min(original.Height, result.Height),
	}
}

// Aligned holds two buffers of identical width and height.
// When Resized is false the buffers are the caller's own Mats and Close
// leaves them alone.
type Aligned struct {
	Original gocv.Mat
	Result   gocv.Mat
	Resized  bool
}

// Close releases the resized copies, if any
func (a *Aligned) Close() {
	if !a.Resized {
		return
	}
	a.Original.Close()
	a.Result.Close()
}

// Dimensions returns the shape shared by both aligned buffers
func (a *Aligned) Dimensions() Dimensions {
	return DimensionsOf(a.Original)
}

// Align shrinks both images to their shared minimum width and height using
// area interpolation. Images that already match are passed through untouched.
func Align(original, result gocv.Mat) (*Aligned, error) {
	o := DimensionsOf(original)
	r := DimensionsOf(result)

	if o.Width == r.Width && o.Height == r.Height {
		return &Aligned{Original: original, Result: result}, nil
	}

	size := AlignedSize(o, r)

	alignedOriginal := gocv.NewMat()
	if err := gocv.Resize(original, &alignedOriginal, size, 0, 0, gocv.InterpolationArea); err != nil {
		alignedOriginal.Close()
		return nil, fmt.Errorf("failed to resize original to %dx%d: %w", size.X, size.Y, err)
	}

	alignedResult := gocv.NewMat()
	if err := gocv.Resize(result, &alignedResult, size, 0, 0, gocv.InterpolationArea); err != nil {
		alignedOriginal.Close()
		alignedResult.Close()
		return nil, fmt.Errorf("failed to resize result to %dx%d: %w", size.X, size.Y, err)
	}

	return &Aligned{
		Original: alignedOriginal,
		Result:   alignedResult,
		Resized:  true,
	}, nil
}
