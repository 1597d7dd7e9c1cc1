// Image loading and encoding
package io

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeError reports a path that could not be read or decoded as an image
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var errEmptyDecode = errors.New("no decoder produced pixels")

// ImageLoader handles image file operations
type ImageLoader struct {
	logger logrus.FieldLogger
}

func NewImageLoader(logger logrus.FieldLogger) *ImageLoader {
	return &ImageLoader{
		logger: logger,
	}
}

// LoadImage decodes path into a 3-channel 8-bit BGR Mat. OpenCV is tried
// first; files it cannot read go through the Go image decoders.
func (il *ImageLoader) LoadImage(path string) (gocv.Mat, error) {
	il.logger.WithField("filepath", path).Debug("Loading image")

	info, err := os.Stat(path)
	if err != nil {
		return gocv.NewMat(), &DecodeError{Path: path, Err: err}
	}
	if info.IsDir() {
		return gocv.NewMat(), &DecodeError{Path: path, Err: fmt.Errorf("is a directory")}
	}

	if !il.isSupportedImageFormat(path) {
		il.logger.WithFields(logrus.Fields{
			"filepath": path,
			"known":    strings.Join(supportedExtensions, " "),
		}).Warn("Unrecognised image extension, attempting decode anyway")
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	decoder := "opencv"
	if mat.Empty() {
		mat.Close()
		mat, err = il.decodeWithGo(path)
		if err != nil {
			return gocv.NewMat(), &DecodeError{Path: path, Err: err}
		}
		decoder = "go"
	}

	il.logger.WithFields(logrus.Fields{
		"filepath": path,
		"decoder":  decoder,
		"width":    mat.Cols(),
		"height":   mat.Rows(),
		"channels": mat.Channels(),
	}).Info("Image loaded successfully")

	return mat, nil
}

func (il *ImageLoader) decodeWithGo(path string) (gocv.Mat, error) {
	file, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return gocv.NewMat(), err
	}

	// ImageToMatRGB yields BGR channel order, matching IMRead.
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to convert %s image: %w", format, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), errEmptyDecode
	}

	return mat, nil
}

// EncodePNG encodes mat as PNG bytes
func (il *ImageLoader) EncodePNG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("cannot encode empty image")
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory released by Close.
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	il.logger.WithFields(logrus.Fields{
		"width":  mat.Cols(),
		"height": mat.Rows(),
		"bytes":  len(data),
	}).Debug("Image encoded")

	return data, nil
}

func (il *ImageLoader) isSupportedImageFormat(path string) bool {
	ext := strings.ToLower(getFileExtension(path))
	for _, format := range supportedExtensions {
		if ext == format {
			return true
		}
	}

	return false
}

var supportedExtensions = []string{".jpg", ".jpeg", ".png", ".tiff", ".tif", ".bmp", ".webp", ".gif"}

func getFileExtension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	return ""
}
