package display

import (
	"context"
	"fmt"
	"image"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const fyneAppID = "com.image-mse.preview"

type fyneFrame struct {
	label string
	img   image.Image
}

// Fyne shows images in fyne windows. Images are converted on Show; the
// windows only exist for the duration of Wait.
type Fyne struct {
	logger logrus.FieldLogger
	frames []fyneFrame
}

func NewFyne(logger logrus.FieldLogger) *Fyne {
	return &Fyne{logger: logger}
}

func (f *Fyne) Show(label string, img gocv.Mat) error {
	if img.Empty() {
		return fmt.Errorf("cannot show empty image")
	}

	converted, err := img.ToImage()
	if err != nil {
		return fmt.Errorf("failed to convert %s for display: %w", label, err)
	}

	f.frames = append(f.frames, fyneFrame{label: label, img: converted})
	return nil
}

// Wait runs the fyne event loop until a key is typed in any window, any
// window is closed, or ctx is done.
func (f *Fyne) Wait(ctx context.Context) error {
	if len(f.frames) == 0 {
		return nil
	}

	a := app.NewWithID(fyneAppID)

	var once sync.Once
	quit := func() { once.Do(a.Quit) }

	for _, frame := range f.frames {
		w := a.NewWindow(frame.label)

		img := canvas.NewImageFromImage(frame.img)
		img.FillMode = canvas.ImageFillOriginal
		img.ScaleMode = canvas.ImageScalePixels
		w.SetContent(img)

		bounds := frame.img.Bounds()
		w.Resize(fyne.NewSize(float32(bounds.Dx()), float32(bounds.Dy())))
		w.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
			f.logger.WithField("key", ev.Name).Debug("Key pressed")
			quit()
		})
		w.SetOnClosed(quit)
		w.Show()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			fyne.Do(quit)
		case <-done:
		}
	}()

	f.logger.Info("Press any key in a preview window to continue")
	a.Run()

	return ctx.Err()
}

func (f *Fyne) Close() error {
	f.frames = nil
	return nil
}
