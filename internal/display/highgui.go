package display

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// pollMillis bounds how long WaitKey blocks before cancellation is rechecked.
const pollMillis = 100

// HighGUI shows images in OpenCV windows. Must be used from the main
// OS thread.
type HighGUI struct {
	logger  logrus.FieldLogger
	windows []*gocv.Window
}

func NewHighGUI(logger logrus.FieldLogger) *HighGUI {
	return &HighGUI{logger: logger}
}

func (h *HighGUI) Show(label string, img gocv.Mat) error {
	if img.Empty() {
		return errors.New("cannot show empty image")
	}

	window := gocv.NewWindow(label)
	window.IMShow(img)
	h.windows = append(h.windows, window)

	h.logger.WithFields(logrus.Fields{
		"window": label,
		"width":  img.Cols(),
		"height": img.Rows(),
	}).Debug("Window opened")

	return nil
}

// Wait returns on the first key press, when every window has been closed, or
// when ctx is done.
func (h *HighGUI) Wait(ctx context.Context) error {
	if len(h.windows) == 0 {
		return nil
	}

	h.logger.Info("Press any key in a preview window to continue")
	for {
		if key := h.windows[0].WaitKey(pollMillis); key >= 0 {
			h.logger.WithField("key", key).Debug("Key pressed")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !h.anyVisible() {
			return nil
		}
	}
}

func (h *HighGUI) anyVisible() bool {
	for _, w := range h.windows {
		if w.GetWindowProperty(gocv.WindowPropertyVisible) >= 1 {
			return true
		}
	}
	return false
}

func (h *HighGUI) Close() error {
	var errs []error
	for _, w := range h.windows {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.windows = nil
	return errors.Join(errs...)
}
