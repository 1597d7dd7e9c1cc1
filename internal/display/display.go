// Package display provides presentation sinks for preview windows.
package display

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Viewer shows labelled image buffers and waits for the user to dismiss them.
type Viewer interface {
	// Show presents img under label. The viewer may copy img; the caller
	// keeps ownership.
	Show(label string, img gocv.Mat) error
	// Wait blocks until the user dismisses the preview or ctx is done.
	Wait(ctx context.Context) error
	// Close releases any windows.
	Close() error
}

// Kind names a viewer implementation
type Kind string

const (
	KindAuto    Kind = "auto"
	KindHighGUI Kind = "highgui"
	KindFyne    Kind = "fyne"
	KindNone    Kind = "none"
)

// ParseKind validates a viewer name
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindAuto, KindHighGUI, KindFyne, KindNone:
		return k, nil
	case "":
		return KindAuto, nil
	default:
		return "", fmt.Errorf("unknown viewer: %q (want auto, highgui, fyne or none)", s)
	}
}

// HasDisplay reports whether a graphical display looks available
func HasDisplay(getenv func(string) string) bool {
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd", "dragonfly":
		return getenv("DISPLAY") != "" || getenv("WAYLAND_DISPLAY") != ""
	default:
		return true
	}
}

// Resolve turns KindAuto into a concrete kind
func Resolve(k Kind, getenv func(string) string) Kind {
	if k != KindAuto {
		return k
	}
	if HasDisplay(getenv) {
		return KindHighGUI
	}
	return KindNone
}

// New builds the viewer for k. KindAuto must be resolved first.
func New(k Kind, logger logrus.FieldLogger) (Viewer, error) {
	switch k {
	case KindHighGUI:
		return NewHighGUI(logger), nil
	case KindFyne:
		return NewFyne(logger), nil
	case KindNone:
		return NewNoop(), nil
	default:
		return nil, fmt.Errorf("viewer %q cannot be constructed", k)
	}
}

// Noop discards everything. It records the labels it was shown.
type Noop struct {
	Labels []string
}

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Show(label string, img gocv.Mat) error {
	n.Labels = append(n.Labels, label)
	return nil
}

func (n *Noop) Wait(ctx context.Context) error {
	return nil
}

func (n *Noop) Close() error {
	return nil
}
