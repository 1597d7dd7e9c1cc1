// Image difference pipeline: decode, align, compare, report, persist
package diff

import (
	"context"
	"fmt"
	stdio "io"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"image-mse/internal/core"
	"image-mse/internal/display"
	imageio "image-mse/internal/io"
	"image-mse/internal/metrics"
	"image-mse/internal/storage"
)

// Window labels, in display order.
const (
	LabelOriginal = "original"
	LabelResult   = "result"
	LabelSquared  = "mse"
)

// Loader decodes and encodes image buffers
type Loader interface {
	LoadImage(path string) (gocv.Mat, error)
	EncodePNG(mat gocv.Mat) ([]byte, error)
}

// Options wires a Pipeline. Remote is optional.
type Options struct {
	Loader Loader
	Metric metrics.Metric
	Viewer display.Viewer
	Local  storage.Storage
	Remote storage.Storage
	Stdout stdio.Writer
	Logger logrus.FieldLogger
}

// Pipeline computes the MSE between two images and writes their diff image
type Pipeline struct {
	loader Loader
	metric metrics.Metric
	viewer display.Viewer
	local  storage.Storage
	remote storage.Storage
	stdout stdio.Writer
	logger logrus.FieldLogger
}

// Result summarises a completed run
type Result struct {
	MSE         float64
	Width       int
	Height      int
	Resized     bool
	DiffPath    string
	UploadedURL string
}

func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{
		loader: opts.Loader,
		metric: opts.Metric,
		viewer: opts.Viewer,
		local:  opts.Local,
		remote: opts.Remote,
		stdout: opts.Stdout,
		logger: opts.Logger,
	}
}

// FormatMSE renders the stdout report line without a trailing newline.
// Whole values keep one decimal place, so 0 prints as "0.0".
func FormatMSE(v float64) string {
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		return "mean squared error: " + strconv.FormatFloat(v, 'f', 1, 64)
	}
	return "mean squared error: " + strconv.FormatFloat(v, 'f', -1, 64)
}

// Run executes the pipeline once. The MSE line is printed and the diff image
// written before the preview wait, so an abandoned preview loses no output.
func (p *Pipeline) Run(ctx context.Context, originalPath, resultPath string) (*Result, error) {
	diffPath, err := imageio.DiffPath(resultPath)
	if err != nil {
		return nil, err
	}

	original, result, err := p.load(ctx, originalPath, resultPath)
	if err != nil {
		return nil, err
	}
	defer original.Close()
	defer result.Close()

	if err := core.CheckChannels(original, result); err != nil {
		return nil, err
	}

	done := p.step("align")
	aligned, err := core.Align(original, result)
	done()
	if err != nil {
		return nil, xerrors.Errorf("failed to align images: %w", err)
	}
	defer aligned.Close()

	dims := aligned.Dimensions()
	if aligned.Resized {
		p.logger.WithFields(logrus.Fields{
			"original": core.DimensionsOf(original).String(),
			"result":   core.DimensionsOf(result).String(),
			"aligned":  dims.String(),
		}).Info("Image dimensions differ, resized both with area interpolation")
	}

	done = p.step("compare")
	cmp, err := p.metric.Compare(aligned.Original, aligned.Result)
	done()
	if err != nil {
		return nil, xerrors.Errorf("failed to compare images: %w", err)
	}
	defer cmp.Close()

	defer p.viewer.Close()
	if err := p.show(aligned, cmp); err != nil {
		return nil, err
	}

	if _, err := fmt.Fprintln(p.stdout, FormatMSE(cmp.Value)); err != nil {
		return nil, xerrors.Errorf("failed to write result: %w", err)
	}

	res := &Result{
		MSE:     cmp.Value,
		Width:   dims.Width,
		Height:  dims.Height,
		Resized: aligned.Resized,
	}

	done = p.step("persist")
	err = p.persist(ctx, cmp.Diff, diffPath, res)
	done()
	if err != nil {
		return nil, err
	}

	lo, hi := p.metric.GetRange()
	p.logger.WithFields(logrus.Fields{
		"metric":    p.metric.GetName(),
		"range_min": lo,
		"range_max": hi,
		"mse":       res.MSE,
		"width":     res.Width,
		"height":    res.Height,
		"diff_path": res.DiffPath,
	}).Info("Comparison complete")

	if err := p.viewer.Wait(ctx); err != nil {
		return res, xerrors.Errorf("preview interrupted: %w", err)
	}

	return res, nil
}

// load decodes both inputs concurrently. On error no Mat is leaked.
func (p *Pipeline) load(ctx context.Context, originalPath, resultPath string) (gocv.Mat, gocv.Mat, error) {
	defer p.step("decode")()

	var original, result gocv.Mat
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		original, err = p.loadOne(egCtx, originalPath)
		return err
	})
	eg.Go(func() error {
		var err error
		result, err = p.loadOne(egCtx, resultPath)
		return err
	})

	if err := eg.Wait(); err != nil {
		original.Close()
		result.Close()
		return gocv.Mat{}, gocv.Mat{}, err
	}

	return original, result, nil
}

func (p *Pipeline) loadOne(ctx context.Context, path string) (gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return gocv.NewMat(), err
	}
	mat, err := p.loader.LoadImage(path)
	if err != nil {
		return mat, err
	}
	if err := core.ValidateImage(mat); err != nil {
		return mat, &imageio.DecodeError{Path: path, Err: err}
	}
	return mat, nil
}

func (p *Pipeline) show(aligned *core.Aligned, cmp *metrics.Comparison) error {
	frames := []struct {
		label string
		img   gocv.Mat
	}{
		{LabelOriginal, aligned.Original},
		{LabelResult, aligned.Result},
		{LabelSquared, cmp.Squared},
	}

	for _, f := range frames {
		if err := p.viewer.Show(f.label, f.img); err != nil {
			return xerrors.Errorf("failed to show %s: %w", f.label, err)
		}
	}
	return nil
}

func (p *Pipeline) persist(ctx context.Context, diffMat gocv.Mat, diffPath string, res *Result) error {
	data, err := p.loader.EncodePNG(diffMat)
	if err != nil {
		return xerrors.Errorf("failed to encode diff image: %w", err)
	}

	res.DiffPath, err = p.local.Put(ctx, diffPath, data)
	if err != nil {
		return xerrors.Errorf("failed to save diff image: %w", err)
	}

	if p.remote == nil {
		return nil
	}

	res.UploadedURL, err = p.remote.Put(ctx, filepath.Base(diffPath), data)
	if err != nil {
		return xerrors.Errorf("failed to upload diff image: %w", err)
	}
	p.logger.WithField("url", res.UploadedURL).Info("Diff image uploaded")

	return nil
}

// step logs the duration of a pipeline stage at debug level
func (p *Pipeline) step(name string) func() {
	start := time.Now()
	return func() {
		p.logger.WithFields(logrus.Fields{
			"step":     name,
			"duration": time.Since(start).String(),
		}).Debug("Step finished")
	}
}
