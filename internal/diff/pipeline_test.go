package diff_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"gocv.io/x/gocv"

	"image-mse/internal/diff"
	"image-mse/internal/display"
	imageio "image-mse/internal/io"
	"image-mse/internal/metrics"
	"image-mse/internal/storage"
)

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (m *memoryStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "mem://" + key, nil
}

type harness struct {
	pipeline *diff.Pipeline
	viewer   *display.Noop
	stdout   *bytes.Buffer
	remote   *memoryStorage
	hook     *test.Hook
}

func newHarness(t *testing.T, policy metrics.SquarePolicy, withRemote bool) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()

	local, err := storage.NewFileStorage(context.Background(), storage.FileConfig{})
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		viewer: display.NewNoop(),
		stdout: &bytes.Buffer{},
		hook:   hook,
	}
	opts := diff.Options{
		Loader: imageio.NewImageLoader(logger),
		Metric: metrics.NewMSE(policy),
		Viewer: h.viewer,
		Local:  local,
		Stdout: h.stdout,
		Logger: logger,
	}
	if withRemote {
		h.remote = newMemoryStorage()
		opts.Remote = h.remote
	}
	h.pipeline = diff.NewPipeline(opts)
	return h
}

func writeSolid(t *testing.T, dir, name string, width, height int, value float64) string {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	path := filepath.Join(dir, name)
	if !gocv.IMWrite(path, mat) {
		t.Fatalf("failed to write fixture %s", path)
	}
	return path
}

func readDiff(t *testing.T, path string) gocv.Mat {
	t.Helper()
	mat := gocv.IMRead(path, gocv.IMReadUnchanged)
	if mat.Empty() {
		t.Fatalf("diff image %s missing or unreadable", path)
	}
	return mat
}

func TestPipelineRun(t *testing.T) {
	ctx := context.Background()

	t.Run("IdenticalBlack", func(t *testing.T) {
		dir := t.TempDir()
		original := writeSolid(t, dir, "original.png", 10, 10, 0)
		result := writeSolid(t, dir, "result.png", 10, 10, 0)

		h := newHarness(t, metrics.Widened, false)
		res, err := h.pipeline.Run(ctx, original, result)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		if res.MSE != 0 {
			t.Errorf("Expected MSE 0, got %f", res.MSE)
		}
		if diff := cmp.Diff("mean squared error: 0.0\n", h.stdout.String()); diff != "" {
			t.Errorf("stdout (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(filepath.Join(dir, "result_diff.png"), res.DiffPath); diff != "" {
			t.Errorf("diff path (-want +got):\n%s", diff)
		}

		saved := readDiff(t, res.DiffPath)
		defer saved.Close()
		flat := saved.Reshape(1, 0)
		defer flat.Close()
		if n := gocv.CountNonZero(flat); n != 0 {
			t.Errorf("Expected all-zero diff image, got %d non-zero samples", n)
		}

		if diff := cmp.Diff([]string{"original", "result", "mse"}, h.viewer.Labels); diff != "" {
			t.Errorf("windows (-want +got):\n%s", diff)
		}
	})

	t.Run("BlackWhiteWidened", func(t *testing.T) {
		dir := t.TempDir()
		original := writeSolid(t, dir, "black.png", 10, 10, 0)
		result := writeSolid(t, dir, "white.png", 10, 10, 255)

		h := newHarness(t, metrics.Widened, false)
		res, err := h.pipeline.Run(ctx, original, result)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		if res.MSE != 65025 {
			t.Errorf("Expected MSE 65025, got %f", res.MSE)
		}
		if diff := cmp.Diff("mean squared error: 65025.0\n", h.stdout.String()); diff != "" {
			t.Errorf("stdout (-want +got):\n%s", diff)
		}

		saved := readDiff(t, res.DiffPath)
		defer saved.Close()
		if diff := cmp.Diff(gocv.Vecb{255, 255, 255}, saved.GetVecbAt(9, 9)); diff != "" {
			t.Errorf("diff sample (-want +got):\n%s", diff)
		}
	})

	t.Run("BlackWhiteWrap", func(t *testing.T) {
		dir := t.TempDir()
		original := writeSolid(t, dir, "black.png", 10, 10, 0)
		result := writeSolid(t, dir, "white.png", 10, 10, 255)

		h := newHarness(t, metrics.Wrap, false)
		res, err := h.pipeline.Run(ctx, original, result)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		if res.MSE != 225 {
			t.Errorf("Expected MSE 225, got %f", res.MSE)
		}
		if diff := cmp.Diff("mean squared error: 225.0\n", h.stdout.String()); diff != "" {
			t.Errorf("stdout (-want +got):\n%s", diff)
		}
	})

	t.Run("WideImage", func(t *testing.T) {
		dir := t.TempDir()
		original := writeSolid(t, dir, "wide.png", 20000, 2, 0)
		result := writeSolid(t, dir, "wide_result.png", 20000, 2, 3)

		h := newHarness(t, metrics.Widened, false)
		res, err := h.pipeline.Run(ctx, original, result)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		if res.Width != 20000 || res.Height != 2 || res.Resized {
			t.Errorf("Expected unresized 20000x2, got %dx%d resized=%v", res.Width, res.Height, res.Resized)
		}
		if res.MSE != 9 {
			t.Errorf("Expected MSE 9, got %f", res.MSE)
		}
	})

	t.Run("CompletionLogNamesMetric", func(t *testing.T) {
		dir := t.TempDir()
		original := writeSolid(t, dir, "original.png", 4, 4, 0)
		result := writeSolid(t, dir, "result.png", 4, 4, 1)

		h := newHarness(t, metrics.Wrap, false)
		if _, err := h.pipeline.Run(ctx, original, result); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		var found bool
		for _, e := range h.hook.AllEntries() {
			if e.Message != "Comparison complete" {
				continue
			}
			found = true
			want := map[string]interface{}{"metric": "MSE", "range_min": 0.0, "range_max": 255.0}
			got := map[string]interface{}{
				"metric":    e.Data["metric"],
				"range_min": e.Data["range_min"],
				"range_max": e.Data["range_max"],
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("log fields (-want +got):\n%s", diff)
			}
		}
		if !found {
			t.Errorf("Expected a Comparison complete entry")
		}
	})

	t.Run("Symmetric", func(t *testing.T) {
		dir := t.TempDir()
		a := writeSolid(t, dir, "a.png", 12, 8, 30)
		b := writeSolid(t, dir, "b.png", 12, 8, 200)

		ab, err := newHarness(t, metrics.Widened, false).pipeline.Run(ctx, a, b)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		ba, err := newHarness(t, metrics.Widened, false).pipeline.Run(ctx, b, a)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if ab.MSE != ba.MSE {
			t.Errorf("Expected symmetric MSE, got %f and %f", ab.MSE, ba.MSE)
		}
	})

	t.Run("MismatchedDimensions", func(t *testing.T) {
		dir := t.TempDir()
		original := writeSolid(t, dir, "tall.png", 10, 20, 50)
		result := writeSolid(t, dir, "square.png", 10, 10, 50)

		h := newHarness(t, metrics.Widened, false)
		res, err := h.pipeline.Run(ctx, original, result)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		want := &diff.Result{
			MSE:      0,
			Width:    10,
			Height:   10,
			Resized:  true,
			DiffPath: filepath.Join(dir, "square_diff.png"),
		}
		if d := cmp.Diff(want, res); d != "" {
			t.Errorf("result (-want +got):\n%s", d)
		}

		saved := readDiff(t, res.DiffPath)
		defer saved.Close()
		if saved.Cols() != 10 || saved.Rows() != 10 {
			t.Errorf("Expected 10x10 diff image, got %dx%d", saved.Cols(), saved.Rows())
		}
	})

	t.Run("DecodeError", func(t *testing.T) {
		dir := t.TempDir()
		original := writeSolid(t, dir, "original.png", 4, 4, 0)
		missing := filepath.Join(dir, "missing.png")

		h := newHarness(t, metrics.Widened, false)
		_, err := h.pipeline.Run(ctx, original, missing)

		var decodeErr *imageio.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("Expected DecodeError, got %v", err)
		}
		if decodeErr.Path != missing {
			t.Errorf("Expected error to name %s, got %s", missing, decodeErr.Path)
		}
		if h.stdout.Len() != 0 {
			t.Errorf("Expected no stdout output, got %q", h.stdout.String())
		}
		if len(h.viewer.Labels) != 0 {
			t.Errorf("Expected no windows, got %v", h.viewer.Labels)
		}
		if _, err := os.Stat(filepath.Join(dir, "missing_diff.png")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Expected no diff image to be written")
		}
	})

	t.Run("OutputPathError", func(t *testing.T) {
		dir := t.TempDir()
		original := writeSolid(t, dir, "original.png", 4, 4, 0)

		h := newHarness(t, metrics.Widened, false)
		_, err := h.pipeline.Run(ctx, original, dir+string(filepath.Separator))

		var pathErr *imageio.OutputPathError
		if !errors.As(err, &pathErr) {
			t.Fatalf("Expected OutputPathError, got %v", err)
		}
	})

	t.Run("RemoteUpload", func(t *testing.T) {
		dir := t.TempDir()
		original := writeSolid(t, dir, "original.png", 6, 6, 0)
		result := writeSolid(t, dir, "result.v2.png", 6, 6, 10)

		h := newHarness(t, metrics.Widened, true)
		res, err := h.pipeline.Run(ctx, original, result)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		if diff := cmp.Diff("mem://result.v2_diff.png", res.UploadedURL); diff != "" {
			t.Errorf("uploaded url (-want +got):\n%s", diff)
		}

		local, err := os.ReadFile(res.DiffPath)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(local, h.remote.objects["result.v2_diff.png"]); diff != "" {
			t.Errorf("uploaded bytes differ from local file")
		}
	})
}

func TestFormatMSE(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "mean squared error: 0.0"},
		{225, "mean squared error: 225.0"},
		{65025, "mean squared error: 65025.0"},
		{12.5, "mean squared error: 12.5"},
		{1.0 / 3.0, "mean squared error: 0.3333333333333333"},
		{math.Inf(1), "mean squared error: +Inf"},
	}

	for _, tt := range tests {
		if got := diff.FormatMSE(tt.in); got != tt.want {
			t.Errorf("FormatMSE(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
