// Command-line surface for the image difference calculator
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"image-mse/internal/config"
	"image-mse/internal/diff"
	"image-mse/internal/display"
	imageio "image-mse/internal/io"
	"image-mse/internal/metrics"
	"image-mse/internal/storage"
)

const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

const programName = "msediff"

// ErrUsage is returned when the command line is malformed
var ErrUsage = errors.New("usage error")

// Runner performs one comparison with a resolved configuration
type Runner func(ctx context.Context, env Env, cfg config.Config, logger *logrus.Logger, originalPath, resultPath string) error

// Env carries the process surroundings into Execute
type Env struct {
	Args      []string
	Stdout    io.Writer
	Stderr    io.Writer
	NewLogger func(debug bool, out io.Writer) *logrus.Logger

	// Getenv supplies defaults and display detection. Nil reads the process
	// environment.
	Getenv func(string) string

	// EnvFile is layered beneath Getenv before defaults are read. Empty
	// disables loading.
	EnvFile string

	// Run defaults to RunPipeline.
	Run Runner
}

// UsageLine is printed when the argument count is wrong
func UsageLine(program string) string {
	return fmt.Sprintf("Command should be of structure: %s {original image} {resulting image}", program)
}

// Execute runs the command and returns the process exit code
func Execute(ctx context.Context, env Env) int {
	if env.Run == nil {
		env.Run = RunPipeline
	}
	if env.Getenv == nil {
		env.Getenv = os.Getenv
	}

	if env.EnvFile != "" {
		getenv, err := config.WithEnvFile(env.EnvFile, env.Getenv)
		if err != nil {
			fmt.Fprintf(env.Stderr, "Error: %v\n", err)
			return ExitFailure
		}
		env.Getenv = getenv
	}

	var logger *logrus.Logger
	cmd := newRootCommand(env, &logger)
	// cobra falls back to os.Args when given nil
	args := env.Args
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case logger != nil:
		logger.WithError(err).Error("Comparison failed")
		return ExitFailure
	default:
		fmt.Fprintf(env.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
}

func newRootCommand(env Env, logger **logrus.Logger) *cobra.Command {
	cfg := config.Default(env.Getenv)

	cmd := &cobra.Command{
		Use:   programName + " [flags] <original image> <resulting image>",
		Short: "Compute the mean squared error between two images",
		Long: `Loads two images, shrinks both to their common size when they differ,
prints the mean squared error over every channel and writes the absolute
difference next to the resulting image as <name>_diff.png.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				fmt.Fprintln(env.Stderr, UsageLine(programName))
				return ErrUsage
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(env.Stderr, "Error: %v\n", err)
				return fmt.Errorf("%w: %v", ErrUsage, err)
			}

			*logger = env.NewLogger(cfg.Debug, env.Stderr)
			(*logger).WithFields(logrus.Fields{
				"original":      args[0],
				"result":        args[1],
				"viewer":        cfg.Viewer,
				"square_policy": cfg.SquarePolicy,
				"debug_mode":    cfg.Debug,
			}).Debug("Starting comparison")

			return env.Run(cmd.Context(), env, cfg, *logger, args[0], args[1])
		},
	}

	cmd.SetOut(env.Stdout)
	cmd.SetErr(env.Stderr)
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		fmt.Fprintf(env.Stderr, "Error: %v\n", err)
		fmt.Fprintln(env.Stderr, UsageLine(programName))
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	flags := cmd.Flags()
	flags.StringVar(&cfg.Viewer, "viewer", cfg.Viewer, "Preview windows: auto, highgui, fyne or none")
	flags.BoolVar(&cfg.NoDisplay, "no-display", cfg.NoDisplay, "Skip preview windows (same as --viewer none)")
	flags.StringVar(&cfg.SquarePolicy, "square-policy", cfg.SquarePolicy, "How differences are squared: widened or wrap (8-bit wraparound)")
	flags.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "Also upload the diff image to this S3 bucket")
	flags.StringVar(&cfg.S3Prefix, "s3-prefix", cfg.S3Prefix, "Key prefix for uploaded diff images")
	flags.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "Custom S3 endpoint URL, e.g. for MinIO")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug mode with verbose logging")

	return cmd
}

// RunPipeline wires the production collaborators and runs one comparison
func RunPipeline(ctx context.Context, env Env, cfg config.Config, logger *logrus.Logger, originalPath, resultPath string) error {
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	kind, err := cfg.ViewerKind()
	if err != nil {
		return err
	}
	resolved := display.Resolve(kind, env.Getenv)
	if kind == display.KindAuto && resolved == display.KindNone {
		logger.Warn("No display available, preview windows disabled")
	}
	viewer, err := display.New(resolved, logger)
	if err != nil {
		return err
	}

	local, err := storage.NewFileStorage(ctx, storage.FileConfig{})
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}

	var remote storage.Storage
	if cfg.S3Bucket != "" {
		remote, err = storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 storage backend: %w", err)
		}
	}

	pipeline := diff.NewPipeline(diff.Options{
		Loader: imageio.NewImageLoader(logger),
		Metric: metrics.NewMSE(policy),
		Viewer: viewer,
		Local:  local,
		Remote: remote,
		Stdout: env.Stdout,
		Logger: logger,
	})

	_, err = pipeline.Run(ctx, originalPath, resultPath)
	return err
}
