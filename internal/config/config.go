// Runtime configuration and environment defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"image-mse/internal/display"
	"image-mse/internal/metrics"
)

const envPrefix = "MSEDIFF_"

// Config holds everything a run needs besides the two image paths
type Config struct {
	Viewer       string
	NoDisplay    bool
	SquarePolicy string
	S3Bucket     string
	S3Prefix     string
	S3Endpoint   string
	Debug        bool
}

// Default returns the configuration before flags are applied, taking each
// value from its MSEDIFF_* variable when getenv reports one. A nil getenv
// reads the process environment.
func Default(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}

	return Config{
		Viewer:       envOrDefaultValue(getenv, envPrefix+"VIEWER", string(display.KindAuto)),
		SquarePolicy: envOrDefaultValue(getenv, envPrefix+"SQUARE_POLICY", metrics.Widened.String()),
		S3Bucket:     envOrDefaultValue(getenv, envPrefix+"S3_BUCKET", ""),
		S3Prefix:     envOrDefaultValue(getenv, envPrefix+"S3_PREFIX", "diff"),
		S3Endpoint:   envOrDefaultValue(getenv, envPrefix+"S3_ENDPOINT", getenv("S3_ENDPOINT_URL")),
		Debug:        envOrDefaultValue(getenv, envPrefix+"DEBUG", false),
	}
}

// WithEnvFile layers the KEY=VALUE pairs in path beneath getenv: a variable
// getenv reports wins over the file. A missing file leaves getenv unchanged.
func WithEnvFile(path string, getenv func(string) string) (func(string) string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return getenv, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	return func(key string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return values[key]
	}, nil
}

// ViewerKind returns the configured viewer, honouring NoDisplay
func (c Config) ViewerKind() (display.Kind, error) {
	if c.NoDisplay {
		return display.KindNone, nil
	}
	return display.ParseKind(c.Viewer)
}

// Policy returns the configured square policy
func (c Config) Policy() (metrics.SquarePolicy, error) {
	return metrics.ParseSquarePolicy(c.SquarePolicy)
}

// Validate checks enumerated values
func (c Config) Validate() error {
	if _, err := c.ViewerKind(); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

func envOrDefaultValue[T any](getenv func(string) string, key string, defaultValue T) T {
	value := getenv(key)
	if value == "" {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return any(intValue).(T)
		}
	case float64:
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return any(floatValue).(T)
		}
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	case time.Duration:
		if durationValue, err := time.ParseDuration(value); err == nil {
			return any(durationValue).(T)
		}
	}

	return defaultValue
}
