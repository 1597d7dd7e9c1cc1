package io

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DiffSuffix is appended to the result image's stem to name the diff image.
const DiffSuffix = "_diff.png"

// OutputPathError reports a result path from which no diff path can be derived
type OutputPathError struct {
	Path string
}

func (e *OutputPathError) Error() string {
	return fmt.Sprintf("cannot derive diff output path from %q", e.Path)
}

// DiffPath derives the diff image path from the result image path by
// stripping the final extension of the file name and appending DiffSuffix.
// Dots in directory names and earlier dots in the file name are preserved.
func DiffPath(resultPath string) (string, error) {
	if resultPath == "" || strings.HasSuffix(resultPath, string(filepath.Separator)) || strings.HasSuffix(resultPath, "/") {
		return "", &OutputPathError{Path: resultPath}
	}

	dir, base := filepath.Split(resultPath)
	if base == "" || base == "." || base == ".." {
		return "", &OutputPathError{Path: resultPath}
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		// dot-file such as ".png"
		stem = base
	}

	return dir + stem + DiffSuffix, nil
}
