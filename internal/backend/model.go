package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrModelFileNotFound is returned when no model file can be located.
var ErrModelFileNotFound = errors.New("model file not found")

// ModelLocator is implemented by backends that load a single file out of a
// downloaded model directory.
type ModelLocator interface {
	// ResolveModelPath returns the model file to load inside basePath.
	ResolveModelPath(basePath string) (string, error)
}

// FindModelFile walks basePath for files with extension ext. A file whose stem
// equals prefer (case-insensitively) wins, otherwise the first file in lexical
// walk order is returned.
func FindModelFile(basePath, ext, prefer string) (string, error) {
	var first, match string

	err := filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}

		if first == "" {
			first = path
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if prefer != "" && strings.EqualFold(stem, prefer) {
			match = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", basePath, err)
	}

	switch {
	case match != "":
		return match, nil
	case first != "":
		return first, nil
	default:
		return "", fmt.Errorf("%w: no %s file in %s", ErrModelFileNotFound, ext, basePath)
	}
}
