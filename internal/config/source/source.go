package source

import (
	"context"
	"fmt"
	"os"

	"github.com/ekisa-team/clearbg/internal/config"
)

// Downloader fetches model artifacts into a local directory.
type Downloader interface {
	// Download fetches src below targetDir and returns the local directory.
	// The boolean result reports whether a cached copy was reused.
	Download(ctx context.Context, src config.ModelSource, targetDir string) (string, bool, error)
}

// GetDownloader returns the downloader for a source type.
func GetDownloader(_ context.Context, sourceType config.SourceType) (Downloader, error) {
	switch sourceType {
	case config.SourceTypeHuggingFace:
		return NewHuggingFaceDownloader(nil), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sourceType)
	}
}

// EnsureModelsDirectory creates the models directory if needed.
func EnsureModelsDirectory(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}
	return nil
}
