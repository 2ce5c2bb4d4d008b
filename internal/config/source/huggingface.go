package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekisa-team/clearbg/internal/backend"
	"github.com/ekisa-team/clearbg/internal/config"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
	markerFilename    = ".clearbg-downloaded"
	hfBinary          = "hf"
)

// HuggingFaceDownloader downloads a model repository with the `hf` CLI.
type HuggingFaceDownloader struct {
	executor   func() (*backend.Executor, error)
	retryDelay time.Duration
	maxRetries int
}

// NewHuggingFaceDownloader creates a downloader that shells out through runner.
// A nil runner resolves the hf binary in PATH when a download is needed.
func NewHuggingFaceDownloader(runner backend.CommandRunner) *HuggingFaceDownloader {
	d := &HuggingFaceDownloader{
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
	}

	if runner == nil {
		d.executor = func() (*backend.Executor, error) {
			return backend.NewExecutor(hfBinary, defaultTimeout)
		}
	} else {
		d.executor = func() (*backend.Executor, error) {
			return backend.NewExecutorWithRunner(hfBinary, defaultTimeout, runner), nil
		}
	}

	return d
}

// Download downloads a Hugging Face repository to targetDir/<repo> and returns that directory.
// The boolean result reports whether an up-to-date copy was already present.
func (d *HuggingFaceDownloader) Download(ctx context.Context, src config.ModelSource, targetDir string) (string, bool, error) {
	hfSource, ok := src.(config.HuggingFaceSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	repo := strings.TrimSpace(hfSource.Repo)
	if repo == "" {
		return "", false, fmt.Errorf("invalid repo name: %q", repo)
	}

	fullPath := filepath.Join(targetDir, repo)
	markerPath := filepath.Join(fullPath, markerFilename)
	markerContent := d.markerContent(repo, hfSource.Revision)

	if !hfSource.ForceDownload {
		if _, err := os.Stat(markerPath); err == nil {
			if !d.shouldRedownload(markerPath, markerContent) {
				slog.Info("Model already downloaded and up-to-date (marker match), skipping", "repo", repo, "path", fullPath)
				return fullPath, true, nil
			}
		}
	}

	executor, err := d.executor()
	if err != nil {
		return "", false, fmt.Errorf("hf CLI is required to download %s: %w", repo, err)
	}

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	args := d.buildArgs(hfSource, repo, fullPath)

	var lastErr error
	for attempt := range d.maxRetries {
		if attempt > 0 {
			slog.Info("Retrying download", "repo", repo, "attempt", attempt+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(d.retryDelay):
			}
		} else {
			slog.Info("Downloading model", "repo", repo, "path", fullPath)
		}

		stdout, stderr, err := executor.Execute(ctx, args, nil)
		if err == nil {
			if err := os.WriteFile(markerPath, []byte(markerContent), 0o644); err != nil {
				slog.Warn("Failed to write download marker", "path", markerPath, "error", err)
			} else {
				slog.Debug("Download marker updated", "path", markerPath)
			}

			slog.Info("Model downloaded successfully", "repo", repo, "path", fullPath, "attempt", attempt+1)
			return fullPath, false, nil
		}

		lastErr = fmt.Errorf("%w: %s", err, strings.TrimSpace(string(stderr)))
		slog.Error("Failed to download model", "repo", repo, "path", fullPath, "attempt", attempt+1, "error", err, "output", string(stdout))

		if errors.Is(ctx.Err(), context.Canceled) {
			return "", false, fmt.Errorf("download canceled: %w", err)
		}
	}

	return "", false, lastErr
}

func (d *HuggingFaceDownloader) buildArgs(src config.HuggingFaceSource, repo, fullPath string) []string {
	args := []string{
		"download",
		repo,
		"--local-dir", fullPath,
	}

	if src.Revision != "" {
		args = append(args, "--revision", src.Revision)
	}
	if src.RepoType != "" {
		args = append(args, "--repo-type", src.RepoType)
	}
	for _, inc := range src.Include {
		args = append(args, "--include", inc)
	}
	for _, exc := range src.Exclude {
		args = append(args, "--exclude", exc)
	}
	if src.ForceDownload {
		args = append(args, "--force-download")
	}
	if src.Token != "" {
		args = append(args, "--token", src.Token)
	}
	if src.MaxWorkers > 0 {
		args = append(args, "--max-workers", fmt.Sprintf("%d", src.MaxWorkers))
	}

	return args
}

// markerContent generates the expected content of the marker file.
// Used to detect if we need to redownload due to config change.
func (d *HuggingFaceDownloader) markerContent(repo, revision string) string {
	return fmt.Sprintf("repo: %s\nrevision: %s\n", repo, revision)
}

// shouldRedownload checks if the model should be redownloaded by comparing marker content.
func (d *HuggingFaceDownloader) shouldRedownload(markerPath, expectedContent string) bool {
	content, err := os.ReadFile(markerPath)
	if err != nil {
		slog.Debug("Marker file missing or unreadable", "path", markerPath, "error", err)
		return true
	}

	if string(content) != expectedContent {
		slog.Info("Model config changed (marker mismatch), will redownload",
			"marker_path", markerPath,
			"expected_snippet", expectedContent,
			"actual_snippet", string(content))
		return true
	}

	return false
}
