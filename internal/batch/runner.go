// Package batch runs every image of a directory through every model of the API
// and lays the results out side by side for comparison.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// SupportedExtensions are the image extensions picked up from the input directory.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// Options configures a run.
type Options struct {
	InputDir  string
	OutputDir string
	Models    []string
}

// Timing is the outcome of one image and model.
type Timing struct {
	Err     error
	Elapsed time.Duration
}

// ImageResult holds the per-model outcome of one image.
type ImageResult struct {
	Timings map[string]Timing
	Name    string
}

// Report summarizes a run.
type Report struct {
	Models    []string
	Images    []ImageResult
	OutputDir string
	Elapsed   time.Duration
}

// Succeeded counts successful calls across all images and models.
func (r *Report) Succeeded() int {
	n := 0
	for _, img := range r.Images {
		for _, t := range img.Timings {
			if t.Err == nil {
				n++
			}
		}
	}
	return n
}

// Average returns the mean time of successful calls for model and their count.
func (r *Report) Average(model string) (time.Duration, int) {
	var total time.Duration
	n := 0
	for _, img := range r.Images {
		if t, ok := img.Timings[model]; ok && t.Err == nil {
			total += t.Elapsed
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return total / time.Duration(n), n
}

// FindImages lists the supported images directly inside dir, sorted by name.
func FindImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			images = append(images, filepath.Join(dir, e.Name()))
		}
	}

	slices.Sort(images)
	return images, nil
}

// Run processes every image with every model, writing <out>/<stem>/original.<ext>
// and <out>/<stem>/<model>.png.
func Run(ctx context.Context, client *Client, opts Options) (*Report, error) {
	images, err := FindImages(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("scan input directory: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images found in %s", opts.InputDir)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	report := &Report{Models: opts.Models, OutputDir: opts.OutputDir}
	start := time.Now()

	for i, path := range images {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		base := filepath.Base(path)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		slog.Info("Processing image", "index", i+1, "total", len(images), "image", base)

		dir := filepath.Join(opts.OutputDir, stem)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return report, err
		}
		if err := copyFile(path, filepath.Join(dir, "original"+filepath.Ext(base))); err != nil {
			return report, fmt.Errorf("copy original: %w", err)
		}

		result := ImageResult{Name: stem, Timings: make(map[string]Timing, len(opts.Models))}
		for _, m := range opts.Models {
			callStart := time.Now()
			data, err := client.Remove(ctx, path, m)
			elapsed := time.Since(callStart)

			if err == nil {
				err = os.WriteFile(filepath.Join(dir, m+".png"), data, 0o644)
			}
			if err != nil {
				slog.Warn("Model failed", "image", base, "model", m, "error", err, "elapsed", elapsed)
			} else {
				slog.Info("Model finished", "image", base, "model", m, "elapsed", elapsed)
			}

			result.Timings[m] = Timing{Elapsed: elapsed, Err: err}
		}

		report.Images = append(report.Images, result)
	}

	report.Elapsed = time.Since(start)
	return report, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
