package rembg

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/ekisa-team/clearbg/internal/backend"
	"github.com/ekisa-team/clearbg/internal/config"
	"github.com/ekisa-team/clearbg/internal/config/source"
	"github.com/ekisa-team/clearbg/internal/imageutil"
	"github.com/ekisa-team/clearbg/internal/xfs"
)

// BackendName is the model selector of this backend.
const BackendName = "rembg"

// ErrModelFileNotFound is returned when no .onnx file can be located.
var ErrModelFileNotFound = backend.ErrModelFileNotFound

// Engine runs U²-Net style segmentation on a single image.
type Engine interface {
	RemoveBackground(img image.Image) (image.Image, error)
	Close()
}

// EngineLoader opens an Engine from a model file.
type EngineLoader func(modelPath string) (Engine, error)

var (
	_ backend.Remover      = (*Backend)(nil)
	_ backend.ModelLocator = (*Backend)(nil)
)

// Backend implements backend.Remover with an in-process ONNX session.
type Backend struct {
	backend.Lifecycle

	engine     Engine
	downloader source.Downloader
	loadEngine EngineLoader
	cfg        config.RembgConfig
	modelPath  string
	mu         sync.Mutex
}

// Option customizes a Backend.
type Option func(*Backend)

// WithEngineLoader replaces the ONNX engine loader.
func WithEngineLoader(loader EngineLoader) Option {
	return func(b *Backend) {
		b.loadEngine = loader
	}
}

// WithDownloader replaces the artifact downloader.
func WithDownloader(d source.Downloader) Option {
	return func(b *Backend) {
		b.downloader = d
	}
}

// NewBackend creates an uninitialized rembg backend. No model is loaded until Initialize.
func NewBackend(cfg config.RembgConfig, opts ...Option) *Backend {
	b := &Backend{
		cfg:        cfg,
		loadEngine: LoadONNX,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Name implements backend.Remover.
func (b *Backend) Name() string {
	return BackendName
}

// Initialize implements backend.Remover.
func (b *Backend) Initialize(ctx context.Context) error {
	return b.Ensure(ctx, BackendName, b.load)
}

func (b *Backend) load(ctx context.Context) error {
	path, err := b.locateModel(ctx)
	if err != nil {
		return err
	}

	slog.Info("Loading ONNX model", "model", BackendName, "variant", b.cfg.Model, "path", path)

	engine, err := b.loadEngine(path)
	if err != nil {
		return fmt.Errorf("load onnx session: %w", err)
	}

	b.mu.Lock()
	b.engine = engine
	b.modelPath = path
	b.mu.Unlock()

	return nil
}

// locateModel returns the configured model file, downloading it when a source is set.
func (b *Backend) locateModel(ctx context.Context) (string, error) {
	if b.cfg.ModelPath != "" {
		path := xfs.ExpandTilde(b.cfg.ModelPath)
		if !xfs.FileExists(path) {
			return "", fmt.Errorf("%w: %s", ErrModelFileNotFound, path)
		}
		return path, nil
	}

	src, err := b.cfg.Source.GetSource()
	if err != nil {
		return "", fmt.Errorf("no model_path set and %w", err)
	}

	modelsDir := xfs.ExpandTilde(b.cfg.ModelsDir)
	if modelsDir == "" {
		modelsDir = xfs.ExpandTilde(config.DefaultModelsPath())
	}
	if err := source.EnsureModelsDirectory(modelsDir); err != nil {
		return "", err
	}

	downloader := b.downloader
	if downloader == nil {
		downloader, err = source.GetDownloader(ctx, src.Type())
		if err != nil {
			return "", err
		}
	}

	dir, cached, err := downloader.Download(ctx, src, modelsDir)
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	slog.Debug("Model artifacts available", "model", BackendName, "path", dir, "cached", cached)

	return b.ResolveModelPath(dir)
}

// ResolveModelPath implements backend.ModelLocator. It prefers an .onnx file whose name
// matches the configured variant and falls back to the first .onnx file found.
func (b *Backend) ResolveModelPath(basePath string) (string, error) {
	return backend.FindModelFile(basePath, ".onnx", b.cfg.Model)
}

// RemoveBackground implements backend.Remover. Inference is serialized per instance.
func (b *Backend) RemoveBackground(ctx context.Context, img image.Image) (out *image.NRGBA, err error) {
	if err := b.Initialize(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.engine == nil {
		return nil, &backend.ProcessingError{Model: BackendName, Err: backend.ErrNotReady}
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &backend.ProcessingError{Model: BackendName, Err: fmt.Errorf("engine panic: %v", r)}
		}
	}()

	slog.Debug("Processing image", "model", BackendName, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	result, err := b.engine.RemoveBackground(img)
	if err != nil {
		return nil, &backend.ProcessingError{Model: BackendName, Err: err}
	}
	if result == nil {
		return nil, &backend.ProcessingError{Model: BackendName, Err: imageutil.ErrEmptyImage}
	}

	out = imageutil.Normalize(result, img)
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		slog.Debug("Inference finished", "model", BackendName, "has_alpha", imageutil.HasTransparency(out))
	}

	return out, nil
}

// ModelPath returns the loaded model file, empty before initialization.
func (b *Backend) ModelPath() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.modelPath
}

// Close implements backend.Remover. It retires the instance even when no engine was
// ever loaded, so a caller still holding it cannot load one afterwards.
func (b *Backend) Close() error {
	b.Retire()

	b.mu.Lock()
	engine := b.engine
	b.engine = nil
	b.modelPath = ""
	b.mu.Unlock()

	if engine != nil {
		engine.Close()
	}

	return nil
}
