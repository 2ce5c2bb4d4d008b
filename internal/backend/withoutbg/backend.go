package withoutbg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ekisa-team/clearbg/internal/backend"
	"github.com/ekisa-team/clearbg/internal/config"
	"github.com/ekisa-team/clearbg/internal/imageutil"
	"github.com/ekisa-team/clearbg/internal/mapsafe"
)

// BackendName is the model selector of this backend.
const BackendName = "withoutbg"

const removePath = "/api/remove"

// ErrNoServer is returned when neither a base URL nor a server binary is configured.
var ErrNoServer = errors.New("withoutbg: no base_url or bin_path configured")

var _ backend.Remover = (*Backend)(nil)

// Backend implements backend.Remover by delegating to a withoutbg inference server.
type Backend struct {
	backend.Lifecycle

	manager *backend.ServerManager
	client  *http.Client
	cfg     config.WithoutBGConfig
	baseURL string
	managed bool
	mu      sync.RWMutex
}

// NewBackend creates an uninitialized backend. The sidecar is not started until Initialize.
func NewBackend(cfg config.WithoutBGConfig, manager *backend.ServerManager) *Backend {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &Backend{
		cfg:     cfg,
		manager: manager,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements backend.Remover.
func (b *Backend) Name() string {
	return BackendName
}

// Initialize implements backend.Remover.
func (b *Backend) Initialize(ctx context.Context) error {
	return b.Ensure(ctx, BackendName, b.start)
}

func (b *Backend) start(ctx context.Context) error {
	if b.cfg.BaseURL != "" {
		baseURL := strings.TrimRight(b.cfg.BaseURL, "/")
		if err := backend.WaitReady(ctx, baseURL+b.healthPath(), b.readyTimeout()); err != nil {
			return err
		}
		b.setBaseURL(baseURL, false)
		return nil
	}

	if b.cfg.BinPath == "" || b.manager == nil {
		return ErrNoServer
	}

	baseURL, err := b.manager.StartServer(ctx, backend.ServerConfig{
		Name:         BackendName,
		BinPath:      b.cfg.BinPath,
		Args:         b.cfg.Args,
		Env:          b.cfg.Env,
		Port:         b.cfg.Port,
		HealthPath:   b.cfg.HealthPath,
		ReadyTimeout: b.readyTimeout(),
	})
	if err != nil {
		return err
	}

	b.setBaseURL(baseURL, true)
	return nil
}

func (b *Backend) setBaseURL(url string, managed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.baseURL = url
	b.managed = managed
}

func (b *Backend) healthPath() string {
	if b.cfg.HealthPath == "" {
		return "/health"
	}
	return b.cfg.HealthPath
}

func (b *Backend) readyTimeout() time.Duration {
	if b.cfg.ReadyTimeout == 0 {
		return 2 * time.Minute
	}
	return b.cfg.ReadyTimeout
}

// RemoveBackground implements backend.Remover. The image is sent as PNG in the
// multipart field "file" and the server answers with the cut-out PNG.
func (b *Backend) RemoveBackground(ctx context.Context, img image.Image) (*image.NRGBA, error) {
	if err := b.Initialize(ctx); err != nil {
		return nil, err
	}

	b.mu.RLock()
	baseURL := b.baseURL
	b.mu.RUnlock()

	if baseURL == "" {
		return nil, &backend.ProcessingError{Model: BackendName, Err: backend.ErrNotReady}
	}

	body, contentType, err := multipartImage(img)
	if err != nil {
		return nil, &backend.ProcessingError{Model: BackendName, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+removePath, body)
	if err != nil {
		return nil, &backend.ProcessingError{Model: BackendName, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &backend.ProcessingError{Model: BackendName, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &backend.ProcessingError{Model: BackendName, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(data))
		if m := mapsafe.Decode(data); m != nil {
			detail = mapsafe.Get(m, "detail", detail)
		}
		return nil, &backend.ProcessingError{
			Model: BackendName,
			Err:   fmt.Errorf("server returned %d: %s", resp.StatusCode, detail),
		}
	}

	out, err := imageutil.DecodeBytes(data)
	if err != nil {
		return nil, &backend.ProcessingError{Model: BackendName, Err: fmt.Errorf("decode response: %w", err)}
	}

	slog.Debug("Sidecar inference finished", "model", BackendName, "elapsed", time.Since(start))

	return imageutil.Normalize(out, img), nil
}

func multipartImage(img image.Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, "", err
	}
	if err := imageutil.EncodePNG(part, img); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

// Close implements backend.Remover. A sidecar started by this backend is stopped.
// The instance cannot be initialized again afterwards.
func (b *Backend) Close() error {
	b.Retire()

	b.mu.Lock()
	managed := b.managed
	b.baseURL = ""
	b.managed = false
	b.mu.Unlock()

	var err error
	if managed && b.manager != nil {
		err = b.manager.StopServer(BackendName, b.cfg.Port)
	}

	return err
}
