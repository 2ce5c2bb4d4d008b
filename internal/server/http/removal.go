package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/clearbg/internal/backend"
	"github.com/ekisa-team/clearbg/internal/imageutil"
	"github.com/ekisa-team/clearbg/internal/model"
	"github.com/ekisa-team/clearbg/internal/service"
)

type (
	RemoveBackgroundInput struct {
		RawBody huma.MultipartFormFiles[struct {
			Image huma.FormFile `form:"image" contentType:"image/*,application/octet-stream"`
			Model string        `form:"model"`
		}]
	}

	RemoveBackgroundOutput struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Model              string `header:"X-Model"`
		Body               []byte
	}
)

// RemovalHandler handles background removal uploads.
type RemovalHandler struct {
	service *service.Remover
	config  ConfigSource
}

// NewRemovalHandler creates a new RemovalHandler instance.
func NewRemovalHandler(api huma.API, svc *service.Remover, cfg ConfigSource) *RemovalHandler {
	h := &RemovalHandler{service: svc, config: cfg}

	huma.Register(api, huma.Operation{
		OperationID:   "remove-background",
		Method:        http.MethodPost,
		Path:          "/remove-background",
		Summary:       "Remove the background of an image",
		Tags:          []string{"removal"},
		DefaultStatus: http.StatusOK,
		MaxBodyBytes:  -1,
		Responses: map[string]*huma.Response{
			"200": {
				Description: "PNG with a transparent background",
				Content:     map[string]*huma.MediaType{"image/png": {}},
			},
		},
	}, h.handleRemove)

	return h
}

// handleRemove handles the remove-background operation.
func (h *RemovalHandler) handleRemove(ctx context.Context, input *RemoveBackgroundInput) (*RemoveBackgroundOutput, error) {
	cfg := h.config()
	form := input.RawBody.Data()
	file := form.Image

	if !file.IsSet || file.Filename == "" {
		return nil, huma.Error400BadRequest("No file provided")
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file.Filename), "."))
	if !cfg.Upload.IsAllowedExtension(ext) {
		return nil, huma.Error400BadRequest(fmt.Sprintf(
			"File type not allowed. Allowed types: %s", strings.Join(cfg.Upload.AllowedExtensions, ", ")))
	}

	if file.Size > cfg.Upload.MaxFileSizeBytes() {
		return nil, huma.NewError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File too large. Maximum size: %dMB", cfg.Upload.MaxFileSizeMB))
	}

	name := form.Model
	if name == "" {
		name = cfg.Models.Default
	}

	img, err := imageutil.Decode(file)
	if errors.Is(err, imageutil.ErrImageTooLarge) {
		return nil, huma.Error400BadRequest(fmt.Sprintf(
			"Image dimensions too large. Maximum: %d pixels", imageutil.MaxPixels), err)
	}
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid image file", err)
	}

	res, err := h.service.Remove(ctx, name, img)
	if err != nil {
		return nil, removalError(ctx, name, err)
	}

	data, err := imageutil.PNGBytes(res.Image)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to encode result", err)
	}

	stem := strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename))

	return &RemoveBackgroundOutput{
		ContentType:        "image/png",
		ContentDisposition: fmt.Sprintf("inline; filename=%q", stem+"_nobg.png"),
		Model:              res.Model,
		Body:               data,
	}, nil
}

func removalError(ctx context.Context, name string, err error) error {
	var unknown *model.UnknownModelError

	switch {
	case errors.As(err, &unknown):
		return huma.Error400BadRequest(fmt.Sprintf(
			"Invalid model. Available models: %s", strings.Join(unknown.Available, ", ")))
	case errors.Is(err, service.ErrProcessingTimeout):
		return huma.NewError(http.StatusGatewayTimeout, "Processing timed out", err)
	case errors.Is(err, backend.ErrInitialization):
		slog.Error("Model initialization failed", "model", name, "error", err, "request_id", RequestID(ctx))
		return huma.Error500InternalServerError("Model initialization failed", err)
	default:
		slog.Error("Background removal failed", "model", name, "error", err, "request_id", RequestID(ctx))
		return huma.Error500InternalServerError("Processing failed", err)
	}
}
