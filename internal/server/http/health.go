package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/clearbg/internal/model"
	"github.com/ekisa-team/clearbg/internal/service"
)

type (
	HealthResponseDTO struct {
		Status          string   `json:"status"`
		Service         string   `json:"service"`
		AvailableModels []string `json:"available_models"`
	}

	ModelsResponseDTO struct {
		Models []string `json:"models"`
	}

	ModelStatusResponseDTO struct {
		Models []model.Status `json:"models"`
	}
)

type (
	HealthOutput struct {
		Body HealthResponseDTO
	}

	ModelsOutput struct {
		Body ModelsResponseDTO
	}

	ModelStatusOutput struct {
		Body ModelStatusResponseDTO
	}
)

// HealthHandler serves liveness and model listing.
type HealthHandler struct {
	service *service.Remover
}

// NewHealthHandler creates a new HealthHandler instance.
func NewHealthHandler(api huma.API, svc *service.Remover) *HealthHandler {
	h := &HealthHandler{service: svc}

	huma.Register(api, huma.Operation{
		OperationID:   "health",
		Method:        http.MethodGet,
		Path:          "/",
		Summary:       "Health check",
		Tags:          []string{"health"},
		DefaultStatus: http.StatusOK,
	}, h.handleHealth)

	huma.Register(api, huma.Operation{
		OperationID:   "list-models",
		Method:        http.MethodGet,
		Path:          "/models",
		Summary:       "List available models",
		Tags:          []string{"models"},
		DefaultStatus: http.StatusOK,
	}, h.handleModels)

	huma.Register(api, huma.Operation{
		OperationID:   "model-status",
		Method:        http.MethodGet,
		Path:          "/models/status",
		Summary:       "Readiness of every model",
		Tags:          []string{"models"},
		DefaultStatus: http.StatusOK,
	}, h.handleStatus)

	return h
}

// handleHealth answers without touching any model.
func (h *HealthHandler) handleHealth(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	return &HealthOutput{
		Body: HealthResponseDTO{
			Status:          "healthy",
			Service:         ServiceName,
			AvailableModels: h.service.Models(),
		},
	}, nil
}

func (h *HealthHandler) handleModels(_ context.Context, _ *struct{}) (*ModelsOutput, error) {
	return &ModelsOutput{Body: ModelsResponseDTO{Models: h.service.Models()}}, nil
}

func (h *HealthHandler) handleStatus(_ context.Context, _ *struct{}) (*ModelStatusOutput, error) {
	return &ModelStatusOutput{Body: ModelStatusResponseDTO{Models: h.service.Statuses()}}, nil
}
