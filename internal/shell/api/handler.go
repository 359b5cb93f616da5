// Package api provides HTTP handlers for the Berth API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/orchestrator"
	"github.com/berthd/berth/internal/shell/progress"
	"github.com/berthd/berth/internal/shell/upload"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Service Interfaces
// =============================================================================

// Service is the orchestration surface the handlers consume.
type Service interface {
	Deploy(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Delete(ctx context.Context, id string) ([]string, error)
	List(ctx context.Context) []domain.Deployment
	GetStatus(ctx context.Context, id string) (*orchestrator.DeploymentStatus, error)
	Logs(ctx context.Context, id string, tail int) (string, error)
	Stats() orchestrator.Stats
	Health() orchestrator.Health
}

// Uploader accepts Dockerfile uploads and returns tokens.
type Uploader interface {
	Save(filename string, r io.Reader) (string, error)
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	service  Service
	uploader Uploader
	hub      *progress.Hub
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(service Service, uploader Uploader, hub *progress.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		uploader: uploader,
		hub:      hub,
		logger:   logger.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/stats", h.handleStats)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.handleCreateDeployment)
			r.Get("/", h.handleListDeployments)
			r.Get("/{id}", h.handleGetDeployment)
			r.Delete("/{id}", h.handleDeleteDeployment)
			r.Get("/{id}/logs", h.handleDeploymentLogs)
			r.Get("/{id}/events", h.handleDeploymentEvents)
		})
		r.Get("/events", h.handleAllEvents)
		r.Post("/uploads", h.handleUpload)
	})

	return r
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Health())
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Stats())
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req CreateDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Deploy(r.Context(), orchestrator.Request{
		SourceKind: domain.SourceKind(req.SourceKind),
		SourceRef:  req.SourceRef,
		TargetPort: req.TargetPort,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, CreateDeploymentResponse{ID: result.ID, URL: result.URL})
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments := h.service.List(r.Context())
	h.writeJSON(w, http.StatusOK, ListDeploymentsResponse{
		Deployments: deployments,
		Count:       len(deployments),
	})
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleDeleteDeployment(w http.ResponseWriter, r *http.Request) {
	warnings, err := h.service.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, DeleteDeploymentResponse{Deleted: true, Warnings: warnings})
}

func (h *Handler) handleDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	tail := 100
	if raw := r.URL.Query().Get("tail"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "tail must be a positive integer")
			return
		}
		tail = parsed
	}

	logs, err := h.service.Logs(r.Context(), chi.URLParam(r, "id"), tail)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, LogsResponse{Logs: logs})
}

// =============================================================================
// Upload Handler
// =============================================================================

// maxUploadForm bounds the multipart form held in memory.
const maxUploadForm = 1 << 20

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadForm); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	token, err := h.uploader.Save(header.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidFilename), errors.Is(err, upload.ErrEmptyFile):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, upload.ErrTooLarge):
			h.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		default:
			h.logger.Error("upload failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "upload failed")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, UploadResponse{Token: token})
}

// =============================================================================
// Response Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps the orchestration error taxonomy onto stable HTTP
// status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrAdmissionRejected):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, orchestrator.ErrPortsExhausted):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, orchestrator.ErrBuildFailed), errors.Is(err, orchestrator.ErrStartFailed):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("unhandled service error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
