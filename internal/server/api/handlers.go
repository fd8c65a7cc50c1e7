package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"tingjian/internal/server/config"
	"tingjian/internal/server/database"
	"tingjian/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the tingjian API.
type Handler struct {
	svc *service.CaptureService
	db  *database.DB
	cfg *config.Config
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(svc *service.CaptureService, db *database.DB, cfg *config.Config) *Handler {
	return &Handler{svc: svc, db: db, cfg: cfg}
}

// askRequest is the POST /ask body. Auxiliary fields some clients send
// (location, heading) are accepted and ignored.
type askRequest struct {
	Question string `json:"question"`
}

// HandleUpload handles POST /upload.
// The body is the raw image bytes; the response carries the generated
// scene description.
func (h *Handler) HandleUpload(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.cfg.MaxUploadSize+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "failed to read request body",
		})
	}
	if int64(len(body)) > h.cfg.MaxUploadSize {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": fmt.Sprintf("image exceeds maximum size of %d bytes", h.cfg.MaxUploadSize),
		})
	}

	result, err := h.svc.Describe(c.Request().Context(), body)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":      "OK",
		"description": result.Description,
	})
}

// HandleAsk handles POST /ask.
// Answers a follow-up question against the most recent capture; before
// the first capture it returns a fixed capture-first guidance message.
func (h *Handler) HandleAsk(c echo.Context) error {
	var req askRequest
	if c.Request().Body != nil {
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "body must be JSON with an optional 'question' field",
			})
		}
	}

	result, err := h.svc.Ask(c.Request().Context(), req.Question)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":      "OK",
		"description": result.Answer,
	})
}

// HandleIndex handles GET /.
// Renders the informational page showing the newest capture and its
// description.
func (h *Handler) HandleIndex(c echo.Context) error {
	return c.Render(http.StatusOK, "index.html", h.svc.Latest())
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if h.db == nil {
		status = "degraded"
		dbStatus = "not configured"
	} else if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate exchange statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"images_described":   stats.ImagesDescribed,
		"questions_answered": stats.QuestionsAnswered,
		"avg_latency_ms":     stats.AvgLatencyMS,
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidImage):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "body is not a decodable image",
		})
	case errors.Is(err, service.ErrUpstream):
		return c.JSON(http.StatusBadGateway, echo.Map{
			"error": "vision backend unavailable",
		})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "internal server error",
		})
	}
}
