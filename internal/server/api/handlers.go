package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/oneclickreelsai/studious-system/internal/core"
	"github.com/oneclickreelsai/studious-system/internal/dispatch"
	"github.com/oneclickreelsai/studious-system/internal/platform"
	"github.com/oneclickreelsai/studious-system/internal/server/database"
	"github.com/oneclickreelsai/studious-system/internal/server/service"
)

// Handler contains the HTTP handlers for the batch upload API.
type Handler struct {
	svc *service.BatchService
	db  *database.DB
}

// NewHandler creates a new handler with the given dependencies. The db may
// be nil when history persistence is disabled.
func NewHandler(svc *service.BatchService, db *database.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

// dispatchRequest is the body for dispatch, retry, and enrich calls.
type dispatchRequest struct {
	Niche        string   `json:"niche"`
	Privacy      string   `json:"privacy"`
	Destinations []string `json:"destinations"`
}

func (r dispatchRequest) settings() core.BatchSettings {
	privacy := core.Privacy(r.Privacy)
	if r.Privacy == "" {
		privacy = core.PrivacyPublic
	}
	return core.BatchSettings{
		Niche:        r.Niche,
		Privacy:      privacy,
		Destinations: r.Destinations,
	}
}

// HandleAddItems handles POST /api/queue/items.
// Accepts a multipart form with one or more "files" fields.
func (h *Handler) HandleAddItems(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "multipart form with a 'files' field is required",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "at least one file is required (use form field 'files')",
		})
	}

	// Files are ingested in order. On a mid-batch failure the response
	// carries the items already enqueued, so the client can tell a partial
	// enqueue happened.
	items := make([]*core.QueueItem, 0, len(files))
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"error": "failed to read uploaded file",
				"items": items,
			})
		}

		item, err := h.svc.Ingest(c.Request().Context(), fh.Filename, src, fh.Size)
		src.Close()
		if err != nil {
			status, msg := errorStatus(err)
			return c.JSON(status, echo.Map{
				"error": fmt.Sprintf("%s: %s", fh.Filename, msg),
				"items": items,
			})
		}
		items = append(items, item)
	}

	return c.JSON(http.StatusCreated, echo.Map{"items": items})
}

// HandleListQueue handles GET /api/queue.
// Returns every item in enqueue order plus the status tallies.
func (h *Handler) HandleListQueue(c echo.Context) error {
	items, counts := h.svc.ListItems()
	return c.JSON(http.StatusOK, echo.Map{
		"items":  items,
		"counts": counts,
	})
}

// HandleGetItem handles GET /api/queue/items/:id.
func (h *Handler) HandleGetItem(c echo.Context) error {
	item, err := h.svc.GetItem(c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

// HandleUpdateItem handles PATCH /api/queue/items/:id.
// Merges a metadata patch into a pending item; absent fields are untouched.
func (h *Handler) HandleUpdateItem(c echo.Context) error {
	var patch core.MetadataPatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	item, err := h.svc.UpdateItem(c.Param("id"), patch)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

// HandleRemoveItem handles DELETE /api/queue/items/:id.
func (h *Handler) HandleRemoveItem(c echo.Context) error {
	if err := h.svc.RemoveItem(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "item removed"})
}

// HandleClearQueue handles POST /api/queue/clear.
// Removes every finished item and releases its payload.
func (h *Handler) HandleClearQueue(c echo.Context) error {
	removed := h.svc.Clear(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{"removed": removed})
}

// HandleEnrich handles POST /api/queue/enrich.
// Fills missing metadata on pending items for the given niche.
func (h *Handler) HandleEnrich(c echo.Context) error {
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	report, err := h.svc.Enrich(c.Request().Context(), req.Niche)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// HandleDispatch handles POST /api/queue/dispatch.
// Starts a background run over all pending items.
func (h *Handler) HandleDispatch(c echo.Context) error {
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	status, err := h.svc.Dispatch(c.Request().Context(), req.settings())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, status)
}

// HandleRetry handles POST /api/queue/retry.
// Starts a run restricted to failed and partial items.
func (h *Handler) HandleRetry(c echo.Context) error {
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	status, err := h.svc.Retry(c.Request().Context(), req.settings())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, status)
}

// HandleCancel handles POST /api/queue/cancel.
func (h *Handler) HandleCancel(c echo.Context) error {
	if !h.svc.Cancel() {
		return c.JSON(http.StatusConflict, echo.Map{"error": "no dispatch in progress"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "cancellation requested"})
}

// HandleDispatchStatus handles GET /api/queue/dispatch.
func (h *Handler) HandleDispatchStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Status())
}

// HandleListBatches handles GET /api/batches.
// Returns recent run records, newest first. Accepts a "limit" query param.
func (h *Handler) HandleListBatches(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	runs, err := h.svc.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list batches"})
	}
	return c.JSON(http.StatusOK, echo.Map{"batches": runs})
}

// HandleGetBatch handles GET /api/batches/:id.
func (h *Handler) HandleGetBatch(c echo.Context) error {
	run, err := h.svc.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// HandleStats handles GET /api/stats.
// Returns aggregate history statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve stats"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"total_runs":      stats.TotalRuns,
		"total_items":     stats.TotalItems,
		"total_succeeded": stats.TotalSucceeded,
		"total_failed":    stats.TotalFailed,
	})
}

// HandleListMedia handles GET /api/media.
func (h *Handler) HandleListMedia(c echo.Context) error {
	objects, err := h.svc.ListMedia(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list media"})
	}
	return c.JSON(http.StatusOK, echo.Map{"media": objects})
}

// HandleDeleteMedia handles DELETE /api/media/:key.
func (h *Handler) HandleDeleteMedia(c echo.Context) error {
	if err := h.svc.DeleteMedia(c.Request().Context(), c.Param("key")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "media deleted"})
}

// HandleServeMedia handles GET /media/:key.
// Streams the stored payload; some destinations fetch the video by URL
// instead of accepting a byte stream.
func (h *Handler) HandleServeMedia(c echo.Context) error {
	reader, size, err := h.svc.OpenMedia(c.Request().Context(), c.Param("key"))
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "media not found"})
	}
	defer reader.Close()

	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(size, 10))
	return c.Stream(http.StatusOK, "video/mp4", reader)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if h.db == nil {
		dbStatus = "disabled"
	} else if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// mapServiceError translates pipeline errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	status, msg := errorStatus(err)
	return c.JSON(status, echo.Map{"error": msg})
}

// errorStatus maps a pipeline error to its HTTP status and client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrItemNotFound):
		return http.StatusNotFound, "queue item not found"
	case errors.Is(err, database.ErrRunNotFound):
		return http.StatusNotFound, "batch run not found"
	case errors.Is(err, core.ErrItemUploading):
		return http.StatusConflict, "item is currently uploading"
	case errors.Is(err, core.ErrMetadataFrozen):
		return http.StatusConflict, "metadata can no longer be edited"
	case errors.Is(err, dispatch.ErrDispatchInProgress):
		return http.StatusConflict, "dispatch already in progress"
	case errors.Is(err, service.ErrMediaInUse):
		return http.StatusConflict, "media is referenced by a queue item"
	case errors.Is(err, core.ErrNoDestinations):
		return http.StatusUnprocessableEntity, "at least one destination is required"
	case errors.Is(err, core.ErrInvalidPrivacy):
		return http.StatusUnprocessableEntity, "invalid privacy setting"
	case errors.Is(err, platform.ErrUnknownDestination):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, service.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file exceeds maximum allowed size"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
