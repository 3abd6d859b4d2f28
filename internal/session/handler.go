package session

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/pkg/response"
)

// StartRequest is the optional body for POST /api/session/start.
type StartRequest struct {
	Mode      models.Mode `json:"mode"`
	SubjectID string      `json:"subject_id"`
}

// StartResponse is returned by POST /api/session/start.
type StartResponse struct {
	SessionID  string        `json:"session_id"`
	Mode       models.Mode   `json:"mode"`
	SubjectRef string        `json:"subject_id,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	Status     models.Status `json:"status"`
}

// Handler exposes the session control and query surface.
type Handler struct {
	lifecycle *Lifecycle
	logger    *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(lifecycle *Lifecycle, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{lifecycle: lifecycle, logger: logger}
}

// Start handles POST /api/session/start. Mode and subject may come from a JSON
// body or from the query string; use_real_data=true selects recorded mode.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if req.Mode == "" {
		req.Mode = models.Mode(c.Query("mode"))
	}
	if req.SubjectID == "" {
		req.SubjectID = c.Query("subject_id")
	}
	if req.Mode == "" {
		req.Mode = models.ModeSynthetic
		if v, err := strconv.ParseBool(c.DefaultQuery("use_real_data", "false")); err == nil && v {
			req.Mode = models.ModeRecorded
		}
	}

	sess, err := h.lifecycle.Start(c.Request.Context(), req.Mode, req.SubjectID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, StartResponse{
		SessionID:  sess.ID,
		Mode:       sess.Mode,
		SubjectRef: sess.SubjectRef,
		StartTime:  sess.StartTime,
		Status:     sess.Status,
	})
}

// End handles POST /api/session/:id/end.
func (h *Handler) End(c *gin.Context) {
	summary, err := h.lifecycle.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": c.Param("id"), "status": models.StatusEnded, "summary": summary})
}

// Summary handles GET /api/session/:id/summary.
func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.lifecycle.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, summary)
}

// Epochs handles GET /api/session/:id/epochs.
func (h *Handler) Epochs(c *gin.Context) {
	epochs, err := h.lifecycle.Epochs(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": c.Param("id"), "epochs": epochs})
}

// Snapshot handles GET /api/session/:id/snapshot.
func (h *Handler) Snapshot(c *gin.Context) {
	snap, err := h.lifecycle.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, snap)
}

// ExportURL handles GET /api/session/:id/export-url.
func (h *Handler) ExportURL(c *gin.Context) {
	url, err := h.lifecycle.ExportURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": c.Param("id"), "url": url})
}

// Weekly handles GET /api/weekly-summary.
func (h *Handler) Weekly(c *gin.Context) {
	weekly, err := h.lifecycle.WeeklySummary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, weekly)
}

// Subjects handles GET /api/subjects.
func (h *Handler) Subjects(c *gin.Context) {
	subjects := h.lifecycle.Subjects()
	response.OK(c, gin.H{"subjects": subjects, "available": len(subjects) > 0})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrInvalidState):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrInvalidInput):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrUnavailable):
		response.ServiceUnavailable(c, err.Error())
	default:
		h.logger.Error("session request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "internal error")
	}
}
