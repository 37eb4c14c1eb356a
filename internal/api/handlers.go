package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/headfull/chrome-api/internal/pool"
	"github.com/headfull/chrome-api/internal/scheduler"
	"github.com/headfull/chrome-api/internal/session"
	"github.com/headfull/chrome-api/pkg/models"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessionMgr *session.Manager
	sched      *scheduler.Scheduler
	displays   *pool.Pool
	ports      *pool.Pool
}

// NewHandler creates a new HTTP handler.
func NewHandler(sessionMgr *session.Manager, sched *scheduler.Scheduler, displays, ports *pool.Pool) *Handler {
	return &Handler{sessionMgr: sessionMgr, sched: sched, displays: displays, ports: ports}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// CreateContents handles POST /v1/contents.
func (h *Handler) CreateContents(w http.ResponseWriter, r *http.Request) {
	var requests []models.ContentRequest
	if err := json.NewDecoder(r.Body).Decode(&requests); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	responses, err := h.sessionMgr.CreateSessions(requests)
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		if errors.Is(err, scheduler.ErrNotAccepting) || errors.Is(err, scheduler.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		logrus.WithError(err).Error("session creation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, responses)
}

// GetJob handles GET /v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.sessionMgr.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.JobResponse{
		ID:              job.ID,
		Status:          job.Status,
		ExecutionTimeMs: job.ExecutionTimeMs,
		QueuedAt:        job.QueuedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		Result:          job.Result,
	})
}

// GetSession handles GET /v1/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.sessionMgr.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// GetDebugURL handles GET /v1/sessions/{id}/debug.
func (h *Handler) GetDebugURL(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.sessionMgr.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"debuggerUrl": fmt.Sprintf("ws://%s/v1/sessions/%s/ws", r.Host, sess.ID),
		"sessionId":   sess.ID,
		"status":      string(sess.Status),
	})
}

// GetStats handles GET /v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"displays": map[string]int{
			"available": h.displays.Available(),
			"inUse":     h.displays.InUse(),
		},
		"ports": map[string]int{
			"available": h.ports.Available(),
			"inUse":     h.ports.InUse(),
		},
		"sessions": map[string]int{
			"pending": h.sched.Pending(),
			"active":  h.sched.Active(),
		},
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.sessionMgr.Healthy() {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not accepting sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
