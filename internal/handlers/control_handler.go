package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/koios/kling-batcher/internal/engine"
	"github.com/koios/kling-batcher/pkg/models"
	"go.uber.org/zap"
)

// SessionStore is the part of the session store the control surface needs.
// Deleting a session does not involve the worker.
type SessionStore interface {
	Delete(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
}

// ControlHandler handles HTTP requests that drive the batch worker
type ControlHandler struct {
	worker   BatchController
	commands *CommandHandler
	sessions SessionStore
	logger   *zap.Logger
}

// NewControlHandler creates a new control handler
func NewControlHandler(worker BatchController, sessions SessionStore, logger *zap.Logger) *ControlHandler {
	return &ControlHandler{
		worker:   worker,
		commands: NewCommandHandler(worker, logger),
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterRoutes registers the control routes
func (h *ControlHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/folders", h.handleFolders)
	mux.HandleFunc("/start", h.handleStart)
	mux.HandleFunc("/pause", h.handleCommand(models.CommandPause))
	mux.HandleFunc("/resume", h.handleCommand(models.CommandResume))
	mux.HandleFunc("/stop", h.handleCommand(models.CommandStop))
	mux.HandleFunc("/session", h.handleSession)
	mux.HandleFunc("/session/save", h.handleSessionSave)
}

// handleHealth handles GET /health - returns service health status
func (h *ControlHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "kling-batcher",
		"version": "1.0.0",
	})
}

// handleStatus handles GET /status - returns the worker status
func (h *ControlHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.worker.Status())
}

// handleFolders handles GET /folders - lists the input folders with image counts
func (h *ControlHandler) handleFolders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	folders, err := h.worker.Folders()
	if err != nil {
		h.logger.Error("Failed to list folders", zap.Error(err))
		http.Error(w, "Failed to list folders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"folders": folders,
		"count":   len(folders),
	})
}

// handleStart handles POST /start. An optional JSON body
// {"folders": ["a", "b"]} picks the folders for this run.
func (h *ControlHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cmd := commandFromRequest(r, models.CommandStart)
	if r.ContentLength != 0 {
		var body struct {
			Folders []string `json:"folders"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		cmd.Folders = body.Folders
	}

	result, err := h.commands.Handle(r.Context(), cmd)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, ErrInvalidFolder):
		writeJSON(w, http.StatusBadRequest, result)
	default:
		writeJSON(w, http.StatusConflict, result)
	}
}

// handleCommand handles POST /pause, /resume and /stop
func (h *ControlHandler) handleCommand(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		result, err := h.commands.Handle(r.Context(), commandFromRequest(r, name))
		if err != nil {
			writeJSON(w, http.StatusConflict, result)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// handleSessionSave handles POST /session/save - asks the worker to persist
// the browser session and waits for the outcome.
func (h *ControlHandler) handleSessionSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := h.worker.SaveSession(r.Context())
	switch {
	case err == nil && result.Success:
		writeJSON(w, http.StatusOK, result)
	case err == nil:
		writeJSON(w, http.StatusInternalServerError, result)
	case errors.Is(err, engine.ErrSaveTimeout):
		writeJSON(w, http.StatusGatewayTimeout, result)
	case errors.Is(err, engine.ErrSavePending):
		writeJSON(w, http.StatusConflict, result)
	case errors.Is(err, engine.ErrNotAttached):
		writeJSON(w, http.StatusServiceUnavailable, result)
	default:
		h.logger.Error("Session save failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, result)
	}
}

// handleSession handles:
// - GET /session - reports whether a saved session exists
// - DELETE /session - removes the saved session
func (h *ControlHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		exists, err := h.sessions.Exists(r.Context())
		if err != nil {
			h.logger.Error("Failed to check saved session", zap.Error(err))
			http.Error(w, "Failed to check session", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"saved": exists})

	case http.MethodDelete:
		if err := h.sessions.Delete(r.Context()); err != nil {
			h.logger.Error("Failed to delete saved session", zap.Error(err))
			http.Error(w, "Failed to delete session", http.StatusInternalServerError)
			return
		}
		h.logger.Info("Saved session deleted")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Session deleted; a new login is required",
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func commandFromRequest(r *http.Request, name string) *models.Command {
	return &models.Command{
		Name:      name,
		IssuedAt:  time.Now(),
		RequestID: r.Header.Get("X-Request-ID"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
