package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/inferno-ml/inferno/archive"
	"github.com/inferno-ml/inferno/broker"
	"github.com/inferno-ml/inferno/config"
	"github.com/inferno-ml/inferno/events"
	"github.com/inferno-ml/inferno/gateway/middleware"
	"github.com/inferno-ml/inferno/idempotency"
	"github.com/inferno-ml/inferno/log"
	"github.com/inferno-ml/inferno/models"
	"github.com/inferno-ml/inferno/observability"
	"github.com/inferno-ml/inferno/ratelimit"
)

const maxClientRequestIDLen = 128

// TaskRequest is the submission body.
type TaskRequest struct {
	Model           string         `json:"model"`
	Input           map[string]any `json:"input"`
	Priority        string         `json:"priority"`
	ClientRequestID string         `json:"client_request_id,omitempty"`
	CallbackURL     string         `json:"callback_url,omitempty"`
}

// TaskResponse acknowledges an accepted submission.
type TaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskStatus is the status read for one task.
type TaskStatus struct {
	TaskID string             `json:"task_id"`
	Status string             `json:"status"`
	Timing map[string]float64 `json:"timing,omitempty"`
	Result map[string]any     `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// API owns the gateway handlers and their collaborators. The broker is
// the authoritative source of task state; the API never caches results.
type API struct {
	cfg        *config.Settings
	registry   *models.Registry
	dispatcher *Dispatcher
	results    broker.ResultReader
	limiter    *ratelimit.Limiter
	idem       *idempotency.Cache
	arch       *archive.Archive
	hub        *events.Hub

	upgrader websocket.Upgrader
}

// NewAPI wires the gateway.
func NewAPI(
	cfg *config.Settings,
	registry *models.Registry,
	dispatcher *Dispatcher,
	results broker.ResultReader,
	limiter *ratelimit.Limiter,
	idem *idempotency.Cache,
	arch *archive.Archive,
	hub *events.Hub,
) *API {
	return &API{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		results:    results,
		limiter:    limiter,
		idem:       idem,
		arch:       arch,
		hub:        hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":      "healthy",
		"environment": a.cfg.Environment,
	})
}

// handleSubmitTask runs the submission checks in their fixed order:
// auth (middleware), rate limit, idempotency lookup, model validity,
// task-id assignment, enqueue, idempotency store. An idempotency hit
// short-circuits after the rate-limit debit.
func (a *API) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	apiKey := middleware.APIKeyFromContext(r.Context())

	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if detail := validateRequest(&req); detail != "" {
		middleware.WriteDetail(w, http.StatusBadRequest, detail)
		return
	}

	if err := a.limiter.Check(apiKey); err != nil {
		observability.RateLimitExceeded.WithLabelValues(log.RedactKey(apiKey)).Inc()
		middleware.WriteDetail(w, http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded. Maximum %d requests per minute.", a.limiter.Limit()))
		return
	}

	if req.ClientRequestID != "" {
		if existing := a.idem.GetTaskID(req.ClientRequestID); existing != "" {
			log.Logger.Info().Str("client_request_id", req.ClientRequestID).
				Str("task_id", existing).Msg("returning existing task for client_request_id")
			writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: existing, Status: broker.StatePending})
			return
		}
	}

	if !a.registry.Has(req.Model) {
		middleware.WriteDetail(w, http.StatusBadRequest,
			fmt.Sprintf("Model %s not supported. Available models: %v", req.Model, a.registry.List()))
		return
	}

	taskID := uuid.NewString()

	if err := a.dispatcher.Dispatch(r.Context(), taskID, &req); err != nil {
		log.Logger.Error().Err(err).Str("task_id", taskID).Msg("enqueue failed")
		middleware.WriteDetail(w, http.StatusInternalServerError, "Failed to enqueue task")
		return
	}

	if req.ClientRequestID != "" {
		a.idem.SetTaskID(req.ClientRequestID, taskID)
	}

	a.arch.RecordSubmission(r.Context(), taskID, req.Model, req.Priority, req.CallbackURL)
	observability.TaskSubmitted.WithLabelValues(req.Model, req.Priority).Inc()
	a.hub.Publish(events.Event{
		Type:     "task_submitted",
		TaskID:   taskID,
		Model:    req.Model,
		Priority: req.Priority,
		Status:   broker.StatePending,
	})

	log.Logger.Info().Str("task_id", taskID).Str("model", req.Model).
		Str("priority", req.Priority).Msg("task submitted")

	writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: taskID, Status: broker.StatePending})
}

// handleGetTaskStatus reads through to the broker. It never blocks
// waiting for completion.
func (a *API) handleGetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")

	rec, err := a.results.GetResult(r.Context(), taskID)
	if err != nil {
		log.Logger.Error().Err(err).Str("task_id", taskID).Msg("result read failed")
		middleware.WriteDetail(w, http.StatusInternalServerError, "Failed to read task status")
		return
	}

	status := TaskStatus{TaskID: taskID, Status: rec.State}
	switch rec.State {
	case broker.StateSuccess:
		if rec.Envelope != nil {
			status.Timing = rec.Envelope.Timing
			status.Result = rec.Envelope.Result
		}
	case broker.StateFailure, broker.StateRetry:
		status.Error = rec.Error
	}
	// Any other broker-specific state passes through by name.

	observability.TaskStatusChecked.WithLabelValues(status.Status).Inc()
	writeJSON(w, http.StatusOK, status)
}

// handleEvents upgrades to a WebSocket and attaches the client to the
// task event feed.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("event feed upgrade failed")
		return
	}
	a.hub.Register(conn)

	// Read pump: we never expect client frames, but reading is how we
	// notice the peer going away.
	go func() {
		defer a.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func validateRequest(req *TaskRequest) string {
	if req.Model == "" {
		return "model is required"
	}
	if req.Input == nil {
		return "input is required"
	}
	switch req.Priority {
	case "":
		req.Priority = "normal"
	case "high", "normal", "low":
	default:
		return fmt.Sprintf("invalid priority %q: must be high, normal or low", req.Priority)
	}
	if len(req.ClientRequestID) > maxClientRequestIDLen {
		return fmt.Sprintf("client_request_id must be at most %d characters", maxClientRequestIDLen)
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return "callback_url must be an absolute http or https URL"
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && !strings.Contains(err.Error(), "broken pipe") {
		log.Logger.Error().Err(err).Msg("response encode failed")
	}
}
