package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/service"
)

// AgentHandler serves the HTTP surface of one worker service.
type AgentHandler struct {
	*Handler
	svc *service.Service
}

// NewAgentHandler binds h to svc.
func NewAgentHandler(h *Handler, svc *service.Service) *AgentHandler {
	return &AgentHandler{Handler: h, svc: svc}
}

// Health reports the worker status and the loop state alongside the
// broker checks, so a supervisor can spot a stopped loop.
func (h *AgentHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks, healthy := h.checks(ctx)
	state := h.svc.State()
	if state == service.StateRunning {
		checks["loop"] = Check{Status: "pass"}
	} else {
		checks["loop"] = Check{Status: "fail", Message: string(state)}
		healthy = false
	}

	h.writeHealth(w, HealthResponse{
		Agent:       h.svc.Name(),
		AgentStatus: string(h.svc.Worker().Status()),
		State:       string(state),
		Checks:      checks,
	}, healthy)
}

// SendRequest is the body of POST /send.
type SendRequest struct {
	Sender        string         `json:"sender"`
	MessageType   string         `json:"message_type"`
	Content       models.Payload `json:"content"`
	CorrelationID string         `json:"correlation_id"`
}

// SendResponse acknowledges an enqueued message.
type SendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// Send enqueues a message for this worker.
func (h *AgentHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sender := sanitizeName(req.Sender)
	if sender == "" {
		sender = "external"
	}
	typ := models.MessageType(req.MessageType)
	if typ == "" {
		typ = models.TypeRequest
	}
	if !typ.Valid() {
		h.Error(w, http.StatusBadRequest, "message_type must be request, response, info or error")
		return
	}

	msg := models.NewMessage(sender, h.svc.Name(), typ, req.Content, req.CorrelationID)
	if err := h.broker.Publish(r.Context(), msg); err != nil {
		h.logger.Error().Err(err).Str("agent", h.svc.Name()).Msg("send failed")
		h.Error(w, http.StatusServiceUnavailable, "failed to enqueue message")
		return
	}

	h.JSON(w, http.StatusAccepted, SendResponse{
		Status:    "accepted",
		MessageID: msg.ID,
	})
}

// StatusResponse describes the worker and its loop.
type StatusResponse struct {
	Agent  string       `json:"agent"`
	Status string       `json:"status"`
	State  service.Info `json:"state"`
}

// Status handles GET /status.
func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	info := h.svc.Info()
	h.JSON(w, http.StatusOK, StatusResponse{
		Agent:  info.Agent,
		Status: string(info.AgentStatus),
		State:  info,
	})
}
