package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chanderbawa/AI-Story-Agents/internal/broker"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/orchestrator"
	"github.com/chanderbawa/AI-Story-Agents/internal/store"
)

const maxTimeout = 30 * time.Minute

// StoryHandler serves the orchestrator's HTTP surface.
type StoryHandler struct {
	*Handler
	orch           *orchestrator.Orchestrator
	defaultTimeout time.Duration
}

// NewStoryHandler binds h to orch. defaultTimeout applies when a request
// names none.
func NewStoryHandler(h *Handler, orch *orchestrator.Orchestrator, defaultTimeout time.Duration) *StoryHandler {
	return &StoryHandler{Handler: h, orch: orch, defaultTimeout: defaultTimeout}
}

// CreateStoryRequest is the body of POST /stories.
type CreateStoryRequest struct {
	models.StoryRequest
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// CreateStory runs a story to completion and returns its Result. Timeouts
// and stage failures are 200 responses carrying the status.
func (h *StoryHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req CreateStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	timeout := h.defaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	res, err := h.orch.CreateStory(r.Context(), req.StoryRequest, timeout)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			h.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		// Client went away.
		h.logger.Warn().Err(err).Msg("story request abandoned")
		h.Error(w, http.StatusRequestTimeout, "request cancelled")
		return
	}

	h.JSON(w, http.StatusOK, res)
}

// TaskStatus handles GET /tasks/{id}.
func (h *StoryHandler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := h.orch.GetTaskStatus(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read task history")
		return
	}
	if st.Status == orchestrator.TaskNotFound {
		h.JSON(w, http.StatusNotFound, st)
		return
	}
	h.JSON(w, http.StatusOK, st)
}

// TaskMessagesResponse lists one conversation.
type TaskMessagesResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Messages      []*models.Message `json:"messages"`
}

// TaskMessages handles GET /tasks/{id}/messages.
func (h *StoryHandler) TaskMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	history, err := h.orch.MessageHistory(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read task history")
		return
	}
	if history == nil {
		history = []*models.Message{}
	}
	h.JSON(w, http.StatusOK, TaskMessagesResponse{CorrelationID: id, Messages: history})
}

// GetMessage handles GET /messages/{id}. The persisted message log is
// consulted first, then the broker.
func (h *StoryHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	var sources []func(ctx context.Context, id string) (*models.Message, error)
	if reader, ok := h.log.(store.MessageReader); ok {
		sources = append(sources, reader.Get)
	}
	if getter, ok := h.broker.(broker.MessageGetter); ok {
		sources = append(sources, getter.GetMessage)
	}
	if len(sources) == 0 {
		h.Error(w, http.StatusNotImplemented, "messages are not retrievable by id")
		return
	}

	id := chi.URLParam(r, "id")
	for _, get := range sources {
		msg, err := get(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			h.logger.Error().Err(err).Str("message_id", id).Msg("message lookup failed")
			h.Error(w, http.StatusInternalServerError, "failed to read message")
			return
		}
		h.JSON(w, http.StatusOK, msg)
		return
	}
	h.Error(w, http.StatusNotFound, "message not found")
}
