package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/broker"
	"github.com/chanderbawa/AI-Story-Agents/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	broker broker.Broker
	log    store.MessageLog
	logger zerolog.Logger
}

// NewHandler creates a new Handler. log may be nil when no message log is
// configured.
func NewHandler(b broker.Broker, log store.MessageLog, logger zerolog.Logger) *Handler {
	return &Handler{broker: b, log: log, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

const maxNameRunes = 100

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > maxNameRunes {
		name = string(runes[:maxNameRunes])
	}

	return name
}
