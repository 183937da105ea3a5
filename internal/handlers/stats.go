package handlers

import (
	"net/http"
	"sort"
)

// QueueStats is the depth of one participant queue.
type QueueStats struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	PendingTasks int          `json:"pending_tasks"`
	TotalQueued  int          `json:"total_queued"`
	Queues       []QueueStats `json:"queues"`
}

// Stats reports queue depths and pending orchestrator entries.
func (h *StoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	depths, err := h.broker.QueueDepths(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read queues")
		return
	}

	resp := StatsResponse{
		PendingTasks: h.orch.PendingCount(),
		Queues:       make([]QueueStats, 0, len(depths)),
	}
	for name, depth := range depths {
		resp.Queues = append(resp.Queues, QueueStats{Name: name, Depth: depth})
		resp.TotalQueued += depth
	}
	sort.Slice(resp.Queues, func(i, j int) bool {
		return resp.Queues[i].Name < resp.Queues[j].Name
	})

	h.JSON(w, http.StatusOK, resp)
}
