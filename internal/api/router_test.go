package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/agent"
	"github.com/chanderbawa/AI-Story-Agents/internal/broker"
	"github.com/chanderbawa/AI-Story-Agents/internal/handlers"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/orchestrator"
	"github.com/chanderbawa/AI-Story-Agents/internal/service"
	"github.com/chanderbawa/AI-Story-Agents/internal/store"
)

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAgentRouter(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Options{Logger: zerolog.Nop()})
	defer b.Close()

	author := agent.NewAuthor(models.ParticipantAuthor, zerolog.Nop())
	svc := service.New(models.ParticipantAuthor, author, b, zerolog.Nop())
	r := NewAgentRouter(zerolog.Nop(), nil, handlers.NewAgentHandler(handlers.NewHandler(b, nil, zerolog.Nop()), svc))

	// Loop not started yet.
	rec := do(t, r, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for stopped loop, got %d", rec.Code)
	}
	var health handlers.HealthResponse
	json.NewDecoder(rec.Body).Decode(&health)
	if health.Agent != models.ParticipantAuthor || health.State != string(service.StateStopped) {
		t.Fatalf("unexpected health %+v", health)
	}

	rec = do(t, r, http.MethodPost, "/send", handlers.SendRequest{
		Sender:  "tester",
		Content: models.Payload{"action": "create_story", "plot": "a fox"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	var sent handlers.SendResponse
	json.NewDecoder(rec.Body).Decode(&sent)
	if sent.Status != "accepted" || sent.MessageID == "" {
		t.Fatalf("unexpected send response %+v", sent)
	}
	if b.QueueLen(models.ParticipantAuthor) != 1 {
		t.Fatal("expected message enqueued for the worker")
	}

	rec = do(t, r, http.MethodPost, "/send", handlers.SendRequest{MessageType: "shout"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad type, got %d", rec.Code)
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	rec = do(t, r, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once running, got %d", rec.Code)
	}

	rec = do(t, r, http.MethodGet, "/status", nil)
	var status handlers.StatusResponse
	json.NewDecoder(rec.Body).Decode(&status)
	if status.Agent != models.ParticipantAuthor || status.State.State != service.StateRunning {
		t.Fatalf("unexpected status %+v", status)
	}

	rec = do(t, r, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint returned %d", rec.Code)
	}
}

func TestOrchestratorRouter(t *testing.T) {
	dir := t.TempDir()
	log, err := store.NewFileLog(dir)
	if err != nil {
		t.Fatal(err)
	}
	b := broker.NewMemoryBroker(broker.Options{Log: log, Logger: zerolog.Nop()})
	defer b.Close()

	workers := []agent.Worker{
		agent.NewAuthor(models.ParticipantAuthor, zerolog.Nop()),
		agent.NewIllustrator(models.ParticipantIllustrator, "", zerolog.Nop()),
		agent.NewPublisher(models.ParticipantPublisher, dir, nil, zerolog.Nop()),
	}
	for _, w := range workers {
		svc := service.New(w.Name(), w, b, zerolog.Nop(), service.WithPollTimeout(20*time.Millisecond))
		if err := svc.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer svc.Stop()
	}

	orch := orchestrator.New(b, orchestrator.Config{PollInterval: 20 * time.Millisecond}, zerolog.Nop())
	h := handlers.NewStoryHandler(handlers.NewHandler(b, log, zerolog.Nop()), orch, 5*time.Second)
	r := NewOrchestratorRouter(zerolog.Nop(), nil, h)

	rec := do(t, r, http.MethodPost, "/stories", map[string]any{
		"plot":            "a lighthouse keeper befriends a whale",
		"themes":          []string{"friendship"},
		"length":          "short",
		"timeout_seconds": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var res models.Result
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Status != models.TaskComplete {
		t.Fatalf("expected complete, got %s: %s", res.Status, res.Message)
	}
	if res.Metadata.Chapters != 3 || res.Metadata.Images != 3 {
		t.Fatalf("unexpected metadata %+v", res.Metadata)
	}

	rec = do(t, r, http.MethodGet, "/tasks/"+res.CorrelationID, nil)
	var st orchestrator.TaskStatus
	json.NewDecoder(rec.Body).Decode(&st)
	if rec.Code != http.StatusOK || st.Status != orchestrator.TaskCompleted {
		t.Fatalf("unexpected task status %d %+v", rec.Code, st)
	}

	rec = do(t, r, http.MethodGet, "/tasks/"+res.CorrelationID+"/messages", nil)
	var history handlers.TaskMessagesResponse
	json.NewDecoder(rec.Body).Decode(&history)
	if len(history.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history.Messages))
	}

	rec = do(t, r, http.MethodGet, "/messages/"+history.Messages[0].ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected persisted message, got %d", rec.Code)
	}

	rec = do(t, r, http.MethodGet, "/tasks/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, r, http.MethodPost, "/stories", map[string]any{"plot": " "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty plot, got %d", rec.Code)
	}

	rec = do(t, r, http.MethodGet, "/stats", nil)
	var stats handlers.StatsResponse
	json.NewDecoder(rec.Body).Decode(&stats)
	if rec.Code != http.StatusOK || len(stats.Queues) < 4 {
		t.Fatalf("unexpected stats %d %+v", rec.Code, stats)
	}
}
