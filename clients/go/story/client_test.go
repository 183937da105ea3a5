package story

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/agent"
	"github.com/chanderbawa/AI-Story-Agents/internal/api"
	"github.com/chanderbawa/AI-Story-Agents/internal/broker"
	"github.com/chanderbawa/AI-Story-Agents/internal/handlers"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/orchestrator"
	"github.com/chanderbawa/AI-Story-Agents/internal/service"
)

func startStack(t *testing.T) (orchURL, authorURL string) {
	t.Helper()
	b := broker.NewMemoryBroker(broker.Options{Logger: zerolog.Nop()})
	t.Cleanup(func() { b.Close() })
	base := handlers.NewHandler(b, nil, zerolog.Nop())

	workers := []agent.Worker{
		agent.NewAuthor(models.ParticipantAuthor, zerolog.Nop()),
		agent.NewIllustrator(models.ParticipantIllustrator, "", zerolog.Nop()),
		agent.NewPublisher(models.ParticipantPublisher, t.TempDir(), nil, zerolog.Nop()),
	}
	for _, w := range workers {
		svc := service.New(w.Name(), w, b, zerolog.Nop(), service.WithPollTimeout(20*time.Millisecond))
		if err := svc.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { svc.Stop() })

		if w.Name() == models.ParticipantAuthor {
			srv := httptest.NewServer(api.NewAgentRouter(zerolog.Nop(), nil, handlers.NewAgentHandler(base, svc)))
			t.Cleanup(srv.Close)
			authorURL = srv.URL
		}
	}

	orch := orchestrator.New(b, orchestrator.Config{PollInterval: 20 * time.Millisecond}, zerolog.Nop())
	srv := httptest.NewServer(api.NewOrchestratorRouter(zerolog.Nop(), nil, handlers.NewStoryHandler(base, orch, 5*time.Second)))
	t.Cleanup(srv.Close)
	return srv.URL, authorURL
}

func TestClientStoryLifecycle(t *testing.T) {
	orchURL, _ := startStack(t)
	c := NewClient(orchURL)
	ctx := context.Background()

	res, err := c.CreateStory(ctx, models.StoryRequest{Plot: "a kite that wanted to fly alone", Length: "medium"}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskComplete || res.Metadata.Chapters != 5 {
		t.Fatalf("unexpected result %+v", res)
	}

	st, err := c.TaskStatus(ctx, res.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "completed" || st.Messages != 4 {
		t.Fatalf("unexpected status %+v", st)
	}

	history, err := c.History(ctx, res.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 || history[0].Receiver != models.ParticipantAuthor {
		t.Fatalf("unexpected history %+v", history)
	}

	missing, err := c.TaskStatus(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if missing.Status != "not_found" {
		t.Fatalf("expected not_found, got %s", missing.Status)
	}

	// No message log on this stack; the broker answers.
	first, err := c.Message(ctx, history[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != history[0].ID || first.CorrelationID != res.CorrelationID {
		t.Fatalf("unexpected message %+v", first)
	}

	_, err = c.Message(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestClientRejectsEmptyPlot(t *testing.T) {
	orchURL, _ := startStack(t)
	_, err := NewClient(orchURL).CreateStory(context.Background(), models.StoryRequest{}, time.Second)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestClientSendAndHealth(t *testing.T) {
	_, authorURL := startStack(t)
	c := NewClient(authorURL)
	ctx := context.Background()

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if health.Agent != models.ParticipantAuthor || health.Status != "healthy" {
		t.Fatalf("unexpected health %+v", health)
	}

	resp, err := c.Send(ctx, SendRequest{
		Sender:  "tester",
		Content: models.Payload{"action": "describe_scene", "scene_id": "x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != "accepted" || resp.MessageID == "" {
		t.Fatalf("unexpected send response %+v", resp)
	}
}
