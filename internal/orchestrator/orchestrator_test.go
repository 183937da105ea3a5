package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/agent"
	"github.com/chanderbawa/AI-Story-Agents/internal/broker"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/service"
)

func stubAuthor(delay func(req models.StoryRequest) time.Duration) agent.Worker {
	return agent.FromFunc(models.ParticipantAuthor, func(ctx context.Context, task models.Payload) (models.Payload, error) {
		var req models.StoryRequest
		task.Decode("", &req)
		if delay != nil {
			time.Sleep(delay(req))
		}
		return models.ToPayload(models.StoryResult{
			Status: models.StatusComplete,
			Story:  models.Story{Title: req.StoryTitle(), Plot: req.Plot},
			Chapters: []models.Chapter{
				{Number: 1, Text: "one"}, {Number: 2, Text: "two"}, {Number: 3, Text: "three"},
			},
			IllustrationScenes: []models.Scene{{ID: "a", Chapter: 1}, {ID: "b", Chapter: 3}},
		})
	})
}

func stubIllustrator() agent.Worker {
	return agent.FromFunc(models.ParticipantIllustrator, func(ctx context.Context, task models.Payload) (models.Payload, error) {
		return models.ToPayload(models.IllustrationResult{
			Status: models.StatusComplete,
			Images: []models.Image{{SceneID: "a"}, {SceneID: "b"}},
		})
	})
}

func stubPublisher() agent.Worker {
	return agent.FromFunc(models.ParticipantPublisher, func(ctx context.Context, task models.Payload) (models.Payload, error) {
		return models.ToPayload(models.PublicationResult{
			Status: models.StatusComplete,
			Files:  map[string]string{"pdf": "out/x.pdf", "html": "out/x.html"},
		})
	})
}

func pipeline(t *testing.T, workers ...agent.Worker) (*Orchestrator, *broker.MemoryBroker) {
	t.Helper()
	b := broker.NewMemoryBroker(broker.Options{Logger: zerolog.Nop()})
	t.Cleanup(func() { b.Close() })
	return pipelineOn(t, b, workers...), b
}

func redisPipeline(t *testing.T, workers ...agent.Worker) *Orchestrator {
	t.Helper()
	mr := miniredis.RunT(t)
	b := broker.NewRedisBrokerWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), broker.Options{Logger: zerolog.Nop()})
	t.Cleanup(func() { b.Close() })
	return pipelineOn(t, b, workers...)
}

func pipelineOn(t *testing.T, b broker.Broker, workers ...agent.Worker) *Orchestrator {
	t.Helper()
	for _, w := range workers {
		svc := service.New(w.Name(), w, b, zerolog.Nop(), service.WithPollTimeout(20*time.Millisecond))
		if err := svc.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { svc.Stop() })
	}

	o := New(b, Config{PollInterval: 50 * time.Millisecond}, zerolog.Nop())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return o
}

var storyInput = models.StoryRequest{Plot: "X", Themes: []string{"a", "b"}, Length: "short"}

func TestCreateStoryHappyPath(t *testing.T) {
	o, _ := pipeline(t, stubAuthor(nil), stubIllustrator(), stubPublisher())

	res, err := o.CreateStory(context.Background(), storyInput, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskComplete {
		t.Fatalf("expected complete, got %s: %s", res.Status, res.Message)
	}
	if res.Metadata.Chapters != 3 {
		t.Fatalf("expected 3 chapters, got %d", res.Metadata.Chapters)
	}
	if res.Metadata.Images != 2 {
		t.Fatalf("expected 2 images, got %d", res.Metadata.Images)
	}
	for _, key := range []string{"pdf", "html"} {
		if _, ok := res.Publications[key]; !ok {
			t.Fatalf("missing publication %q", key)
		}
	}
	if o.PendingCount() != 0 {
		t.Fatal("completed task should leave the pending map")
	}

	st, err := o.GetTaskStatus(context.Background(), res.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != TaskCompleted {
		t.Fatalf("expected completed from history, got %s", st.Status)
	}
}

func TestCreateStoryTimeout(t *testing.T) {
	o, _ := pipeline(t)

	start := time.Now()
	res, err := o.CreateStory(context.Background(), storyInput, time.Second)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskTimeout {
		t.Fatalf("expected timeout, got %s", res.Status)
	}
	if elapsed < time.Second || elapsed > 1500*time.Millisecond {
		t.Fatalf("timeout returned after %s", elapsed)
	}

	st, _ := o.GetTaskStatus(context.Background(), res.CorrelationID)
	if st.Status != TaskTimedOut {
		t.Fatalf("expected timed out entry kept, got %s", st.Status)
	}
}

func TestCreateStoryReportsStageError(t *testing.T) {
	failing := agent.FromFunc(models.ParticipantIllustrator, func(ctx context.Context, task models.Payload) (models.Payload, error) {
		return nil, errors.New("out of ink")
	})
	o, _ := pipeline(t, stubAuthor(nil), failing, stubPublisher())

	res, err := o.CreateStory(context.Background(), storyInput, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
}

func TestCreateStoryRejectsEmptyPlot(t *testing.T) {
	o, _ := pipeline(t)
	if _, err := o.CreateStory(context.Background(), models.StoryRequest{}, time.Second); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestConcurrentStoriesKeepHistoriesApart(t *testing.T) {
	o, _ := pipeline(t, stubAuthor(nil), stubIllustrator(), stubPublisher())

	var wg sync.WaitGroup
	results := make([]*models.Result, 2)
	for i, plot := range []string{"first", "second"} {
		wg.Add(1)
		go func(i int, plot string) {
			defer wg.Done()
			res, err := o.CreateStory(context.Background(), models.StoryRequest{Plot: plot}, 5*time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = res
		}(i, plot)
	}
	wg.Wait()

	for _, res := range results {
		if res == nil || res.Status != models.TaskComplete {
			t.Fatalf("expected both stories complete, got %+v", res)
		}
		history, err := o.MessageHistory(context.Background(), res.CorrelationID)
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 4 {
			t.Fatalf("expected 4 messages per story, got %d", len(history))
		}
		for _, m := range history {
			if m.CorrelationID != res.CorrelationID {
				t.Fatalf("foreign message %s in history", m.ID)
			}
		}
		route := []string{models.ParticipantAuthor, models.ParticipantIllustrator, models.ParticipantPublisher, models.ParticipantOrchestrator}
		for i, m := range history {
			if m.Receiver != route[i] {
				t.Fatalf("message %d went to %s, expected %s", i, m.Receiver, route[i])
			}
		}
	}
}

func TestLateCompletionIsRecorded(t *testing.T) {
	slow := func(req models.StoryRequest) time.Duration {
		if req.Plot == "slow" {
			return 300 * time.Millisecond
		}
		return 0
	}
	o, _ := pipeline(t, stubAuthor(slow), stubIllustrator(), stubPublisher())
	ctx := context.Background()

	timedOut, err := o.CreateStory(ctx, models.StoryRequest{Plot: "slow"}, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if timedOut.Status != models.TaskTimeout {
		t.Fatalf("expected timeout, got %s", timedOut.Status)
	}

	time.Sleep(500 * time.Millisecond)

	res, err := o.CreateStory(ctx, models.StoryRequest{Plot: "fast"}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskComplete {
		t.Fatalf("expected complete, got %s", res.Status)
	}

	st, _ := o.GetTaskStatus(ctx, timedOut.CorrelationID)
	if st.Status != TaskCompletedLate {
		t.Fatalf("expected completed_late, got %s", st.Status)
	}
}

func TestWatchRecordsLateCompletionWithoutPolling(t *testing.T) {
	slow := func(req models.StoryRequest) time.Duration { return 300 * time.Millisecond }
	o, _ := pipeline(t, stubAuthor(slow), stubIllustrator(), stubPublisher())
	if err := o.Watch(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	timedOut, err := o.CreateStory(ctx, models.StoryRequest{Plot: "slow"}, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if timedOut.Status != models.TaskTimeout {
		t.Fatalf("expected timeout, got %s", timedOut.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, _ := o.GetTaskStatus(ctx, timedOut.CorrelationID)
		if st.Status == TaskCompletedLate {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected completed_late, got %s", st.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPendingEntriesEvictedAfterTTL(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Options{Logger: zerolog.Nop()})
	defer b.Close()
	o := New(b, Config{PendingTTL: 50 * time.Millisecond, PollInterval: 20 * time.Millisecond}, zerolog.Nop())

	res, _ := o.CreateStory(context.Background(), storyInput, 50*time.Millisecond)
	if o.PendingCount() != 1 {
		t.Fatalf("expected timed out entry kept, got %d", o.PendingCount())
	}

	time.Sleep(100 * time.Millisecond)
	st, _ := o.GetTaskStatus(context.Background(), res.CorrelationID)
	if o.PendingCount() != 0 {
		t.Fatal("expected entry evicted")
	}
	if st.Status != TaskInProgress {
		t.Fatalf("expected history fallback, got %s", st.Status)
	}
}

func TestTaskStatusNotFound(t *testing.T) {
	o, _ := pipeline(t)
	st, err := o.GetTaskStatus(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != TaskNotFound {
		t.Fatalf("expected not_found, got %s", st.Status)
	}
}

func TestCreateStoryOverRedis(t *testing.T) {
	o := redisPipeline(t, stubAuthor(nil), stubIllustrator(), stubPublisher())

	res, err := o.CreateStory(context.Background(), storyInput, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskComplete || res.Metadata.Chapters != 3 {
		t.Fatalf("expected complete with 3 chapters, got %s %+v", res.Status, res.Metadata)
	}

	history, err := o.MessageHistory(context.Background(), res.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 || history[3].Receiver != o.Name() {
		t.Fatalf("unexpected history of %d messages", len(history))
	}
}

func TestStageErrorOverRedis(t *testing.T) {
	failing := agent.FromFunc(models.ParticipantPublisher, func(ctx context.Context, task models.Payload) (models.Payload, error) {
		return nil, errors.New("press jammed")
	})
	o := redisPipeline(t, stubAuthor(nil), stubIllustrator(), failing)

	start := time.Now()
	res, err := o.CreateStory(context.Background(), storyInput, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("error took %s to arrive", time.Since(start))
	}

	st, err := o.GetTaskStatus(context.Background(), res.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if st.LastReceiver != o.Name() {
		t.Fatalf("expected history to end at the orchestrator, got %s", st.LastReceiver)
	}
}

func TestTimeoutOverRedisKeepsBudget(t *testing.T) {
	o := redisPipeline(t)

	start := time.Now()
	res, err := o.CreateStory(context.Background(), storyInput, 1200*time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskTimeout {
		t.Fatalf("expected timeout, got %s", res.Status)
	}
	if elapsed < 1200*time.Millisecond || elapsed > 1700*time.Millisecond {
		t.Fatalf("timeout returned after %s", elapsed)
	}
}
