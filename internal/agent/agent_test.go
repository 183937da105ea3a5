package agent

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

func createStoryTask(t *testing.T, req models.StoryRequest) models.Payload {
	t.Helper()
	p, err := models.ToPayload(req)
	if err != nil {
		t.Fatal(err)
	}
	p[models.KeyAction] = string(models.ActionCreateStory)
	return p
}

func TestAuthorChapterCountByLength(t *testing.T) {
	author := NewAuthor("AuthorService", zerolog.Nop())
	ctx := context.Background()

	for length, want := range map[string]int{"short": 3, "medium": 5, "long": 8, "": 3} {
		out, err := author.Execute(ctx, createStoryTask(t, models.StoryRequest{
			Plot:   "a lighthouse keeper befriends a whale",
			Themes: []string{"friendship"},
			Length: length,
		}))
		if err != nil {
			t.Fatal(err)
		}
		var res models.StoryResult
		if err := out.Decode("", &res); err != nil {
			t.Fatal(err)
		}
		if res.Status != models.StatusComplete {
			t.Fatalf("expected complete, got %q", res.Status)
		}
		if len(res.Chapters) != want {
			t.Fatalf("length %q: expected %d chapters, got %d", length, want, len(res.Chapters))
		}
		if len(res.IllustrationScenes) != want {
			t.Fatalf("expected one scene per chapter, got %d", len(res.IllustrationScenes))
		}
	}

	if author.Status() != models.AgentIdle {
		t.Fatalf("expected idle after work, got %s", author.Status())
	}
}

func TestAuthorDescribeScene(t *testing.T) {
	author := NewAuthor("AuthorService", zerolog.Nop())
	ctx := context.Background()

	out, err := author.Execute(ctx, createStoryTask(t, models.StoryRequest{Plot: "a fox", Length: "short"}))
	if err != nil {
		t.Fatal(err)
	}
	var res models.StoryResult
	out.Decode("", &res)
	scene := res.IllustrationScenes[0]

	reply, err := author.Handle(ctx, models.NewMessage("IllustratorService", "AuthorService", models.TypeRequest,
		models.Payload{"action": "describe_scene", "scene_id": scene.ID}, "corr"))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Receiver != "IllustratorService" || reply.CorrelationID != "corr" {
		t.Fatalf("unexpected reply routing: %+v", reply)
	}
	desc := reply.Payload.String("description")
	if desc == scene.Description || !strings.Contains(desc, "standing") {
		t.Fatalf("expected enhanced description, got %q", desc)
	}
}

func TestAuthorRejectsUnknownAction(t *testing.T) {
	author := NewAuthor("AuthorService", zerolog.Nop())
	_, err := author.Execute(context.Background(), models.Payload{"action": "paint"})
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("expected ErrUnsupportedAction, got %v", err)
	}
}

func TestIllustratorFromStoryData(t *testing.T) {
	dir := t.TempDir()
	il := NewIllustrator("IllustratorService", dir, zerolog.Nop())

	story, _ := models.ToPayload(models.StoryResult{
		Status: models.StatusComplete,
		Story:  models.Story{Characters: []models.Character{{Name: "Mira", Description: "an explorer"}}},
		IllustrationScenes: []models.Scene{
			{ID: "s1", Chapter: 1, Description: "Mira at the gate", Characters: []string{"Mira"}},
			{ID: "s2", Chapter: 2, Description: "Mira on the hill"},
		},
	})
	out, err := il.Execute(context.Background(), models.Payload{
		"action":     "generate_illustrations",
		"story_data": map[string]any(story),
		"art_style":  "watercolor",
	})
	if err != nil {
		t.Fatal(err)
	}

	var res models.IllustrationResult
	if err := out.Decode("", &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(res.Images))
	}
	if !strings.Contains(res.Images[0].Prompt, "watercolor") {
		t.Fatalf("expected style in prompt, got %q", res.Images[0].Prompt)
	}
	if _, ok := res.CharacterReferences["Mira"]; !ok {
		t.Fatal("expected character reference for Mira")
	}
	if _, err := os.Stat(res.Images[1].Path); err != nil {
		t.Fatalf("expected placeholder written: %v", err)
	}
}

func TestPublisherWritesFormats(t *testing.T) {
	dir := t.TempDir()
	pub := NewPublisher("PublisherService", dir, nil, zerolog.Nop())

	story, _ := models.ToPayload(models.StoryResult{
		Status:   models.StatusComplete,
		Story:    models.Story{Title: "The Fox & The Moon"},
		Chapters: []models.Chapter{{Number: 1, Title: "Start", Text: "Once upon a time."}},
		IllustrationScenes: []models.Scene{{ID: "s1", Chapter: 1}},
	})
	art, _ := models.ToPayload(models.IllustrationResult{
		Status: models.StatusComplete,
		Images: []models.Image{{SceneID: "s1", Path: "s1.svg", Prompt: "fox"}},
	})

	out, err := pub.Execute(context.Background(), models.Payload{
		"action":        "create_publication",
		"story_data":    map[string]any(story),
		"illustrations": map[string]any(art),
	})
	if err != nil {
		t.Fatal(err)
	}

	var res models.PublicationResult
	out.Decode("", &res)
	if res.Status != models.StatusComplete {
		t.Fatalf("expected complete, got %q", res.Status)
	}
	for _, format := range []string{FormatHTML, FormatMarkdown} {
		path, ok := res.Files[format]
		if !ok {
			t.Fatalf("missing %s output", format)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "Once upon a time.") {
			t.Fatalf("%s output missing chapter text", format)
		}
	}
	if !strings.HasSuffix(res.Files[FormatHTML], "The_Fox_The_Moon.html") {
		t.Fatalf("unexpected file name %q", res.Files[FormatHTML])
	}
	if res.PageCount != 3 {
		t.Fatalf("expected 3 pages, got %d", res.PageCount)
	}
}

func TestFuncWorkerCapturesPanic(t *testing.T) {
	w := FromFunc("Flaky", func(ctx context.Context, task models.Payload) (models.Payload, error) {
		panic("exploded")
	})

	_, err := w.Execute(context.Background(), models.Payload{"action": "create_story"})
	if err == nil || !strings.Contains(err.Error(), "exploded") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
	if w.Status() != models.AgentError {
		t.Fatalf("expected error status, got %s", w.Status())
	}
}

func TestFuncWorkerHandleIgnoresNonRequests(t *testing.T) {
	calls := 0
	w := FromFunc("Echo", func(ctx context.Context, task models.Payload) (models.Payload, error) {
		calls++
		return models.Payload{"status": "complete"}, nil
	})

	reply, err := w.Handle(context.Background(), models.NewMessage("a", "Echo", models.TypeInfo, nil, ""))
	if err != nil || reply != nil || calls != 0 {
		t.Fatalf("expected info message to be absorbed, got reply=%v err=%v calls=%d", reply, err, calls)
	}
	if len(w.Recent(10)) != 1 {
		t.Fatal("expected message remembered")
	}
}
