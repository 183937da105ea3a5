package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/agent"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

const vague = "a fox"

func TestClarityPolicy(t *testing.T) {
	p := DefaultClarityPolicy()
	cases := map[string]bool{
		vague: true,
		"The fox waits at the edge of the dark wood while the moon rises": true,
		"The fox is sitting at the edge of the dark wood while the moon rises": false,
		"The fox is LOOKING at the edge of the dark wood while the moon rises": false,
	}
	for desc, want := range cases {
		if got := p.NeedsClarification(desc); got != want {
			t.Errorf("%q: expected %v, got %v", desc, want, got)
		}
	}
}

func TestCoordinatorClarifiesBeforeIllustrating(t *testing.T) {
	var clarifications atomic.Int32
	author := agent.FromFunc(models.ParticipantAuthor, func(ctx context.Context, task models.Payload) (models.Payload, error) {
		action, _ := models.ParseAction(task.String(models.KeyAction))
		if action == models.ActionDescribeScene {
			clarifications.Add(1)
			return models.Payload{
				models.KeyStatus: models.StatusComplete,
				"description":    "the fox is standing on a hill, looking at the moon",
			}, nil
		}
		return models.ToPayload(models.StoryResult{
			Status:   models.StatusComplete,
			Chapters: []models.Chapter{{Number: 1, Text: "once"}},
			IllustrationScenes: []models.Scene{
				{ID: "s1", Chapter: 1, Description: vague},
				{ID: "s2", Chapter: 1, Description: "the fox is sitting by the river bank, waiting for the sun to rise"},
			},
		})
	})

	var seen []models.Scene
	illustrator := agent.FromFunc(models.ParticipantIllustrator, func(ctx context.Context, task models.Payload) (models.Payload, error) {
		if err := task.Decode("scenes", &seen); err != nil {
			return nil, err
		}
		return models.ToPayload(models.IllustrationResult{
			Status: models.StatusComplete,
			Images: []models.Image{{SceneID: "s1"}, {SceneID: "s2"}},
		})
	})

	c := NewCoordinator(author, illustrator, stubPublisher(), DefaultClarityPolicy(), zerolog.Nop())
	res, err := c.CreateStory(context.Background(), models.StoryRequest{Plot: "fox and moon"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskComplete {
		t.Fatalf("expected complete, got %s: %s", res.Status, res.Message)
	}
	if n := clarifications.Load(); n != 1 {
		t.Fatalf("expected exactly one clarification, got %d", n)
	}
	if len(seen) != 2 || seen[0].Description == vague {
		t.Fatalf("illustrator received unclarified scene: %+v", seen)
	}
	if res.Metadata.Images != 2 || len(res.Publications) != 2 {
		t.Fatalf("unexpected result %+v", res.Metadata)
	}
}

func TestCoordinatorStageFailure(t *testing.T) {
	failing := agent.FromFunc(models.ParticipantAuthor, func(ctx context.Context, task models.Payload) (models.Payload, error) {
		return nil, errors.New("writer's block")
	})
	c := NewCoordinator(failing, stubIllustrator(), stubPublisher(), DefaultClarityPolicy(), zerolog.Nop())

	res, err := c.CreateStory(context.Background(), storyInput)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.TaskError {
		t.Fatalf("expected error, got %s", res.Status)
	}
	if c.AgentStatus()[models.ParticipantAuthor] != models.AgentError {
		t.Fatal("expected author marked as errored")
	}
}

func TestCoordinatorRelay(t *testing.T) {
	c := NewCoordinator(stubAuthor(nil), stubIllustrator(), stubPublisher(), DefaultClarityPolicy(), zerolog.Nop())
	ctx := context.Background()

	if err := c.Relay(ctx, models.ParticipantIllustrator, models.ParticipantAuthor,
		models.Payload{"note": "hello"}, models.TypeInfo); err != nil {
		t.Fatal(err)
	}
	if err := c.Relay(ctx, "Nobody", models.ParticipantAuthor, nil, models.TypeInfo); err == nil {
		t.Fatal("expected unknown sender rejected")
	}
}
