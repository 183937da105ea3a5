package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// chapterCounts maps the requested length onto a chapter count.
var chapterCounts = map[string]int{
	"short":  3,
	"medium": 5,
	"long":   8,
}

var moods = []string{"curious", "tense", "joyful", "hopeful", "quiet", "triumphant"}

// Author writes the story. Its text is template driven; a model-backed
// writer can replace it behind the Worker interface.
type Author struct {
	Base

	mu     sync.Mutex
	scenes map[string]models.Scene
}

// NewAuthor creates the writing stage.
func NewAuthor(name string, logger zerolog.Logger) *Author {
	return &Author{
		Base:   NewBase(name, "author", logger),
		scenes: make(map[string]models.Scene),
	}
}

// Execute handles create_story and describe_scene.
func (a *Author) Execute(ctx context.Context, task models.Payload) (models.Payload, error) {
	action, _ := models.ParseAction(task.String(models.KeyAction))
	switch action {
	case models.ActionCreateStory:
		return runTask(&a.Base, action, func() (models.Payload, error) {
			var req models.StoryRequest
			if err := task.Decode("", &req); err != nil {
				return nil, err
			}
			return models.ToPayload(a.write(req))
		})
	case models.ActionDescribeScene:
		return runTask(&a.Base, action, func() (models.Payload, error) {
			id := task.String("scene_id")
			return models.Payload{
				models.KeyStatus: models.StatusComplete,
				"scene_id":       id,
				"description":    a.describe(id, task.String("description")),
			}, nil
		})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, task.String(models.KeyAction))
}

// Handle answers requests directly.
func (a *Author) Handle(ctx context.Context, msg *models.Message) (*models.Message, error) {
	return respond(ctx, a, &a.Base, msg)
}

func (a *Author) write(req models.StoryRequest) models.StoryResult {
	if req.Plot == "" {
		req.Plot = "an unexpected adventure"
	}
	n, ok := chapterCounts[req.Length]
	if !ok {
		n = chapterCounts["short"]
	}

	a.logger.Info().Str("plot", clip(req.Plot, 60)).Int("chapters", n).Msg("writing story")

	cast := castFor(req)
	story := models.Story{
		Title:      req.StoryTitle(),
		Plot:       req.Plot,
		Themes:     req.Themes,
		TargetAge:  req.TargetAge,
		Characters: cast,
	}

	var scenes []models.Scene
	for i := 1; i <= n; i++ {
		ch := models.Chapter{
			Number: i,
			Title:  chapterTitle(i, n),
			Text:   chapterText(i, n, req, cast),
		}
		story.Chapters = append(story.Chapters, ch)

		scene := models.Scene{
			ID:          fmt.Sprintf("ch%d_scene1", i),
			Chapter:     i,
			Description: fmt.Sprintf("%s in chapter %d", cast[0].Name, i),
			Characters:  []string{cast[0].Name},
			Mood:        moods[(i-1)%len(moods)],
		}
		if i%2 == 0 && len(cast) > 1 {
			scene.Characters = append(scene.Characters, cast[1].Name)
			scene.Description = fmt.Sprintf("%s standing beside %s, looking toward the horizon as %s unfolds",
				cast[0].Name, cast[1].Name, clip(req.Plot, 40))
		}
		scenes = append(scenes, scene)
	}

	a.mu.Lock()
	for _, s := range scenes {
		a.scenes[s.ID] = s
	}
	a.mu.Unlock()

	return models.StoryResult{
		Status:             models.StatusComplete,
		Story:              story,
		Chapters:           story.Chapters,
		IllustrationScenes: scenes,
	}
}

// describe expands a terse scene into a visually actionable description.
func (a *Author) describe(id, fallback string) string {
	a.mu.Lock()
	scene, ok := a.scenes[id]
	a.mu.Unlock()
	if !ok {
		if fallback == "" {
			return "Scene not found"
		}
		scene = models.Scene{ID: id, Description: fallback, Mood: "calm"}
	}

	who := "the hero"
	if len(scene.Characters) > 0 {
		who = strings.Join(scene.Characters, " and ")
	}
	return fmt.Sprintf("%s. %s standing in the foreground, looking toward the viewer with a %s expression; "+
		"soft light falls across the setting, and the key details of the moment are clearly visible.",
		strings.TrimSuffix(scene.Description, "."), who, scene.Mood)
}

func castFor(req models.StoryRequest) []models.Character {
	cast := []models.Character{
		{Name: "Mira", Role: "protagonist", Description: "a brave and curious young explorer"},
		{Name: "Pip", Role: "companion", Description: "a loyal friend who always asks the right question"},
	}
	if len(req.Themes) > 0 {
		cast = append(cast, models.Character{
			Name:        "The Keeper",
			Role:        "mentor",
			Description: fmt.Sprintf("a wise guide who teaches about %s", strings.Join(req.Themes, " and ")),
		})
	}
	return cast
}

func chapterTitle(i, n int) string {
	switch {
	case i == 1:
		return "The Beginning"
	case i == n:
		return "The Way Home"
	default:
		return fmt.Sprintf("Part %d of the Journey", i)
	}
}

func chapterText(i, n int, req models.StoryRequest, cast []models.Character) string {
	hero := cast[0]
	var b strings.Builder
	switch {
	case i == 1:
		fmt.Fprintf(&b, "%s, %s, had never imagined %s. ", hero.Name, hero.Description, req.Plot)
	case i == n:
		fmt.Fprintf(&b, "At last %s understood what the journey had been for. ", hero.Name)
	default:
		fmt.Fprintf(&b, "The path grew stranger as %s pressed on. ", hero.Name)
	}
	for _, theme := range req.Themes {
		fmt.Fprintf(&b, "Along the way there was a lesson about %s. ", theme)
	}
	return strings.TrimSpace(b.String())
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
