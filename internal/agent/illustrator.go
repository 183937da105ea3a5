package agent

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

const defaultArtStyle = "children_book"

// Illustrator turns scenes into images. Image synthesis is external; this
// stage builds prompts and, when an output directory is set, writes an SVG
// placeholder card per scene.
type Illustrator struct {
	Base
	outputDir string

	mu   sync.Mutex
	refs map[string]string
}

// NewIllustrator creates the illustration stage. An empty outputDir keeps
// images as prompt references only.
func NewIllustrator(name, outputDir string, logger zerolog.Logger) *Illustrator {
	return &Illustrator{
		Base:      NewBase(name, "illustrator", logger),
		outputDir: outputDir,
		refs:      make(map[string]string),
	}
}

// IllustrationInput is what the stage reads from a task payload. Scenes and
// characters come either from the writer's result under "story_data" or
// directly from the task.
type IllustrationInput struct {
	Scenes     []models.Scene
	Characters []models.Character
	ArtStyle   string
}

// ParseIllustrationInput extracts the stage input from a task.
func ParseIllustrationInput(task models.Payload) (IllustrationInput, error) {
	var in IllustrationInput
	if _, ok := task[models.KeyStoryData]; ok {
		var story models.StoryResult
		if err := task.Decode(models.KeyStoryData, &story); err != nil {
			return in, err
		}
		in.Scenes = story.IllustrationScenes
		in.Characters = story.Story.Characters
	}
	if _, ok := task["scenes"]; ok {
		if err := task.Decode("scenes", &in.Scenes); err != nil {
			return in, err
		}
	}
	if _, ok := task["characters"]; ok {
		if err := task.Decode("characters", &in.Characters); err != nil {
			return in, err
		}
	}
	in.ArtStyle = task.String("art_style")
	if in.ArtStyle == "" {
		in.ArtStyle = defaultArtStyle
	}
	return in, nil
}

// Execute handles generate_illustrations.
func (il *Illustrator) Execute(ctx context.Context, task models.Payload) (models.Payload, error) {
	action, _ := models.ParseAction(task.String(models.KeyAction))
	if action != models.ActionGenerateIllustrations {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, task.String(models.KeyAction))
	}

	return runTask(&il.Base, action, func() (models.Payload, error) {
		in, err := ParseIllustrationInput(task)
		if err != nil {
			return nil, err
		}
		result, err := il.illustrate(ctx, in)
		if err != nil {
			return nil, err
		}
		return models.ToPayload(result)
	})
}

// Handle answers requests directly.
func (il *Illustrator) Handle(ctx context.Context, msg *models.Message) (*models.Message, error) {
	return respond(ctx, il, &il.Base, msg)
}

func (il *Illustrator) illustrate(ctx context.Context, in IllustrationInput) (models.IllustrationResult, error) {
	il.logger.Info().Int("scenes", len(in.Scenes)).Str("style", in.ArtStyle).Msg("generating illustrations")

	il.mu.Lock()
	for _, c := range in.Characters {
		if _, ok := il.refs[c.Name]; !ok {
			il.refs[c.Name] = fmt.Sprintf("%s, %s, consistent %s character design", c.Name, c.Description, in.ArtStyle)
		}
	}
	refs := make(map[string]string, len(il.refs))
	for k, v := range il.refs {
		refs[k] = v
	}
	il.mu.Unlock()

	if il.outputDir != "" {
		if err := os.MkdirAll(il.outputDir, 0o755); err != nil {
			return models.IllustrationResult{}, fmt.Errorf("illustrator: ensure output dir: %w", err)
		}
	}

	images := make([]models.Image, 0, len(in.Scenes))
	for _, scene := range in.Scenes {
		if err := ctx.Err(); err != nil {
			return models.IllustrationResult{}, err
		}
		img := models.Image{
			SceneID: scene.ID,
			Prompt:  prompt(scene, in.ArtStyle, refs),
			Style:   in.ArtStyle,
		}
		if il.outputDir != "" {
			path := filepath.Join(il.outputDir, scene.ID+".svg")
			if err := os.WriteFile(path, []byte(placeholderSVG(scene)), 0o644); err != nil {
				return models.IllustrationResult{}, fmt.Errorf("illustrator: write %s: %w", scene.ID, err)
			}
			img.Path = path
		}
		images = append(images, img)
	}

	return models.IllustrationResult{
		Status:              models.StatusComplete,
		Images:              images,
		CharacterReferences: refs,
	}, nil
}

func prompt(scene models.Scene, style string, refs map[string]string) string {
	parts := []string{scene.Description}
	for _, name := range scene.Characters {
		if ref, ok := refs[name]; ok {
			parts = append(parts, ref)
		}
	}
	if scene.Mood != "" {
		parts = append(parts, scene.Mood+" mood")
	}
	parts = append(parts, strings.ReplaceAll(style, "_", " ")+" illustration")
	return strings.Join(parts, ", ")
}

func placeholderSVG(scene models.Scene) string {
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="768" height="1024" viewBox="0 0 768 1024">
<rect width="768" height="1024" fill="#f6f1e7"/>
<text x="384" y="480" font-family="serif" font-size="28" text-anchor="middle">Chapter %d</text>
<text x="384" y="530" font-family="serif" font-size="18" text-anchor="middle">%s</text>
</svg>
`, scene.Chapter, html.EscapeString(clip(scene.Description, 70)))
}
