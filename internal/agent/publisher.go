package agent

import (
	"context"
	"fmt"
	htmltemplate "html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	texttemplate "text/template"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

const wordsPerPage = 250

var (
	unsafeChars = regexp.MustCompile(`[^\w\s-]`)
	separators  = regexp.MustCompile(`[-\s]+`)
)

var htmlBook = htmltemplate.Must(htmltemplate.New("book").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{range .Chapters}}<section>
<h2>Chapter {{.Number}}: {{.Title}}</h2>
<p>{{.Text}}</p>
{{range index $.Images .Number}}<figure><img src="{{.Path}}" alt="{{.Prompt}}"><figcaption>{{.SceneID}}</figcaption></figure>
{{end}}</section>
{{end}}</body>
</html>
`))

var markdownBook = texttemplate.Must(texttemplate.New("book").Parse(`# {{.Title}}
{{range .Chapters}}
## Chapter {{.Number}}: {{.Title}}

{{.Text}}
{{range index $.Images .Number}}
![{{.SceneID}}]({{.Path}})
{{end}}{{end}}`))

// Publisher assembles the final artifacts. Layout is intentionally plain;
// PDF rendering is left to an external renderer fed by the HTML output.
type Publisher struct {
	Base
	outputDir string
	formats   []string
}

// NewPublisher creates the publication stage writing formats into outputDir.
func NewPublisher(name, outputDir string, formats []string, logger zerolog.Logger) *Publisher {
	if outputDir == "" {
		outputDir = "output/publications"
	}
	if len(formats) == 0 {
		formats = []string{FormatHTML, FormatMarkdown}
	}
	return &Publisher{
		Base:      NewBase(name, "publisher", logger),
		outputDir: outputDir,
		formats:   formats,
	}
}

type bookView struct {
	Title    string
	Chapters []models.Chapter
	Images   map[int][]models.Image
}

// Execute handles create_publication.
func (p *Publisher) Execute(ctx context.Context, task models.Payload) (models.Payload, error) {
	action, _ := models.ParseAction(task.String(models.KeyAction))
	if action != models.ActionCreatePublication {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, task.String(models.KeyAction))
	}

	return runTask(&p.Base, action, func() (models.Payload, error) {
		var story models.StoryResult
		if err := task.Decode(models.KeyStoryData, &story); err != nil {
			return nil, err
		}
		var art models.IllustrationResult
		if _, ok := task[models.KeyIllustrations]; ok {
			if err := task.Decode(models.KeyIllustrations, &art); err != nil {
				return nil, err
			}
		}

		title := task.String("title")
		if title == "" {
			title = story.Story.Title
		}
		if title == "" {
			title = models.StoryRequest{Plot: story.Story.Plot}.StoryTitle()
		}

		result, err := p.publish(title, story, art)
		if err != nil {
			return nil, err
		}
		return models.ToPayload(result)
	})
}

// Handle answers requests directly.
func (p *Publisher) Handle(ctx context.Context, msg *models.Message) (*models.Message, error) {
	return respond(ctx, p, &p.Base, msg)
}

func (p *Publisher) publish(title string, story models.StoryResult, art models.IllustrationResult) (models.PublicationResult, error) {
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return models.PublicationResult{}, fmt.Errorf("publisher: ensure output dir: %w", err)
	}

	view := bookView{
		Title:    title,
		Chapters: story.Chapters,
		Images:   imagesByChapter(story.IllustrationScenes, art.Images),
	}
	base := sanitizeFilename(title)

	files := make(map[string]string, len(p.formats))
	for _, format := range p.formats {
		var path string
		var err error
		switch format {
		case FormatHTML:
			path = filepath.Join(p.outputDir, base+".html")
			err = writeTemplate(path, func(f *os.File) error { return htmlBook.Execute(f, view) })
		case FormatMarkdown:
			path = filepath.Join(p.outputDir, base+".md")
			err = writeTemplate(path, func(f *os.File) error { return markdownBook.Execute(f, view) })
		default:
			p.logger.Warn().Str("format", format).Msg("unsupported publication format skipped")
			continue
		}
		if err != nil {
			return models.PublicationResult{}, fmt.Errorf("publisher: %s: %w", format, err)
		}
		files[format] = path
	}

	p.logger.Info().Str("title", title).Int("formats", len(files)).Msg("publication complete")

	return models.PublicationResult{
		Status:    models.StatusComplete,
		Files:     files,
		Title:     title,
		PageCount: EstimatePageCount(story.Chapters, len(art.Images)),
	}, nil
}

// EstimatePageCount assumes 250 words per page, one page per image and two
// pages of front matter.
func EstimatePageCount(chapters []models.Chapter, images int) int {
	words := 0
	for _, ch := range chapters {
		words += len(strings.Fields(ch.Text))
	}
	return words/wordsPerPage + images + 2
}

func imagesByChapter(scenes []models.Scene, images []models.Image) map[int][]models.Image {
	chapterOf := make(map[string]int, len(scenes))
	for _, s := range scenes {
		chapterOf[s.ID] = s.Chapter
	}
	out := make(map[int][]models.Image)
	for _, img := range images {
		ch := chapterOf[img.SceneID]
		out[ch] = append(out[ch], img)
	}
	return out
}

func writeTemplate(path string, render func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sanitizeFilename(name string) string {
	safe := unsafeChars.ReplaceAllString(name, "")
	safe = separators.ReplaceAllString(strings.TrimSpace(safe), "_")
	if len(safe) > 50 {
		safe = safe[:50]
	}
	if safe == "" {
		safe = "story"
	}
	return safe
}
