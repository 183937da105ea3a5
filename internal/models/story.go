package models

// StoryRequest is the task input that starts a pipeline run.
type StoryRequest struct {
	Plot      string   `json:"plot"`
	Themes    []string `json:"themes,omitempty"`
	TargetAge string   `json:"target_age,omitempty"`
	Length    string   `json:"length,omitempty"` // short, medium or long
	ArtStyle  string   `json:"art_style,omitempty"`
	Title     string   `json:"title,omitempty"`
}

// StoryTitle returns the explicit title, or the plot clipped to 50 runes.
func (r StoryRequest) StoryTitle() string {
	if r.Title != "" {
		return r.Title
	}
	runes := []rune(r.Plot)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	if len(runes) == 0 {
		return "Untitled Story"
	}
	return string(runes)
}

// Character is a member of the story's cast.
type Character struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
}

// Chapter is one written section of the story.
type Chapter struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

// Scene is a moment selected for illustration.
type Scene struct {
	ID          string   `json:"id"`
	Chapter     int      `json:"chapter"`
	Description string   `json:"description"`
	Characters  []string `json:"characters,omitempty"`
	Mood        string   `json:"mood,omitempty"`
}

// Story is the writer's accumulated output.
type Story struct {
	Title      string      `json:"title,omitempty"`
	Plot       string      `json:"plot"`
	Themes     []string    `json:"themes,omitempty"`
	TargetAge  string      `json:"target_age,omitempty"`
	Characters []Character `json:"characters,omitempty"`
	Chapters   []Chapter   `json:"chapters,omitempty"`
}

// StoryResult is returned by the writing stage.
type StoryResult struct {
	Status             string    `json:"status"`
	Story              Story     `json:"story"`
	Chapters           []Chapter `json:"chapters"`
	IllustrationScenes []Scene   `json:"illustration_scenes"`
}

// Image references one generated illustration.
type Image struct {
	SceneID string `json:"scene_id"`
	Path    string `json:"path,omitempty"`
	Prompt  string `json:"prompt"`
	Style   string `json:"style,omitempty"`
}

// IllustrationResult is returned by the illustration stage.
type IllustrationResult struct {
	Status              string            `json:"status"`
	Images              []Image           `json:"images"`
	CharacterReferences map[string]string `json:"character_references,omitempty"`
}

// PublicationResult is returned by the publication stage.
type PublicationResult struct {
	Status    string            `json:"status"`
	Files     map[string]string `json:"files"`
	Title     string            `json:"title,omitempty"`
	PageCount int               `json:"page_count"`
}

// TaskStatus is the terminal state of a pipeline run.
type TaskStatus string

const (
	TaskComplete TaskStatus = "complete"
	TaskError    TaskStatus = "error"
	TaskTimeout  TaskStatus = "timeout"
)

// Metadata summarises what each stage produced.
type Metadata struct {
	Title     string `json:"title"`
	Chapters  int    `json:"chapters"`
	Images    int    `json:"images"`
	PageCount int    `json:"page_count"`
}

// Result is returned by both orchestrator variants.
type Result struct {
	Status        TaskStatus        `json:"status"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Message       string            `json:"message,omitempty"`
	Story         *Story            `json:"story,omitempty"`
	Images        []Image           `json:"images,omitempty"`
	Publications  map[string]string `json:"publications,omitempty"`
	Metadata      Metadata          `json:"metadata"`
}

// AssembleResult builds a complete Result from the three stage outputs.
func AssembleResult(title string, story StoryResult, art IllustrationResult, pub PublicationResult) *Result {
	if pub.Title != "" {
		title = pub.Title
	}
	s := story.Story
	if len(s.Chapters) == 0 {
		s.Chapters = story.Chapters
	}
	return &Result{
		Status:       TaskComplete,
		Story:        &s,
		Images:       art.Images,
		Publications: pub.Files,
		Metadata: Metadata{
			Title:     title,
			Chapters:  len(story.Chapters),
			Images:    len(art.Images),
			PageCount: pub.PageCount,
		},
	}
}
