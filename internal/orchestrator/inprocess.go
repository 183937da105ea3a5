package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/agent"
	"github.com/chanderbawa/AI-Story-Agents/internal/metrics"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// ClarityPolicy decides whether a scene description is concrete enough to
// illustrate.
type ClarityPolicy struct {
	MinLength int
	Keywords  []string
}

// DefaultClarityPolicy asks for at least 50 characters and one pose word.
func DefaultClarityPolicy() ClarityPolicy {
	return ClarityPolicy{
		MinLength: 50,
		Keywords:  []string{"standing", "sitting", "looking"},
	}
}

// NeedsClarification reports whether description fails the policy.
func (p ClarityPolicy) NeedsClarification(description string) bool {
	if len(description) < p.MinLength {
		return true
	}
	if len(p.Keywords) == 0 {
		return false
	}
	lower := strings.ToLower(description)
	for _, kw := range p.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

// Coordinator runs the pipeline by calling each worker's Handle in turn.
// There is no broker, polling or timeout; ctx is the only bound.
type Coordinator struct {
	author      agent.Worker
	illustrator agent.Worker
	publisher   agent.Worker
	clarity     ClarityPolicy
	logger      zerolog.Logger
}

// NewCoordinator wires the three stages together.
func NewCoordinator(author, illustrator, publisher agent.Worker, clarity ClarityPolicy, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		author:      author,
		illustrator: illustrator,
		publisher:   publisher,
		clarity:     clarity,
		logger:      logger.With().Str("component", "coordinator").Logger(),
	}
}

// CreateStory writes, illustrates and publishes one story. Stage failures
// are reported in the Result.
func (c *Coordinator) CreateStory(ctx context.Context, req models.StoryRequest) (*models.Result, error) {
	if strings.TrimSpace(req.Plot) == "" {
		return nil, fmt.Errorf("%w: plot is required", ErrInvalidRequest)
	}
	if req.ArtStyle == "" {
		req.ArtStyle = "children_book"
	}

	start := time.Now()
	title := req.StoryTitle()
	c.logger.Info().Str("title", title).Strs("themes", req.Themes).Msg("starting story")

	res, err := c.run(ctx, title, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error().Err(err).Msg("story failed")
		res = &models.Result{Status: models.TaskError, Message: err.Error()}
	}

	metrics.TasksTotal.WithLabelValues("inprocess", string(res.Status)).Inc()
	metrics.TaskDuration.WithLabelValues("inprocess").Observe(time.Since(start).Seconds())
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, title string, req models.StoryRequest) (*models.Result, error) {
	task, err := models.ToPayload(req)
	if err != nil {
		return nil, err
	}
	task[models.KeyAction] = string(models.ActionCreateStory)

	var story models.StoryResult
	if err := c.call(ctx, c.author, task, &story); err != nil {
		return nil, fmt.Errorf("story creation: %w", err)
	}
	c.logger.Info().Int("chapters", len(story.Chapters)).Msg("story written")

	scenes := c.clarify(ctx, story.IllustrationScenes)
	story.IllustrationScenes = scenes

	scenesPayload, err := toAny(scenes)
	if err != nil {
		return nil, err
	}
	charsPayload, err := toAny(story.Story.Characters)
	if err != nil {
		return nil, err
	}

	var art models.IllustrationResult
	if err := c.call(ctx, c.illustrator, models.Payload{
		models.KeyAction: string(models.ActionGenerateIllustrations),
		"scenes":         scenesPayload,
		"characters":     charsPayload,
		"art_style":      req.ArtStyle,
	}, &art); err != nil {
		return nil, fmt.Errorf("illustration: %w", err)
	}
	c.logger.Info().Int("images", len(art.Images)).Msg("illustrations ready")

	storyPayload, err := models.ToPayload(story)
	if err != nil {
		return nil, err
	}
	artPayload, err := models.ToPayload(art)
	if err != nil {
		return nil, err
	}

	var pub models.PublicationResult
	if err := c.call(ctx, c.publisher, models.Payload{
		models.KeyAction:        string(models.ActionCreatePublication),
		models.KeyStoryData:     map[string]any(storyPayload),
		models.KeyIllustrations: map[string]any(artPayload),
		"title":                 title,
	}, &pub); err != nil {
		return nil, fmt.Errorf("publication: %w", err)
	}
	c.logger.Info().Int("formats", len(pub.Files)).Msg("publication ready")

	return models.AssembleResult(title, story, art, pub), nil
}

// clarify runs at most one describe_scene round per unclear scene. The
// author's answer replaces the description even if it is still unclear.
func (c *Coordinator) clarify(ctx context.Context, scenes []models.Scene) []models.Scene {
	out := make([]models.Scene, len(scenes))
	copy(out, scenes)

	for i, scene := range out {
		if !c.clarity.NeedsClarification(scene.Description) {
			continue
		}
		reply, err := c.author.Handle(ctx, models.NewMessage(
			c.illustrator.Name(), c.author.Name(), models.TypeRequest,
			models.Payload{
				models.KeyAction: string(models.ActionDescribeScene),
				"scene_id":       scene.ID,
				"description":    scene.Description,
			}, ""))
		if err != nil || reply == nil {
			c.logger.Warn().Err(err).Str("scene_id", scene.ID).Msg("clarification failed, keeping description")
			continue
		}
		if desc := reply.Payload.String("description"); desc != "" {
			out[i].Description = desc
		}
		c.logger.Debug().Str("scene_id", scene.ID).Msg("scene clarified")
	}
	return out
}

// call sends one request through w.Handle and decodes the reply into out.
func (c *Coordinator) call(ctx context.Context, w agent.Worker, task models.Payload, out any) error {
	reply, err := w.Handle(ctx, models.NewMessage(models.ParticipantOrchestrator, w.Name(), models.TypeRequest, task, ""))
	if err != nil {
		return err
	}
	if reply == nil {
		return errors.New("no reply")
	}
	if status := reply.Payload.String(models.KeyStatus); status != models.StatusComplete {
		return fmt.Errorf("%s returned status %q", w.Name(), status)
	}
	return reply.Payload.Decode("", out)
}

// AgentStatus reports the status of each stage by name.
func (c *Coordinator) AgentStatus() map[string]models.AgentStatus {
	return map[string]models.AgentStatus{
		c.author.Name():      c.author.Status(),
		c.illustrator.Name(): c.illustrator.Status(),
		c.publisher.Name():   c.publisher.Status(),
	}
}

// Relay delivers a message from one stage to another and hands any reply
// back to the sender.
func (c *Coordinator) Relay(ctx context.Context, from, to string, payload models.Payload, typ models.MessageType) error {
	sender, ok := c.worker(from)
	if !ok {
		return fmt.Errorf("unknown agent %q", from)
	}
	receiver, ok := c.worker(to)
	if !ok {
		return fmt.Errorf("unknown agent %q", to)
	}

	reply, err := receiver.Handle(ctx, models.NewMessage(from, to, typ, payload, ""))
	if err != nil {
		return err
	}
	if reply != nil {
		_, err = sender.Handle(ctx, reply)
	}
	return err
}

func (c *Coordinator) worker(name string) (agent.Worker, bool) {
	for _, w := range []agent.Worker{c.author, c.illustrator, c.publisher} {
		if w.Name() == name {
			return w, true
		}
	}
	return nil, false
}

func toAny(v any) (any, error) {
	p, err := models.ToPayload(map[string]any{"v": v})
	if err != nil {
		return nil, err
	}
	return p["v"], nil
}
