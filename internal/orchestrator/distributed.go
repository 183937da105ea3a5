// Package orchestrator drives a story through the three pipeline stages,
// either over a broker or by direct calls.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/broker"
	"github.com/chanderbawa/AI-Story-Agents/internal/ids"
	"github.com/chanderbawa/AI-Story-Agents/internal/metrics"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// ErrInvalidRequest is returned for malformed story requests.
var ErrInvalidRequest = errors.New("invalid story request")

const (
	DefaultTimeout      = 300 * time.Second
	DefaultPendingTTL   = time.Hour
	DefaultPollInterval = time.Second

	waiterBuffer = 16
)

// Task states reported by GetTaskStatus.
const (
	TaskStarted       = "started"
	TaskTimedOut      = "timeout"
	TaskCompletedLate = "completed_late"
	TaskCompleted     = "completed"
	TaskInProgress    = "in_progress"
	TaskNotFound      = "not_found"
)

// TaskStatus describes a correlation id as seen by the orchestrator.
type TaskStatus struct {
	CorrelationID  string  `json:"correlation_id"`
	Status         string  `json:"status"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	Messages       int     `json:"messages,omitempty"`
	LastSender     string  `json:"last_sender,omitempty"`
	LastReceiver   string  `json:"last_receiver,omitempty"`
}

type pendingTask struct {
	title    string
	started  time.Time
	state    string
	finished time.Time
}

// Config tunes a distributed Orchestrator.
type Config struct {
	Name         string
	PendingTTL   time.Duration
	PollInterval time.Duration
}

// Orchestrator submits stories to the first stage and waits on its own
// queue for the completion or error that closes the conversation.
type Orchestrator struct {
	name         string
	broker       broker.Broker
	pendingTTL   time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingTask
	waiters map[string]chan *models.Message
}

// New creates an orchestrator bound to b.
func New(b broker.Broker, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.Name == "" {
		cfg.Name = models.ParticipantOrchestrator
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Orchestrator{
		name:         cfg.Name,
		broker:       b,
		pendingTTL:   cfg.PendingTTL,
		pollInterval: cfg.PollInterval,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
		pending:      make(map[string]*pendingTask),
		waiters:      make(map[string]chan *models.Message),
	}
}

// Name returns the orchestrator's participant name.
func (o *Orchestrator) Name() string { return o.name }

// Broker returns the broker the orchestrator talks to.
func (o *Orchestrator) Broker() broker.Broker { return o.broker }

// Start creates the orchestrator's queue.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.broker.CreateQueue(ctx, o.name)
}

// CreateStory runs one story through the pipeline and waits up to timeout
// for it to finish. Downstream failures and timeouts are reported in the
// Result; an error is returned only for a malformed request or a cancelled
// ctx.
func (o *Orchestrator) CreateStory(ctx context.Context, req models.StoryRequest, timeout time.Duration) (*models.Result, error) {
	if strings.TrimSpace(req.Plot) == "" {
		return nil, fmt.Errorf("%w: plot is required", ErrInvalidRequest)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	payload, err := models.ToPayload(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	payload[models.KeyAction] = string(models.ActionCreateStory)
	payload[models.KeyReplyTo] = o.name

	o.sweep()

	corr := ids.NewCorrelationID()
	start := time.Now()
	deadline := start.Add(timeout)
	title := req.StoryTitle()
	log := o.logger.With().Str("correlation_id", corr).Logger()

	inbox := o.register(corr, title, start)

	if err := o.broker.CreateQueue(ctx, o.name); err != nil {
		o.unregister(corr)
		return o.finish(corr, start, &models.Result{
			Status:        models.TaskError,
			CorrelationID: corr,
			Message:       fmt.Sprintf("create queue: %v", err),
		}), nil
	}

	first := models.NewMessage(o.name, models.ParticipantAuthor, models.TypeRequest, payload, corr)
	if err := o.broker.Publish(ctx, first); err != nil {
		o.unregister(corr)
		return o.finish(corr, start, &models.Result{
			Status:        models.TaskError,
			CorrelationID: corr,
			Message:       fmt.Sprintf("submit story: %v", err),
		}), nil
	}

	log.Info().Str("title", title).Dur("timeout", timeout).Msg("story submitted")

	for {
		select {
		case msg := <-inbox:
			if res, done := o.consume(corr, title, msg, log); done {
				o.unregister(corr)
				return o.finish(corr, start, res), nil
			}
			continue
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := o.pollInterval
		if remaining < wait {
			wait = remaining
		}

		msg, err := o.broker.Receive(ctx, o.name, wait)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				o.expire(corr)
				return nil, ctxErr
			}
			if errors.Is(err, broker.ErrClosed) {
				o.unregister(corr)
				return o.finish(corr, start, &models.Result{
					Status:        models.TaskError,
					CorrelationID: corr,
					Message:       "broker closed",
				}), nil
			}
			log.Error().Err(err).Msg("receive failed")
			continue
		}
		if msg == nil {
			continue
		}
		metrics.MessagesReceived.WithLabelValues(o.name).Inc()

		if msg.CorrelationID != corr {
			o.route(msg)
			continue
		}
		if res, done := o.consume(corr, title, msg, log); done {
			o.unregister(corr)
			return o.finish(corr, start, res), nil
		}
	}

	o.expire(corr)
	log.Warn().Dur("timeout", timeout).Msg("story timed out")
	return o.finish(corr, start, &models.Result{
		Status:        models.TaskTimeout,
		CorrelationID: corr,
		Message:       fmt.Sprintf("no completion within %s", timeout),
	}), nil
}

// consume handles a message of the caller's own conversation. It reports
// whether the conversation is over.
func (o *Orchestrator) consume(corr, title string, msg *models.Message, log zerolog.Logger) (*models.Result, bool) {
	if msg.Type == models.TypeError {
		reason := msg.Payload.String(models.KeyError)
		if reason == "" {
			reason = "unknown error"
		}
		log.Error().Str("sender", msg.Sender).Str("error", reason).Msg("story failed")
		return &models.Result{
			Status:        models.TaskError,
			CorrelationID: corr,
			Message:       fmt.Sprintf("%s: %s", msg.Sender, reason),
		}, true
	}

	if action, _ := msg.Action(); action == models.ActionComplete {
		res, err := assemble(title, msg.Payload)
		if err != nil {
			log.Error().Err(err).Msg("malformed completion")
			return &models.Result{
				Status:        models.TaskError,
				CorrelationID: corr,
				Message:       fmt.Sprintf("malformed completion: %v", err),
			}, true
		}
		res.CorrelationID = corr
		log.Info().
			Int("chapters", res.Metadata.Chapters).
			Int("images", res.Metadata.Images).
			Msg("story complete")
		return res, true
	}

	log.Info().
		Str("sender", msg.Sender).
		Str("action", msg.Payload.String(models.KeyAction)).
		Msg("progress update")
	return nil, false
}

// route deals with a message polled for a conversation other than the
// caller's: a sibling CreateStory gets it, a timed-out task may be marked
// late, anything else is discarded.
func (o *Orchestrator) route(msg *models.Message) {
	log := o.logger.With().
		Str("correlation_id", msg.CorrelationID).
		Str("sender", msg.Sender).
		Logger()

	o.mu.Lock()
	if ch, ok := o.waiters[msg.CorrelationID]; ok {
		select {
		case ch <- msg:
			o.mu.Unlock()
			return
		default:
		}
		o.mu.Unlock()
		log.Warn().Msg("sibling inbox full, message discarded")
		metrics.MessagesDropped.WithLabelValues(o.name, "uncorrelated").Inc()
		return
	}

	o.mu.Unlock()

	if o.markLate(msg) {
		log.Info().Msg("late completion for timed out story")
		metrics.MessagesDropped.WithLabelValues(o.name, "late").Inc()
		return
	}

	log.Info().Str("action", msg.Payload.String(models.KeyAction)).Msg("uncorrelated message discarded")
	metrics.MessagesDropped.WithLabelValues(o.name, "uncorrelated").Inc()
}

// markLate records a completion that arrived after its story timed out. It
// reports whether msg was such a completion, including one already recorded.
func (o *Orchestrator) markLate(msg *models.Message) bool {
	if action, _ := msg.Action(); action != models.ActionComplete {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.pending[msg.CorrelationID]
	if !ok {
		return false
	}
	switch task.state {
	case TaskTimedOut:
		task.state = TaskCompletedLate
		task.finished = time.Now()
		return true
	case TaskCompletedLate:
		return true
	}
	return false
}

// Watch subscribes to the orchestrator's own participant name so late
// completions are recorded when published, even while no story is polling
// the queue.
func (o *Orchestrator) Watch() error {
	return o.broker.Subscribe(o.name, func(ctx context.Context, msg *models.Message) error {
		if o.markLate(msg) {
			o.logger.Debug().Str("correlation_id", msg.CorrelationID).Msg("late completion observed")
		}
		return nil
	})
}

func (o *Orchestrator) register(corr, title string, start time.Time) chan *models.Message {
	ch := make(chan *models.Message, waiterBuffer)
	o.mu.Lock()
	o.pending[corr] = &pendingTask{title: title, started: start, state: TaskStarted}
	o.waiters[corr] = ch
	metrics.PendingTasks.Set(float64(len(o.pending)))
	o.mu.Unlock()
	return ch
}

// unregister forgets a finished conversation.
func (o *Orchestrator) unregister(corr string) {
	o.mu.Lock()
	delete(o.pending, corr)
	delete(o.waiters, corr)
	metrics.PendingTasks.Set(float64(len(o.pending)))
	o.mu.Unlock()
}

// expire keeps the entry for inspection but stops routing to it.
func (o *Orchestrator) expire(corr string) {
	o.mu.Lock()
	delete(o.waiters, corr)
	if task, ok := o.pending[corr]; ok {
		task.state = TaskTimedOut
		task.finished = time.Now()
	}
	o.mu.Unlock()
}

// sweep evicts timed-out entries older than the pending TTL.
func (o *Orchestrator) sweep() {
	cutoff := time.Now().Add(-o.pendingTTL)
	o.mu.Lock()
	for corr, task := range o.pending {
		if task.state != TaskStarted && task.finished.Before(cutoff) {
			delete(o.pending, corr)
		}
	}
	metrics.PendingTasks.Set(float64(len(o.pending)))
	o.mu.Unlock()
}

func (o *Orchestrator) finish(corr string, start time.Time, res *models.Result) *models.Result {
	metrics.TasksTotal.WithLabelValues("distributed", string(res.Status)).Inc()
	metrics.TaskDuration.WithLabelValues("distributed").Observe(time.Since(start).Seconds())
	if res.CorrelationID == "" {
		res.CorrelationID = corr
	}
	return res
}

// GetTaskStatus reports a live entry when one exists and otherwise rebuilds
// the status from the message history.
func (o *Orchestrator) GetTaskStatus(ctx context.Context, corr string) (TaskStatus, error) {
	o.sweep()

	o.mu.Lock()
	if task, ok := o.pending[corr]; ok {
		end := time.Now()
		if !task.finished.IsZero() {
			end = task.finished
		}
		st := TaskStatus{
			CorrelationID:  corr,
			Status:         task.state,
			ElapsedSeconds: end.Sub(task.started).Seconds(),
		}
		o.mu.Unlock()
		return st, nil
	}
	o.mu.Unlock()

	history, err := o.broker.MessagesByCorrelation(ctx, corr)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("task history: %w", err)
	}
	if len(history) == 0 {
		return TaskStatus{CorrelationID: corr, Status: TaskNotFound}, nil
	}

	last := history[len(history)-1]
	st := TaskStatus{
		CorrelationID:  corr,
		Status:         TaskInProgress,
		ElapsedSeconds: last.Timestamp.Sub(history[0].Timestamp).Seconds(),
		Messages:       len(history),
		LastSender:     last.Sender,
		LastReceiver:   last.Receiver,
	}
	if last.Receiver == o.name {
		st.Status = TaskCompleted
	}
	return st, nil
}

// MessageHistory returns every message of one conversation in publish order.
func (o *Orchestrator) MessageHistory(ctx context.Context, corr string) ([]*models.Message, error) {
	return o.broker.MessagesByCorrelation(ctx, corr)
}

// PendingCount returns the number of live and timed-out entries.
func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// assemble builds the Result from a completion payload, which carries every
// stage result forward.
func assemble(title string, p models.Payload) (*models.Result, error) {
	var story models.StoryResult
	if err := p.Decode(models.KeyStoryData, &story); err != nil {
		return nil, fmt.Errorf("story_data: %w", err)
	}
	var art models.IllustrationResult
	if _, ok := p[models.KeyIllustrations]; ok {
		if err := p.Decode(models.KeyIllustrations, &art); err != nil {
			return nil, fmt.Errorf("illustrations: %w", err)
		}
	}
	var pub models.PublicationResult
	if err := p.Decode(models.KeyResult, &pub); err != nil {
		return nil, fmt.Errorf("result: %w", err)
	}
	return models.AssembleResult(title, story, art, pub), nil
}
