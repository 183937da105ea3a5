// Package service runs a Worker as an autonomous broker participant.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/agent"
	"github.com/chanderbawa/AI-Story-Agents/internal/broker"
	"github.com/chanderbawa/AI-Story-Agents/internal/metrics"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// State is the lifecycle of the processing loop.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

const (
	DefaultPollTimeout = time.Second
	DefaultStopTimeout = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start on a running service.
var ErrAlreadyRunning = errors.New("service already running")

// ErrStopTimeout is returned by Stop when the loop did not exit in time.
var ErrStopTimeout = errors.New("service loop did not stop in time")

// Option configures a Service.
type Option func(*Service)

// WithRoutes replaces the default routing table.
func WithRoutes(rt RoutingTable) Option {
	return func(s *Service) { s.routes = rt }
}

// WithPollTimeout sets the receive timeout of the loop.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Service) { s.pollTimeout = d }
}

// WithStopTimeout bounds how long Stop waits for the loop.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Service) { s.stopTimeout = d }
}

// Service owns a queue on the broker, pulls messages from it and feeds
// them to its Worker. One failing message never stops the loop.
type Service struct {
	name        string
	worker      agent.Worker
	broker      broker.Broker
	routes      RoutingTable
	pollTimeout time.Duration
	stopTimeout time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New wraps worker as the participant name on b.
func New(name string, worker agent.Worker, b broker.Broker, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		name:        name,
		worker:      worker,
		broker:      b,
		routes:      DefaultRoutes(),
		pollTimeout: DefaultPollTimeout,
		stopTimeout: DefaultStopTimeout,
		state:       StateStopped,
		logger:      logger.With().Str("component", "service").Str("agent", name).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the participant name.
func (s *Service) Name() string { return s.name }

// Worker returns the wrapped worker.
func (s *Service) Worker() agent.Worker { return s.worker }

// Broker returns the broker the service is attached to.
func (s *Service) Broker() broker.Broker { return s.broker }

// State returns the loop's lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start creates the service queue and launches the processing loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.broker.CreateQueue(ctx, s.name); err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("create queue %s: %w", s.name, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.started = time.Now()
	s.state = StateRunning
	s.mu.Unlock()

	go s.loop(loopCtx, done)

	s.logger.Info().Msg("service started")
	return nil
}

// Stop signals the loop and waits up to the stop timeout. A task already
// executing is not cancelled and runs to completion.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
		s.logger.Info().Msg("service stopped")
		return nil
	case <-time.After(s.stopTimeout):
		s.logger.Warn().Dur("timeout", s.stopTimeout).Msg("service loop still busy after stop")
		return ErrStopTimeout
	}
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(StateStopped)

	s.logger.Info().Msg("listening for messages")

	// Tasks outlive a stop signal.
	taskCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := s.broker.Receive(ctx, s.name, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, broker.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("receive failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pollTimeout):
			}
			continue
		}
		if msg == nil {
			continue
		}

		s.Process(taskCtx, msg)
	}
}

// Process dispatches one message and publishes the outcome. It is exported
// so callers that receive messages through other means (HTTP, subscribers)
// can reuse the dispatch contract.
func (s *Service) Process(ctx context.Context, msg *models.Message) {
	reply := s.Dispatch(ctx, msg)
	if reply == nil {
		return
	}
	if err := s.broker.Publish(ctx, reply); err != nil {
		s.logger.Error().
			Err(err).
			Str("correlation_id", msg.CorrelationID).
			Str("receiver", reply.Receiver).
			Msg("failed to publish reply")
	}
}

// Dispatch runs the worker for msg and returns the message to publish, or
// nil when the message is dropped.
func (s *Service) Dispatch(ctx context.Context, msg *models.Message) *models.Message {
	log := s.logger.With().
		Str("message_id", msg.ID).
		Str("sender", msg.Sender).
		Str("correlation_id", msg.CorrelationID).
		Logger()

	action, route, ok := s.routes.Lookup(msg)
	if !ok {
		s.dropped.Add(1)
		metrics.MessagesDropped.WithLabelValues(s.name, "unknown_action").Inc()
		log.Warn().Str("action", msg.Payload.String(models.KeyAction)).Msg("no route for action, message dropped")
		return nil
	}

	log.Info().Str("action", string(action)).Msg("processing message")

	start := time.Now()
	result, err := s.execute(ctx, msg.Payload)
	metrics.StageDuration.WithLabelValues(s.name, string(action)).Observe(time.Since(start).Seconds())

	if err != nil {
		s.failed.Add(1)
		metrics.StageExecutions.WithLabelValues(s.name, string(action), "error").Inc()
		log.Error().Err(err).Str("action", string(action)).Msg("task failed")
		failure := models.Payload{
			models.KeyAction: string(models.ActionError),
			models.KeyError:  err.Error(),
			"failed_action":  string(action),
		}
		if origin := msg.Payload.String(models.KeyReplyTo); origin != "" {
			failure[models.KeyReplyTo] = origin
		}
		return models.NewMessage(s.name, errorReceiver(msg), models.TypeError, failure, msg.CorrelationID)
	}

	s.processed.Add(1)
	metrics.StageExecutions.WithLabelValues(s.name, string(action), "complete").Inc()

	return models.NewMessage(s.name, route.receiver(msg), models.TypeResponse,
		forward(msg.Payload, route, result), msg.CorrelationID)
}

// execute calls the worker, converting panics and non-complete results into
// errors.
func (s *Service) execute(ctx context.Context, task models.Payload) (result models.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	result, err = s.worker.Execute(ctx, task)
	if err != nil {
		return nil, err
	}
	if status := result.String(models.KeyStatus); status != models.StatusComplete {
		if msg := result.String(models.KeyError); msg != "" {
			return nil, errors.New(msg)
		}
		return nil, fmt.Errorf("stage returned status %q", status)
	}
	return result, nil
}

// Stats counts what the loop has done since construction.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns the loop counters.
func (s *Service) Stats() Stats {
	return Stats{
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Uptime reports how long the loop has been running, or zero.
func (s *Service) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return 0
	}
	return time.Since(s.started)
}

// Info is the status view of a service.
type Info struct {
	Agent       string             `json:"agent"`
	State       State              `json:"state"`
	AgentStatus models.AgentStatus `json:"agent_status"`
	Uptime      string             `json:"uptime,omitempty"`
	Stats       Stats              `json:"stats"`
	Worker      map[string]any     `json:"worker"`
}

// Info reports loop and worker state together.
func (s *Service) Info() Info {
	info := Info{
		Agent:       s.name,
		State:       s.State(),
		AgentStatus: s.worker.Status(),
		Stats:       s.Stats(),
		Worker:      s.worker.State(),
	}
	if up := s.Uptime(); up > 0 {
		info.Uptime = up.Truncate(time.Second).String()
	}
	return info
}

// Healthy reports whether the loop is running and the broker answers.
func (s *Service) Healthy(ctx context.Context) error {
	if st := s.State(); st != StateRunning {
		return fmt.Errorf("service %s is %s", s.name, st)
	}
	return s.broker.Ping(ctx)
}
