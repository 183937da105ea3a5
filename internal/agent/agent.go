// Package agent defines the task-execution contract the pipeline drives and
// the template workers that implement it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// ErrUnsupportedAction is returned when a worker is asked to do something it
// does not know.
var ErrUnsupportedAction = errors.New("unsupported action")

// Worker is one stage of the pipeline.
type Worker interface {
	Name() string
	// Execute runs a task. The result always carries a "status" field.
	Execute(ctx context.Context, task models.Payload) (models.Payload, error)
	// Handle answers a message directly, without the broker.
	Handle(ctx context.Context, msg *models.Message) (*models.Message, error)
	Status() models.AgentStatus
	State() map[string]any
}

const memoryLimit = 100

// Base carries the status and message memory every worker shares. Status is
// written only by the owning worker; readers may call Status from any
// goroutine.
type Base struct {
	name   string
	role   string
	logger zerolog.Logger

	mu     sync.RWMutex
	status models.AgentStatus
	memory []*models.Message
	tasks  int
}

// NewBase creates an idle Base.
func NewBase(name, role string, logger zerolog.Logger) Base {
	return Base{
		name:   name,
		role:   role,
		status: models.AgentIdle,
		logger: logger.With().Str("agent", name).Logger(),
	}
}

// Name returns the participant name.
func (b *Base) Name() string { return b.name }

// Logger returns the agent's child logger.
func (b *Base) Logger() *zerolog.Logger { return &b.logger }

// Status returns the current status.
func (b *Base) Status() models.AgentStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SetStatus records a new status.
func (b *Base) SetStatus(status models.AgentStatus, details string) {
	b.mu.Lock()
	b.status = status
	if status == models.AgentWorking {
		b.tasks++
	}
	b.mu.Unlock()
	b.logger.Debug().Str("status", string(status)).Str("details", details).Msg("status changed")
}

// Remember appends msg to the bounded message memory.
func (b *Base) Remember(msg *models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memory = append(b.memory, msg)
	if len(b.memory) > memoryLimit {
		b.memory = b.memory[len(b.memory)-memoryLimit:]
	}
}

// Recent returns up to limit of the most recent remembered messages.
func (b *Base) Recent(limit int) []*models.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.memory) {
		limit = len(b.memory)
	}
	out := make([]*models.Message, limit)
	copy(out, b.memory[len(b.memory)-limit:])
	return out
}

// State summarises the base fields for status endpoints.
func (b *Base) State() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]any{
		"role":           b.role,
		"status":         string(b.status),
		"tasks_started":  b.tasks,
		"memory_entries": len(b.memory),
	}
}

// respond executes the task carried by a request and wraps the result in a
// response addressed back to the sender.
func respond(ctx context.Context, w Worker, b *Base, msg *models.Message) (*models.Message, error) {
	b.Remember(msg)
	if msg.Type != models.TypeRequest {
		return nil, nil
	}

	result, err := w.Execute(ctx, msg.Payload)
	if err != nil {
		return nil, err
	}

	reply := models.NewMessage(w.Name(), msg.Sender, models.TypeResponse, result, msg.CorrelationID)
	b.Remember(reply)
	return reply, nil
}

// runTask wraps Execute bodies with status bookkeeping and panic capture.
func runTask(b *Base, action models.Action, fn func() (models.Payload, error)) (result models.Payload, err error) {
	b.SetStatus(models.AgentWorking, string(action))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", action, r)
		}
		if err != nil {
			b.SetStatus(models.AgentError, err.Error())
			return
		}
		b.SetStatus(models.AgentIdle, string(action))
	}()
	return fn()
}

// Func adapts a plain function into a Worker.
type Func struct {
	Base
	fn func(ctx context.Context, task models.Payload) (models.Payload, error)
}

// FromFunc wraps fn as a Worker named name.
func FromFunc(name string, fn func(ctx context.Context, task models.Payload) (models.Payload, error)) *Func {
	return &Func{Base: NewBase(name, "func", zerolog.Nop()), fn: fn}
}

// Execute calls the wrapped function.
func (f *Func) Execute(ctx context.Context, task models.Payload) (models.Payload, error) {
	action, _ := models.ParseAction(task.String(models.KeyAction))
	return runTask(&f.Base, action, func() (models.Payload, error) {
		return f.fn(ctx, task)
	})
}

// Handle executes request messages and replies to the sender.
func (f *Func) Handle(ctx context.Context, msg *models.Message) (*models.Message, error) {
	return respond(ctx, f, &f.Base, msg)
}
