// Package broker routes envelopes between named participants.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chanderbawa/AI-Story-Agents/internal/metrics"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/store"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// DefaultSubscriberPool bounds concurrently running subscriber callbacks.
const DefaultSubscriberPool = 32

// Handler is a subscriber callback. It runs out of band from Publish.
type Handler func(ctx context.Context, msg *models.Message) error

// Broker is implemented by MemoryBroker and RedisBroker. The worker wrapper
// and orchestrator depend only on this interface.
type Broker interface {
	// CreateQueue ensures a queue exists for name. Calling it again is a no-op.
	CreateQueue(ctx context.Context, name string) error
	// Publish enqueues msg for its receiver and records it in the history.
	Publish(ctx context.Context, msg *models.Message) error
	// Receive waits up to timeout for the next message addressed to name.
	// It returns nil, nil when the timeout elapses. A timeout <= 0 waits
	// until ctx is done.
	Receive(ctx context.Context, name string, timeout time.Duration) (*models.Message, error)
	// Subscribe registers fn to be invoked for every message published to name.
	Subscribe(name string, fn Handler) error
	// MessagesByCorrelation returns the history of one conversation in publish order.
	MessagesByCorrelation(ctx context.Context, correlationID string) ([]*models.Message, error)
	// ClearQueue drops all pending messages for name and reports how many.
	ClearQueue(ctx context.Context, name string) (int, error)
	// QueueDepths reports the number of waiting messages per known queue.
	QueueDepths(ctx context.Context) (map[string]int, error)
	// Ping reports backend liveness.
	Ping(ctx context.Context) error
	Close() error
}

// MessageGetter is implemented by brokers that keep envelopes addressable
// by id: MemoryBroker for its lifetime, RedisBroker until the key expires.
type MessageGetter interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
}

// Options configures the shared parts of a broker.
type Options struct {
	Log            store.MessageLog
	SubscriberPool int
	Logger         zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Log == nil {
		o.Log = store.NopLog{}
	}
	if o.SubscriberPool <= 0 {
		o.SubscriberPool = DefaultSubscriberPool
	}
	return o
}

// dispatcher runs subscriber callbacks on a bounded pool. When every slot
// is busy the notification is shed so Publish never blocks on a slow
// subscriber.
type dispatcher struct {
	group  errgroup.Group
	logger zerolog.Logger
}

func newDispatcher(size int, logger zerolog.Logger) *dispatcher {
	d := &dispatcher{logger: logger}
	d.group.SetLimit(size)
	return d
}

func (d *dispatcher) dispatch(name string, fns []Handler, msg *models.Message) {
	for _, fn := range fns {
		fn := fn
		ok := d.group.TryGo(func() error {
			d.invoke(name, fn, msg)
			return nil
		})
		if !ok {
			metrics.SubscriberFailures.WithLabelValues("saturated").Inc()
			d.logger.Warn().
				Str("participant", name).
				Str("message_id", msg.ID).
				Msg("subscriber pool saturated, notification dropped")
		}
	}
}

func (d *dispatcher) invoke(name string, fn Handler, msg *models.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberFailures.WithLabelValues("panic").Inc()
			d.logger.Error().
				Str("participant", name).
				Str("message_id", msg.ID).
				Str("panic", fmt.Sprint(r)).
				Msg("subscriber panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := fn(ctx, msg); err != nil {
		metrics.SubscriberFailures.WithLabelValues("error").Inc()
		d.logger.Error().
			Err(err).
			Str("participant", name).
			Str("message_id", msg.ID).
			Msg("subscriber failed")
	}
}

// wait blocks until running callbacks return.
func (d *dispatcher) wait() {
	_ = d.group.Wait()
}

// persist writes msg to the log. Failures are logged and swallowed: the
// queue, not the log, is the delivery of record.
func persist(ctx context.Context, log store.MessageLog, logger zerolog.Logger, msg *models.Message) {
	if err := log.Save(ctx, msg); err != nil {
		metrics.PersistFailures.Inc()
		logger.Error().
			Err(err).
			Str("message_id", msg.ID).
			Msg("failed to persist message")
	}
}

// New returns a RedisBroker when redisURL is set and a MemoryBroker otherwise.
func New(ctx context.Context, redisURL string, opts Options) (Broker, error) {
	if redisURL == "" {
		return NewMemoryBroker(opts), nil
	}
	return NewRedisBroker(ctx, redisURL, opts)
}
