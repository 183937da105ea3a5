package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/metrics"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/store"
)

// queue is an unbounded FIFO. ready holds at most one pending wake-up.
type queue struct {
	items []*models.Message
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// MemoryBroker keeps queues, subscribers and history in process memory.
// A single mutex guards all three maps and is held only for the in-memory
// mutation, never across disk I/O or subscriber calls.
type MemoryBroker struct {
	mu          sync.Mutex
	queues      map[string]*queue
	subscribers map[string][]Handler
	history     []*models.Message
	byCorr      map[string][]int
	byID        map[string]int
	closed      bool

	log        store.MessageLog
	dispatcher *dispatcher
	logger     zerolog.Logger
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker(opts Options) *MemoryBroker {
	opts = opts.withDefaults()
	logger := opts.Logger.With().Str("component", "broker").Str("backend", "memory").Logger()
	return &MemoryBroker{
		queues:      make(map[string]*queue),
		subscribers: make(map[string][]Handler),
		byCorr:      make(map[string][]int),
		byID:        make(map[string]int),
		log:         opts.Log,
		dispatcher:  newDispatcher(opts.SubscriberPool, logger),
		logger:      logger,
	}
}

// queueLocked returns the queue for name, creating it. Callers hold b.mu.
func (b *MemoryBroker) queueLocked(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = newQueue()
		b.queues[name] = q
		b.logger.Debug().Str("queue", name).Msg("created queue")
	}
	return q
}

// CreateQueue ensures a queue exists for name.
func (b *MemoryBroker) CreateQueue(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.queueLocked(name)
	return nil
}

// Publish enqueues msg, appends it to the history, persists it and
// notifies subscribers of the receiver.
func (b *MemoryBroker) Publish(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	q := b.queueLocked(msg.Receiver)
	q.items = append(q.items, msg)
	q.signal()

	b.history = append(b.history, msg)
	b.byCorr[msg.CorrelationID] = append(b.byCorr[msg.CorrelationID], len(b.history)-1)
	b.byID[msg.ID] = len(b.history) - 1

	subs := append([]Handler(nil), b.subscribers[msg.Receiver]...)
	b.mu.Unlock()

	metrics.MessagesPublished.WithLabelValues(msg.Receiver, string(msg.Type)).Inc()
	b.logger.Info().
		Str("sender", msg.Sender).
		Str("receiver", msg.Receiver).
		Str("type", string(msg.Type)).
		Str("correlation_id", msg.CorrelationID).
		Msg("message published")

	persist(ctx, b.log, b.logger, msg)

	if len(subs) > 0 {
		b.dispatcher.dispatch(msg.Receiver, subs, msg)
	}
	return nil
}

// Receive pops the head of name's queue, waiting up to timeout.
func (b *MemoryBroker) Receive(ctx context.Context, name string, timeout time.Duration) (*models.Message, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		b.mu.Lock()
		if b.closed {
			if q, ok := b.queues[name]; ok {
				q.signal()
			}
			b.mu.Unlock()
			return nil, ErrClosed
		}
		q := b.queueLocked(name)
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) > 0 {
				// Pass the wake-up on to any other receiver of this queue.
				q.signal()
			}
			b.mu.Unlock()

			metrics.MessagesReceived.WithLabelValues(name).Inc()
			b.logger.Debug().
				Str("receiver", name).
				Str("sender", msg.Sender).
				Str("type", string(msg.Type)).
				Msg("message received")
			return msg, nil
		}
		ready := q.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Subscribe registers fn for messages published to name.
func (b *MemoryBroker) Subscribe(name string, fn Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subscribers[name] = append(b.subscribers[name], fn)
	b.logger.Info().Str("participant", name).Msg("subscribed")
	return nil
}

// MessagesByCorrelation returns matching history entries in publish order.
func (b *MemoryBroker) MessagesByCorrelation(ctx context.Context, correlationID string) ([]*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.byCorr[correlationID]
	out := make([]*models.Message, 0, len(idx))
	for _, i := range idx {
		out = append(out, b.history[i])
	}
	return out, nil
}

// GetMessage returns a published envelope by id.
func (b *MemoryBroker) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b.history[i], nil
}

// ClearQueue drains name's queue without processing.
func (b *MemoryBroker) ClearQueue(ctx context.Context, name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return 0, nil
	}
	n := len(q.items)
	q.items = nil
	select {
	case <-q.ready:
	default:
	}

	if n > 0 {
		metrics.MessagesDropped.WithLabelValues(name, "cleared").Add(float64(n))
	}
	b.logger.Info().Str("queue", name).Int("dropped", n).Msg("cleared queue")
	return n, nil
}

// QueueLen reports how many messages wait in name's queue.
func (b *MemoryBroker) QueueLen(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.items)
	}
	return 0
}

// Queues lists the names of all known queues.
func (b *MemoryBroker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	return names
}

// QueueDepths reports every queue's length.
func (b *MemoryBroker) QueueDepths(ctx context.Context) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.queues))
	for name, q := range b.queues {
		out[name] = len(q.items)
	}
	return out, nil
}

// Ping always succeeds for an open broker.
func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close rejects further operations, waits for running subscribers and
// closes the message log. Blocked receivers return ErrClosed on their next
// wake-up.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		q.signal()
	}
	b.mu.Unlock()

	b.dispatcher.wait()
	return b.log.Close()
}
