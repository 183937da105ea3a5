package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/metrics"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/store"
)

const (
	queuesKey  = "broker:queues"
	historyTTL = 7 * 24 * time.Hour
	messageTTL = 7 * 24 * time.Hour

	// blockSlice is the longest single BLPOP; Receive re-checks ctx after each.
	blockSlice = time.Second
	// pollInterval paces LPOP retries when less than a blockSlice remains.
	pollInterval = 20 * time.Millisecond
)

// queueKey returns the key for a participant's inbound list.
func queueKey(name string) string {
	return fmt.Sprintf("queue:%s", name)
}

// historyKey returns the key for a conversation's history list.
func historyKey(correlationID string) string {
	return fmt.Sprintf("history:%s", correlationID)
}

// messageKey returns the key holding a single envelope.
func messageKey(id string) string {
	return fmt.Sprintf("message:%s", id)
}

// channelName returns the pub/sub channel for a participant.
func channelName(name string) string {
	return fmt.Sprintf("agent:%s", name)
}

// RedisBroker shares queues and history through Redis so participants can
// run in separate processes. Queues are lists consumed with BLPOP;
// subscriptions ride on Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	log    store.MessageLog

	mu       sync.Mutex
	subs     map[string][]Handler
	pubsubs  map[string]*redis.PubSub
	closed   bool
	cancel   context.CancelFunc
	subCtx   context.Context
	wg       sync.WaitGroup
	dispatch *dispatcher
	logger   zerolog.Logger
}

// NewRedisBroker connects to redisURL and verifies the connection.
func NewRedisBroker(ctx context.Context, redisURL string, opts Options) (*RedisBroker, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(ropts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisBrokerWithClient(client, opts), nil
}

// NewRedisBrokerWithClient wraps an existing client. The broker owns it and
// closes it on Close.
func NewRedisBrokerWithClient(client *redis.Client, opts Options) *RedisBroker {
	opts = opts.withDefaults()
	logger := opts.Logger.With().Str("component", "broker").Str("backend", "redis").Logger()
	subCtx, cancel := context.WithCancel(context.Background())
	return &RedisBroker{
		client:   client,
		log:      opts.Log,
		subs:     make(map[string][]Handler),
		pubsubs:  make(map[string]*redis.PubSub),
		subCtx:   subCtx,
		cancel:   cancel,
		dispatch: newDispatcher(opts.SubscriberPool, logger),
		logger:   logger,
	}
}

// Client exposes the underlying Redis client.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

func (b *RedisBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// CreateQueue registers name in the queue set. Lists themselves appear on
// first push.
func (b *RedisBroker) CreateQueue(ctx context.Context, name string) error {
	if b.isClosed() {
		return ErrClosed
	}
	return b.client.SAdd(ctx, queuesKey, name).Err()
}

// Publish pushes msg onto the receiver's list, the correlation history and
// the message key in one transaction, then announces it on the receiver's
// channel.
func (b *RedisBroker) Publish(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if b.isClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, queuesKey, msg.Receiver)
		pipe.RPush(ctx, queueKey(msg.Receiver), data)
		pipe.RPush(ctx, historyKey(msg.CorrelationID), data)
		pipe.Expire(ctx, historyKey(msg.CorrelationID), historyTTL)
		pipe.Set(ctx, messageKey(msg.ID), data, messageTTL)
		return nil
	})
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	metrics.MessagesPublished.WithLabelValues(msg.Receiver, string(msg.Type)).Inc()
	b.logger.Info().
		Str("sender", msg.Sender).
		Str("receiver", msg.Receiver).
		Str("type", string(msg.Type)).
		Str("correlation_id", msg.CorrelationID).
		Msg("message published")

	persist(ctx, b.log, b.logger, msg)

	// Announcement is best effort; the list already holds the message.
	if err := b.client.Publish(ctx, channelName(msg.Receiver), data).Err(); err != nil {
		b.logger.Warn().Err(err).Str("receiver", msg.Receiver).Msg("pubsub announce failed")
	}
	return nil
}

// Receive pops the head of name's list. BLPOP only takes whole seconds, so
// it blocks in one-second slices while at least a second remains and polls
// with LPOP for the final fraction. ctx is checked between slices.
func (b *RedisBroker) Receive(ctx context.Context, name string, timeout time.Duration) (*models.Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if b.isClosed() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			if remaining < blockSlice {
				return b.pollUntil(ctx, name, deadline)
			}
		}

		res, err := b.client.BLPop(ctx, blockSlice, queueKey(name)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if b.isClosed() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("redis receive: %w", err)
		}
		if len(res) != 2 {
			return nil, fmt.Errorf("redis receive: unexpected reply length %d", len(res))
		}
		return b.decodeReceived(name, res[1])
	}
}

// pollUntil retries LPOP on name's list until a message arrives or the
// deadline passes.
func (b *RedisBroker) pollUntil(ctx context.Context, name string, deadline time.Time) (*models.Message, error) {
	for {
		data, err := b.client.LPop(ctx, queueKey(name)).Result()
		if err == nil {
			return b.decodeReceived(name, data)
		}
		if !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if b.isClosed() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("redis receive: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (b *RedisBroker) decodeReceived(name, data string) (*models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("redis receive: decode: %w", err)
	}
	metrics.MessagesReceived.WithLabelValues(name).Inc()
	return &msg, nil
}

// Subscribe attaches fn to name's pub/sub channel. The first subscription
// for a name starts a listener goroutine.
func (b *RedisBroker) Subscribe(name string, fn Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.subs[name] = append(b.subs[name], fn)
	if _, ok := b.pubsubs[name]; ok {
		return nil
	}

	ps := b.client.Subscribe(b.subCtx, channelName(name))
	if _, err := ps.Receive(b.subCtx); err != nil {
		ps.Close()
		b.subs[name] = b.subs[name][:len(b.subs[name])-1]
		return fmt.Errorf("redis subscribe %s: %w", name, err)
	}
	b.pubsubs[name] = ps

	b.wg.Add(1)
	go b.listen(name, ps)

	b.logger.Info().Str("participant", name).Msg("subscribed")
	return nil
}

func (b *RedisBroker) listen(name string, ps *redis.PubSub) {
	defer b.wg.Done()
	for m := range ps.Channel() {
		var msg models.Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			b.logger.Warn().Err(err).Str("participant", name).Msg("undecodable pubsub payload")
			continue
		}

		b.mu.Lock()
		fns := append([]Handler(nil), b.subs[name]...)
		b.mu.Unlock()

		b.dispatch.dispatch(name, fns, &msg)
	}
}

// MessagesByCorrelation reads the conversation's history list.
func (b *RedisBroker) MessagesByCorrelation(ctx context.Context, correlationID string) ([]*models.Message, error) {
	results, err := b.client.LRange(ctx, historyKey(correlationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]*models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// GetMessage returns a stored envelope by id.
func (b *RedisBroker) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	data, err := b.client.Get(ctx, messageKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ClearQueue deletes name's list.
func (b *RedisBroker) ClearQueue(ctx context.Context, name string) (int, error) {
	pipe := b.client.TxPipeline()
	llen := pipe.LLen(ctx, queueKey(name))
	pipe.Del(ctx, queueKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	n := int(llen.Val())
	if n > 0 {
		metrics.MessagesDropped.WithLabelValues(name, "cleared").Add(float64(n))
	}
	b.logger.Info().Str("queue", name).Int("dropped", n).Msg("cleared queue")
	return n, nil
}

// QueueDepths reads LLEN for every queue in the queue set.
func (b *RedisBroker) QueueDepths(ctx context.Context) (map[string]int, error) {
	names, err := b.client.SMembers(ctx, queuesKey).Result()
	if err != nil {
		return nil, err
	}

	pipe := b.client.Pipeline()
	lens := make(map[string]*redis.IntCmd, len(names))
	for _, name := range names {
		lens[name] = pipe.LLen(ctx, queueKey(name))
	}
	if len(names) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	out := make(map[string]int, len(names))
	for name, cmd := range lens {
		out[name] = int(cmd.Val())
	}
	return out, nil
}

// Ping checks the Redis connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close stops subscription listeners, waits for running callbacks and
// closes the Redis client and message log.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	for _, ps := range b.pubsubs {
		ps.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.dispatch.wait()

	return errors.Join(b.client.Close(), b.log.Close())
}
