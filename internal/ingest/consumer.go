package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"notification-service/internal/common/config"
	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/logger"
	"notification-service/internal/common/metrics"
	"notification-service/internal/common/observability"
	"notification-service/internal/notification"

	"github.com/segmentio/kafka-go"
)

// State is the consumer lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateConsuming
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateConsuming:
		return "consuming"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Fetcher abstracts the bus subscription. Production uses *kafka.Reader;
// tests substitute a fake.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Creator is the slice of the notification facade the consumer needs.
type Creator interface {
	CreateNotification(ctx context.Context, req notification.CreateRequest) (*notification.Notification, error)
}

// Config holds the consumer's runtime policy.
type Config struct {
	StoreTimeout   time.Duration // per persistence attempt
	MaxRetries     int           // persistence retries before the poison decision
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	ToleratePoison bool // skip after exhausting retries instead of halting

	StartRetries int // broker connection attempts before giving up
	StartBackoff time.Duration
}

// Consumer drives the ingestion pipeline: fetch, route, persist, commit.
// Delivery is at-least-once: the offset is committed only after the
// notification is persisted (or the message is explicitly skipped), so a
// crash between persist and commit can produce a duplicate record.
type Consumer struct {
	reader  Fetcher
	router  *Router
	service Creator
	logger  logger.Logger
	obs     *observability.Observability
	cfg     Config

	// ping verifies broker reachability before consuming. Nil skips the
	// check (tests).
	ping func(ctx context.Context) error

	state atomic.Int32
}

func NewConsumer(reader Fetcher, router *Router, service Creator, log logger.Logger, obs *observability.Observability, cfg Config) *Consumer {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.StartRetries <= 0 {
		cfg.StartRetries = 1
	}

	return &Consumer{
		reader:  reader,
		router:  router,
		service: service,
		logger:  log.WithFields(map[string]interface{}{"component": "ingestion-consumer"}),
		obs:     obs,
		cfg:     cfg,
	}
}

// NewReader builds a consumer-group reader over the subscribed topics.
// Per-partition ordering is preserved by the group protocol.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10 << 20,
		StartOffset: kafka.LastOffset,
	})
}

// NewBrokerPing returns a connectivity check against the first reachable
// broker, used for the fail-fast startup handshake.
func NewBrokerPing(brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var lastErr error
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = err
				continue
			}
			conn.Close()
			return nil
		}
		return fmt.Errorf("no broker reachable: %w", lastErr)
	}
}

// WithPing installs the startup connectivity check.
func (c *Consumer) WithPing(ping func(ctx context.Context) error) *Consumer {
	c.ping = ping
	return c
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Info("consumer state changed", map[string]interface{}{
			"from": old.String(),
			"to":   s.String(),
		})
	}
}

// Run consumes until ctx is canceled. The in-flight message is finished
// before the reader is released; no mid-message abort. A persistence
// failure that survives the retry budget halts the partition by returning
// an error, unless poison tolerance is configured.
func (c *Consumer) Run(ctx context.Context) error {
	c.setState(StateConnecting)

	if err := c.connect(ctx); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connect to event bus: %w", err)
	}
	c.setState(StateSubscribed)

	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("reader close failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		c.setState(StateDisconnected)
	}()

	c.setState(StateConsuming)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateStopping)
				return nil
			}
			c.logger.Error("fetch failed", map[string]interface{}{
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				c.setState(StateStopping)
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		metrics.EventsConsumed.WithLabelValues(m.Topic).Inc()
		start := time.Now()

		err = c.handleMessage(ctx, m)

		metrics.MessageHandleDuration.WithLabelValues(m.Topic).Observe(time.Since(start).Seconds())
		if c.obs != nil {
			c.obs.RecordEventDuration(ctx, time.Since(start), m.Topic)
		}

		if err != nil {
			c.setState(StateStopping)
			if ctx.Err() != nil {
				// Cancellation raced the persistence failure: this is a
				// shutdown, not a halt. The uncommitted message is
				// redelivered on restart.
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, m kafka.Message) error {
	fields := map[string]interface{}{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
	}

	decision, err := c.router.Route(m.Topic, m.Value)
	if err != nil {
		// A malformed message cannot be retried into validity; the offset
		// still advances.
		c.logger.Warn("message dropped", mergeFields(fields, map[string]interface{}{
			"errorCode": string(apperrors.CodeOf(err)),
			"error":     err.Error(),
		}))
		metrics.EventsFailed.WithLabelValues(m.Topic, string(apperrors.CodeOf(err))).Inc()
		c.recordOutcome(ctx, m.Topic, "malformed")
		return c.commit(ctx, m)
	}

	if decision.Skipped() {
		c.logger.Info("message skipped", mergeFields(fields, map[string]interface{}{
			"reason": decision.SkipReason,
		}))
		metrics.EventsSkipped.WithLabelValues(m.Topic, decision.SkipReason).Inc()
		c.recordOutcome(ctx, m.Topic, "skipped")
		return c.commit(ctx, m)
	}

	if err := c.persistWithRetry(ctx, m.Topic, *decision.Create); err != nil {
		metrics.EventsFailed.WithLabelValues(m.Topic, string(apperrors.CodeOf(err))).Inc()

		if !apperrors.IsRetryable(err) {
			// Validation failures out of the facade cannot be fixed by
			// redelivery either.
			c.logger.Error("create rejected, message dropped", mergeFields(fields, map[string]interface{}{
				"errorCode": string(apperrors.CodeOf(err)),
				"error":     err.Error(),
			}))
			c.recordOutcome(ctx, m.Topic, "rejected")
			return c.commit(ctx, m)
		}

		if c.cfg.ToleratePoison {
			c.logger.Error("persistence retries exhausted, dropping message", mergeFields(fields, map[string]interface{}{
				"error":      err.Error(),
				"maxRetries": c.cfg.MaxRetries,
			}))
			c.recordOutcome(ctx, m.Topic, "poison_dropped")
			return c.commit(ctx, m)
		}

		// Default policy: surface and halt rather than silently lose a
		// user-facing notification. The uncommitted message is redelivered.
		c.recordOutcome(ctx, m.Topic, "halted")
		return fmt.Errorf("persist message topic=%s partition=%d offset=%d: %w",
			m.Topic, m.Partition, m.Offset, err)
	}

	c.recordOutcome(ctx, m.Topic, "created")
	return c.commit(ctx, m)
}

func (c *Consumer) persistWithRetry(ctx context.Context, topic string, req notification.CreateRequest) error {
	delay := c.cfg.BaseBackoff

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
		_, err := c.service.CreateNotification(attemptCtx, req)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !apperrors.IsRetryable(err) || attempt == c.cfg.MaxRetries {
			return lastErr
		}

		metrics.PersistRetries.WithLabelValues(topic).Inc()
		c.logger.Warn("persistence failed, retrying", map[string]interface{}{
			"topic":       topic,
			"attempt":     attempt + 1,
			"maxRetries":  c.cfg.MaxRetries,
			"nextRetryIn": delay.String(),
			"error":       err.Error(),
		})

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxBackoff {
			delay = c.cfg.MaxBackoff
		}
	}

	return lastErr
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		// The message will be redelivered; downstream tolerates the
		// resulting duplicate.
		c.logger.Error("offset commit failed", map[string]interface{}{
			"topic":     m.Topic,
			"partition": m.Partition,
			"offset":    m.Offset,
			"error":     err.Error(),
		})
	}
	return nil
}

func (c *Consumer) connect(ctx context.Context) error {
	if c.ping == nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.StartRetries; attempt++ {
		err := c.ping(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < c.cfg.StartRetries {
			c.logger.Warn("bus connection failed, retrying", map[string]interface{}{
				"attempt":     attempt,
				"maxRetries":  c.cfg.StartRetries,
				"nextRetryIn": c.cfg.StartBackoff.String(),
				"error":       lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.StartBackoff):
			}
		}
	}

	return fmt.Errorf("after %d attempts: %w", c.cfg.StartRetries, lastErr)
}

func (c *Consumer) recordOutcome(ctx context.Context, topic, outcome string) {
	if c.obs != nil {
		c.obs.RecordEventProcessed(ctx, topic, outcome)
	}
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
