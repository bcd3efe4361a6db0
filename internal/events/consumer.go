package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// Scheduler is the part of the scheduler the consumer drives.
type Scheduler interface {
	Schedule(quoteID string, snap model.Snapshot) error
}

// Consumer feeds PiecesChangedEvents into the scheduler.
type Consumer struct {
	URL      string
	Queue    string
	Prefetch int
	Defaults model.Defaults

	scheduler Scheduler
	logger    *log.Logger
}

func NewConsumer(url string, sched Scheduler, defaults model.Defaults, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{
		URL:       url,
		Queue:     PiecesChangedQueue,
		Prefetch:  50,
		Defaults:  defaults,
		scheduler: sched,
		logger:    logger.WithPrefix("consumer"),
	}
}

// Run dials the broker and consumes until ctx is cancelled, reconnecting
// with exponential backoff when the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.logger.Warn("failed to dial broker", "err", err, "retry", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("consume loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.Prefetch, 0, false); err != nil {
		c.logger.Warn("set QoS failed", "err", err)
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.logger.Info("consuming", "queue", c.Queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				c.logger.Error("handle message failed", "err", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// handleMessage decodes one event and schedules the quote.
func (c *Consumer) handleMessage(body []byte) error {
	var ev PiecesChangedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.QuoteID == "" {
		return errors.New("event has no quote_id")
	}
	if err := c.scheduler.Schedule(ev.QuoteID, ev.Snapshot(c.Defaults)); err != nil {
		return fmt.Errorf("schedule %s: %w", ev.QuoteID, err)
	}
	c.logger.Debug("change received", "quote", ev.QuoteID, "pieces", len(ev.Pieces))
	return nil
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
