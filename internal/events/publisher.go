package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends LayoutOptimisedEvents. The connection is opened on first
// use and reopened after a failed publish.
type Publisher struct {
	URL   string
	Queue string

	logger *log.Logger
	dial   func(url string) (channel, func() error, error)

	mu      sync.Mutex
	ch      channel
	closeFn func() error
}

func NewPublisher(url string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{
		URL:    url,
		Queue:  LayoutOptimisedQueue,
		logger: logger.WithPrefix("publisher"),
		dial:   dialChannel,
	}
}

func dialChannel(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	return ch, conn.Close, nil
}

// Publish sends ev as a persistent JSON message on the default exchange.
func (p *Publisher) Publish(ctx context.Context, ev LayoutOptimisedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		ch, closeFn, err := p.dial(p.URL)
		if err != nil {
			return err
		}
		// Durable so messages survive broker restarts.
		if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = closeFn()
			return fmt.Errorf("queue declare: %w", err)
		}
		p.ch, p.closeFn = ch, closeFn
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
		p.resetLocked()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// OnCommit publishes a committed result. Failures are logged, never
// returned: the layout is already stored and pricing can still poll.
func (p *Publisher) OnCommit(ctx context.Context, res model.OptimizationResult) {
	if err := p.Publish(ctx, NewLayoutOptimisedEvent(res)); err != nil {
		p.logger.Warn("layout notification not sent", "quote", res.QuoteID, "seq", res.Sequence, "err", err)
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeFn != nil {
		_ = p.closeFn()
	}
	p.ch, p.closeFn = nil, nil
}
