// Package amqp publishes thread events to RabbitMQ queues.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
	"github.com/fleetflow/broker-comms/pkg/metrics"
)

// Config holds RabbitMQ publishing configuration.
type Config struct {
	URL   string
	Queue string
	// Prefix is prepended to every queue name.
	Prefix string
	// SpecificEvents get a queue of their own instead of the shared one.
	SpecificEvents []string
}

// Publisher sends thread events to a durable queue. An amqp channel is not
// safe for concurrent publishing, so every publish holds mu.
type Publisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	channel  *amqp.Channel
	queues   queueNamer
	declared map[string]bool
	logger   *logger.Logger
}

type queueNamer struct {
	queue    string
	prefix   string
	specific map[string]bool
}

func newQueueNamer(cfg Config) queueNamer {
	n := queueNamer{
		queue:    cfg.Queue,
		prefix:   cfg.Prefix,
		specific: make(map[string]bool, len(cfg.SpecificEvents)),
	}
	if n.queue == "" {
		n.queue = "thread_events"
	}
	if n.prefix == "" {
		n.prefix = "broker_comms"
	}
	for _, e := range cfg.SpecificEvents {
		if e = strings.TrimSpace(e); e != "" {
			n.specific[e] = true
		}
	}
	return n
}

// name returns the queue an event type is routed to.
func (n queueNamer) name(eventType model.EventType) string {
	if n.specific[string(eventType)] {
		return n.prefix + "_" + strings.ReplaceAll(strings.ToLower(string(eventType)), ".", "_")
	}
	return n.prefix + "_" + n.queue
}

// Dial connects to RabbitMQ and opens a publishing channel.
func Dial(cfg Config, log *logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	p := &Publisher{
		conn:     conn,
		channel:  ch,
		queues:   newQueueNamer(cfg),
		declared: make(map[string]bool),
		logger:   log,
	}
	metrics.BusConnected.WithLabelValues("amqp").Set(1)
	go p.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	log.Info("RabbitMQ connection established",
		zap.String("queue", p.queues.name("")),
		zap.String("prefix", p.queues.prefix),
	)
	return p, nil
}

// watch reports the connection as down once it closes.
func (p *Publisher) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		p.logger.Error("RabbitMQ connection lost", zap.String("reason", err.Reason), zap.Int("code", err.Code))
	}
	metrics.BusConnected.WithLabelValues("amqp").Set(0)
}

// Publish writes a thread event as JSON to its queue.
func (p *Publisher) Publish(ctx context.Context, event *model.ThreadEvent) error {
	err := p.publish(ctx, event)
	metrics.RecordEvent("amqp", err)
	return err
}

func (p *Publisher) publish(ctx context.Context, event *model.ThreadEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	queue := p.queues.name(event.Type)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queue] {
		if _, err := p.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		p.declared[queue] = true
	}

	err = p.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	p.logger.Debug("published thread event",
		zap.String("queue", queue),
		zap.String("event_type", string(event.Type)),
	)
	return nil
}

// IsConnected reports whether the broker connection is open.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil && !p.conn.IsClosed() {
		p.logger.Warn("failed to close RabbitMQ channel", zap.Error(err))
	}
	return p.conn.Close()
}
