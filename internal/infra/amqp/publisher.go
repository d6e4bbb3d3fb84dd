package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"live-poll-service/internal/domain"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Message types carried in the AMQP Type header.
const (
	TypePollResults  = "poll-results"
	TypeSessionEnded = "session-ended"
)

// Publisher sends closed-poll results and session summaries to durable
// RabbitMQ queues for downstream consumers (analytics, grading exports).
// It implements app.ResultsPublisher.
type Publisher struct {
	conn          *amqp.Connection
	mu            sync.Mutex // amqp channels are not safe for concurrent publishing
	ch            channel
	resultsQueue  string
	sessionsQueue string
	now           func() time.Time
}

// Dial connects to the broker and declares both queues.
func Dial(url, resultsQueue, sessionsQueue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p, err := newPublisher(ch, resultsQueue, sessionsQueue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, resultsQueue, sessionsQueue string) (*Publisher, error) {
	for _, name := range []string{resultsQueue, sessionsQueue} {
		if _, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}
	return &Publisher{
		ch:            ch,
		resultsQueue:  resultsQueue,
		sessionsQueue: sessionsQueue,
		now:           time.Now,
	}, nil
}

func (p *Publisher) PublishResults(ctx context.Context, results domain.PollResults) error {
	return p.publish(ctx, p.resultsQueue, TypePollResults, results.PollID, results)
}

func (p *Publisher) PublishSession(ctx context.Context, record domain.SessionRecord) error {
	return p.publish(ctx, p.sessionsQueue, TypeSessionEnded, record.ID, record)
}

func (p *Publisher) publish(ctx context.Context, queue, typ, id string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			// consumers dedupe on message id; replays reuse it
			MessageId: typ + ":" + id,
			Type:      typ,
			Body:      body,
			Timestamp: p.now(),
		},
	)
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
