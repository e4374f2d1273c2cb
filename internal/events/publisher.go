package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// TurnCompleted is published after every answered turn and feeds the
// downstream statistics pipeline.
type TurnCompleted struct {
	EventID          string    `json:"event_id"`
	DialogID         string    `json:"dialog_id"`
	UserID           string    `json:"user_id"`
	SequenceNumber   int       `json:"sequence_number"`
	Model            string    `json:"model"`
	Mode             string    `json:"mode"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewPublisher connects and sets up the queue topology: a durable main queue
// dead-lettering into <queue>.dlq, and a <queue>.retry queue whose expired
// messages flow back to the main queue.
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	topology := []struct {
		name string
		args amqp.Table
	}{
		{queue + ".dlq", nil},
		{queue + ".retry", amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		}},
		{queue, amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue + ".dlq",
		}},
	}
	for _, q := range topology {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("declare %s: %w", q.name, err)
		}
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishTurnCompleted emits one event with a bounded publish timeout.
// Callers treat failures as non-fatal; a lost stats event never fails a turn.
func (p *Publisher) PublishTurnCompleted(ctx context.Context, ev TurnCompleted) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(cctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Body:         body,
		Timestamp:    ev.OccurredAt,
	})
}
