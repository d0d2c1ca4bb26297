// Package rabbitmq publishes turn events to a durable queue with retry and
// dead-letter companions.
package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// Queues names the queues derived from the main queue.
type Queues struct {
	Main  string
	Retry string
	DLQ   string
}

func QueueNames(queue string) Queues {
	return Queues{Main: queue, Retry: queue + ".retry", DLQ: queue + ".dlq"}
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// DeclareQueues declares main, retry and DLQ. The worker calls it too so
// both sides agree on the arguments.
func DeclareQueues(ch *amqp.Channel, queue string) error {
	q := QueueNames(queue)

	if _, err := ch.QueueDeclare(q.DLQ, true, false, false, false, nil); err != nil {
		return err
	}

	// retry: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(q.Retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.Main,
	}); err != nil {
		return err
	}

	// main: dead-letter to DLQ on nack(requeue=false)
	_, err := ch.QueueDeclare(q.Main, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.DLQ,
	})
	return err
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

func (p *Publisher) PublishTurnEvent(ctx context.Context, ev chat.TurnEvent) error {
	msg, err := NewTurnEventPublishing(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		msg,
	)
}

func NewTurnEventPublishing(ev chat.TurnEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         "assistant.turn",
		Body:         body,
		Timestamp:    ev.At,
	}, nil
}

// DecodeTurnEvent parses a delivery body. Events without a session or
// outcome are rejected.
func DecodeTurnEvent(body []byte) (chat.TurnEvent, error) {
	var ev chat.TurnEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return chat.TurnEvent{}, err
	}
	if ev.SessionID == "" || ev.Owner == "" {
		return chat.TurnEvent{}, errBadEvent
	}
	switch ev.Outcome {
	case chat.OutcomeApplied, chat.OutcomeFailed, chat.OutcomeDiscarded:
	default:
		return chat.TurnEvent{}, errBadEvent
	}
	return ev, nil
}
