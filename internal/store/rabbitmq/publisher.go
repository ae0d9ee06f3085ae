package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"
)

// CreditGrant is one top-up for the ledger worker. Reference is the
// idempotency key applied per user.
type CreditGrant struct {
	UserID    uint64 `json:"user_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

func (g CreditGrant) Validate() error {
	if g.UserID == 0 {
		return errors.New("grant: user_id required")
	}
	if g.Amount <= 0 {
		return errors.New("grant: amount must be positive")
	}
	if g.Reference == "" {
		return errors.New("grant: reference required")
	}
	return nil
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// DeclareTopology declares the main queue plus its retry and dead-letter
// queues. Publisher and worker both call it so either may start first.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
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
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	var result error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func (p *Publisher) PublishGrant(ctx context.Context, g CreditGrant) error {
	if err := g.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(g)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    g.Reference,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// DecodeGrant parses and validates a delivery body.
func DecodeGrant(body []byte) (CreditGrant, error) {
	var g CreditGrant
	if err := json.Unmarshal(body, &g); err != nil {
		return CreditGrant{}, err
	}
	return g, g.Validate()
}
