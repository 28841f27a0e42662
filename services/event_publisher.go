// services/event_publisher.go
package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const settlementExchange = "settlement_events"

// EventPublisher publishes settlement lifecycle events. A no-op fallback is
// used when RabbitMQ is not configured so settlement never blocks on the bus.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// SettlementEvent is the payload for challenge lifecycle events.
type SettlementEvent struct {
	ChallengeID string    `json:"challenge_id"`
	Status      string    `json:"status"`
	Winner      string    `json:"winner,omitempty"`
	PrizePool   float64   `json:"prize_pool,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type amqpPublisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	log.Printf("⚠️  [EVENTS] publish skipped (no broker): %s", routingKey)
	return nil
}

func (noopPublisher) Close() {}

// NewEventPublisher connects to RabbitMQ, falling back to a no-op publisher
// when amqpURL is empty or the broker is unreachable.
func NewEventPublisher(amqpURL string) EventPublisher {
	if amqpURL == "" {
		log.Println("⚠️  AMQP_URL not set — settlement events disabled")
		return noopPublisher{}
	}

	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		log.Printf("⚠️  Failed to connect to RabbitMQ, settlement events disabled: %v", err)
		return noopPublisher{}
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		log.Printf("⚠️  Failed to open RabbitMQ channel, settlement events disabled: %v", err)
		return noopPublisher{}
	}

	return &amqpPublisher{conn: conn, channel: ch}
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	if err := p.channel.ExchangeDeclare(
		settlementExchange, "topic", true, false, false, false, nil,
	); err != nil {
		return err
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx,
		settlementExchange,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
}

func (p *amqpPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// publishSettled is shared by the reconciler, the deadline sweep and repair.
func publishSettled(events EventPublisher, routingKey, challengeID, status, winner string, prizePool float64) {
	if events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := events.Publish(ctx, routingKey, SettlementEvent{
		ChallengeID: challengeID,
		Status:      status,
		Winner:      winner,
		PrizePool:   prizePool,
		Timestamp:   time.Now(),
	}); err != nil {
		log.Printf("⚠️  [EVENTS] failed to publish %s for %s: %v", routingKey, challengeID, err)
	}
}
