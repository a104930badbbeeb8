// Package notifications publishes banking events to a RabbitMQ topic
// exchange. Downstream consumers (push, SMS, email) subscribe by routing
// key pattern, e.g. "transaction.*" or "emi.due".
package notifications

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/desibank/backend/internal/models"
)

type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// NewPublisher connects to the broker and declares the topic exchange. A
// connection failure is non-fatal: the returned publisher drops events and
// the caller keeps serving requests.
func NewPublisher(amqpURL, exchange string) *Publisher {
	p := &Publisher{exchange: exchange}
	if amqpURL == "" {
		log.Printf("[NOTIFY] AMQP URL not configured, notifications disabled")
		return p
	}

	conn, err := amqp091.Dial(amqpURL)
	if err != nil {
		log.Printf("[NOTIFY] Failed to connect to broker: %v, notifications disabled", err)
		return p
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		log.Printf("[NOTIFY] Failed to open channel: %v, notifications disabled", err)
		return p
	}

	if err := channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		log.Printf("[NOTIFY] Failed to declare exchange: %v, notifications disabled", err)
		return p
	}

	p.conn = conn
	p.channel = channel
	log.Printf("[NOTIFY] Connected, publishing to exchange %q", exchange)
	return p
}

type event struct {
	UserID    string      `json:"user_id"`
	Kind      string      `json:"kind"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// PublishTransaction emits a transaction event keyed by its type, e.g.
// "transaction.deposit".
func (p *Publisher) PublishTransaction(userID string, txn *models.Transaction) {
	routingKey := "transaction." + string(txn.Type)
	p.publish(routingKey, event{
		UserID:    userID,
		Kind:      routingKey,
		Payload:   txn,
		Timestamp: time.Now(),
	})
}

// PublishPayment emits a payment completion event.
func (p *Publisher) PublishPayment(userID string, payment *models.Payment) {
	p.publish("payment.completed", event{
		UserID:    userID,
		Kind:      "payment.completed",
		Payload:   payment,
		Timestamp: time.Now(),
	})
}

// PublishEmiEvent emits EMI lifecycle events: "emi.created",
// "emi.installment_paid", "emi.completed".
func (p *Publisher) PublishEmiEvent(userID, kind string, plan *models.EmiPlan) {
	p.publish("emi."+kind, event{
		UserID:    userID,
		Kind:      "emi." + kind,
		Payload:   plan,
		Timestamp: time.Now(),
	})
}

func (p *Publisher) publish(routingKey string, body interface{}) {
	if p == nil || p.channel == nil {
		return
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal event %s: %v", routingKey, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        jsonBody,
		}); err != nil {
		log.Printf("[NOTIFY] Failed to publish %s: %v", routingKey, err)
	}
}

// Close gracefully closes the channel and connection.
func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
