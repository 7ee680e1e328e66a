package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"ms-lunch/internal/config"
	"ms-lunch/internal/logger"
	"ms-lunch/internal/models"
)

// Producer publishes order and payment events. A nil Producer is a valid
// no-op, used when Kafka is disabled.
type Producer struct {
	writer *kafka.Writer
	topics config.TopicConfig
	log    *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{writer: writer, topics: topics, log: log}
}

func (p *Producer) Publish(topic, key string, value []byte) error {
	err := p.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	p.log.LogKafka("PUBLISH", topic, "key="+key)
	return nil
}

func (p *Producer) publishJSON(topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Publish(topic, key, value)
}

// OrderCreatedEvent and PaymentConfirmedEvent mirror the service's models
// with a stable wire shape for downstream consumers.
type OrderCreatedEvent struct {
	OrderID  string `json:"order_id"`
	DayID    string `json:"day_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type PaymentConfirmedEvent struct {
	OrderCode int64  `json:"order_code"`
	Name      string `json:"name"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// PublishOrderCreated satisfies the inventory service's EventPublisher.
func (p *Producer) PublishOrderCreated(order models.Order) error {
	event := OrderCreatedEvent{
		OrderID:  order.ID,
		DayID:    order.DayID,
		Name:     order.CustomerName,
		Quantity: order.Quantity,
	}
	return p.publishJSON(p.topics.OrderCreated, order.ID, event)
}

// PublishPaymentConfirmed satisfies the reconciliation engine's
// EventPublisher.
func (p *Producer) PublishPaymentConfirmed(txn models.PaymentTransaction) error {
	event := PaymentConfirmedEvent{
		OrderCode: txn.OrderCode,
		Name:      txn.CustomerName,
		Amount:    txn.Amount,
		Reference: txn.Reference,
	}
	return p.publishJSON(p.topics.PaymentConfirmed, strconv.FormatInt(txn.OrderCode, 10), event)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
