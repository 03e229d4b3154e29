package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
)

const (
	defaultHandleAttempts = 3
	defaultHandleBackoff  = time.Second
)

// PaymentHandler completes the reservation a payment event refers to.
type PaymentHandler func(ctx context.Context, event *models.PaymentEvent) error

type Consumer struct {
	consumer sarama.ConsumerGroup
	topics   []string
	log      *logger.Logger
}

func NewConsumer(brokers []string, groupID, topic string, log *logger.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	consumer, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.LogKafka("CONNECTED", topic, fmt.Sprintf("Consumer group %s joined brokers %v", groupID, brokers))
	return &Consumer{
		consumer: consumer,
		topics:   []string{topic},
		log:      log,
	}, nil
}

// ConsumePayments blocks until ctx is cancelled or the group fails.
func (c *Consumer) ConsumePayments(ctx context.Context, handler PaymentHandler) error {
	consumerHandler := &paymentConsumerHandler{
		handler:  handler,
		attempts: defaultHandleAttempts,
		backoff:  defaultHandleBackoff,
		log:      c.log,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.consumer.Consume(ctx, c.topics, consumerHandler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				c.log.Error("KAFKA", fmt.Sprintf("Error consuming messages: %v", err))
				return err
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}

type paymentConsumerHandler struct {
	handler  PaymentHandler
	attempts int
	backoff  time.Duration
	log      *logger.Logger
}

func (h *paymentConsumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *paymentConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim stops at the first event that keeps failing. Offsets are
// committed per partition, so marking a later message would skip it; ending
// the claim makes the next session resume from the failed offset.
func (h *paymentConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var event models.PaymentEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			h.log.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal message at offset %d: %v", message.Offset, err))
			session.MarkMessage(message, "")
			continue
		}

		if err := h.handle(session.Context(), &event); err != nil {
			h.log.Error("KAFKA", fmt.Sprintf("Giving up on payment event %s at offset %d until the next session: %v", event.PaymentID, message.Offset, err))
			return fmt.Errorf("payment event at offset %d: %w", message.Offset, err)
		}

		session.MarkMessage(message, "")
	}

	return nil
}

func (h *paymentConsumerHandler) handle(ctx context.Context, event *models.PaymentEvent) error {
	attempts := h.attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = h.handler(ctx, event); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		h.log.Warn("KAFKA", fmt.Sprintf("Payment event %s failed (attempt %d/%d): %v", event.PaymentID, attempt, attempts, err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.backoff * time.Duration(attempt)):
		}
	}
	return err
}
