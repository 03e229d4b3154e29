package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
)

const (
	TopicReservationCreated   = "reservation-created"
	TopicReservationCancelled = "reservation-cancelled"
	TopicReservationExpired   = "reservation-expired"
	TopicReservationCompleted = "reservation-completed"
	TopicTicketsCreated       = "tickets-created"
	TopicHouseCountdown       = "house-countdown"
	TopicReservationEvents    = "reservation-events"
)

type Producer struct {
	producer sarama.SyncProducer
	mockMode bool
	log      *logger.Logger
}

func NewProducer(brokers []string, mockMode bool, log *logger.Logger) (*Producer, error) {
	if mockMode {
		log.LogKafka("MOCK_MODE", "producer", "Running in mock mode - no actual Kafka connection")
		return &Producer{mockMode: true, log: log}, nil
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	log.LogKafka("CONNECTED", "producer", fmt.Sprintf("Connected to Kafka brokers: %v", brokers))
	return NewProducerFromClient(producer, log), nil
}

// NewProducerFromClient wraps an existing sync producer.
func NewProducerFromClient(producer sarama.SyncProducer, log *logger.Logger) *Producer {
	return &Producer{producer: producer, log: log}
}

// PublishReservationEvent sends a reservation lifecycle event keyed by house,
// so events of one house stay ordered on a partition.
func (p *Producer) PublishReservationEvent(event *models.ReservationEvent) error {
	return p.send(topicForEvent(event.Type), event.HouseID, event.ReservationID, event)
}

func (p *Producer) PublishCountdown(event *models.HouseCountdownEvent) error {
	return p.send(TopicHouseCountdown, event.HouseID, event.HouseID, event)
}

func (p *Producer) send(topic, key, subject string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if p.mockMode {
		p.log.LogKafka("MOCK_PUBLISH", topic, fmt.Sprintf("Mock publishing event for %s", subject))
		p.log.LogKafka("MOCK_DATA", topic, string(data))
		return nil
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.Error("KAFKA", fmt.Sprintf("Failed to send message to topic %s: %v", topic, err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.log.LogKafka("PUBLISHED", topic, fmt.Sprintf("Message sent to partition %d at offset %d for %s", partition, offset, subject))
	return nil
}

func topicForEvent(eventType string) string {
	switch eventType {
	case models.EventReservationCreated:
		return TopicReservationCreated
	case models.EventReservationCancelled:
		return TopicReservationCancelled
	case models.EventReservationExpired:
		return TopicReservationExpired
	case models.EventReservationCompleted:
		return TopicReservationCompleted
	case models.EventTicketsCreated:
		return TopicTicketsCreated
	case models.EventHouseCountdown:
		return TopicHouseCountdown
	default:
		return TopicReservationEvents
	}
}

func (p *Producer) Close() error {
	if p.mockMode {
		p.log.LogKafka("MOCK_CLOSE", "producer", "Mock producer closed")
		return nil
	}

	if p.producer != nil {
		p.log.LogKafka("CLOSING", "producer", "Closing Kafka producer connection")
		return p.producer.Close()
	}
	return nil
}
