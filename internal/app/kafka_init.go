package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// kafkaDependencies — producer для outbox и consumer запросов на сверку.
type kafkaDependencies struct {
	producer *kafka.Producer
	consumer *kafka.Consumer

	outboxPublisher domain.OutboxPublisher
	dlqPublisher    domain.OutboxPublisher
}

// initKafka подключает Kafka, если brokers не пустой.
// Без брокеров outbox-события только пишутся в лог, а consumer не запускается.
func initKafka(cfg Config, settler kafka.Settler, deps *runtimeDependencies, logger *log.Entry) (kafkaDependencies, error) {
	brokers := splitList(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		logger.Info("kafka is not configured, outbox events are logged only")
		return kafkaDependencies{outboxPublisher: newLogPublisher(logger)}, nil
	}

	producer, err := initKafkaProducer(brokers, logger)
	if err != nil {
		return kafkaDependencies{}, err
	}
	deps.addCloser("kafka-producer", func(context.Context) error { return producer.Close() })

	consumer, err := kafka.NewConsumerWithDLQ(
		brokers,
		cfg.KafkaSettlementGroup,
		[]string{kafka.TopicSettlementRequests},
		kafka.NewSettlementHandler(settler, logger.WithField("component", "settlement-consumer")),
		producer,
		cfg.KafkaMaxRetries,
	)
	if err != nil {
		return kafkaDependencies{}, err
	}
	deps.addCloser("kafka-consumer", func(context.Context) error { return consumer.Stop() })

	return kafkaDependencies{
		producer:        producer,
		consumer:        consumer,
		outboxPublisher: kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		dlqPublisher:    kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}, nil
}

// initKafkaProducer создаёт producer для списка брокеров.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer")
		return nil, err
	}

	logger.WithField("brokers", strings.Join(brokers, ",")).Info("kafka producer initialized")
	return producer, nil
}

// logPublisher пишет outbox-события в лог, когда Kafka не подключена.
type logPublisher struct {
	logger *log.Entry
}

func newLogPublisher(logger *log.Entry) *logPublisher {
	return &logPublisher{logger: logger.WithField("component", "outbox-log")}
}

func (p *logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_id":     event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Info("outbox event")
	return nil
}
