package main

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// eventPublisher — часть kafka.Producer, нужная команде settle.
type eventPublisher interface {
	PublishEvent(topic string, key string, event any, headers ...sarama.RecordHeader) error
	Close() error
}

type producerFactory func(brokers []string) (eventPublisher, error)

func newKafkaProducer(brokers []string) (eventPublisher, error) {
	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}
	return producer, nil
}

func newSettleCommand(opts *globalOptions, newProducer producerFactory) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "settle <session-id>",
		Short: "Ask the service to reconcile a session via Kafka",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := requiredArg(args[0], "session id")
			if err != nil {
				return err
			}
			brokers := splitBrokers(opts.brokers)
			if len(brokers) == 0 {
				return errors.New("--brokers (or " + envKafkaBrokers + ") is required")
			}

			producer, err := newProducer(brokers)
			if err != nil {
				return err
			}
			defer producer.Close()

			request := kafka.NewSettlementRequest(sessionID, source)
			if err := producer.PublishEvent(kafka.TopicSettlementRequests, sessionID, request); err != nil {
				return fmt.Errorf("publish settlement request: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "settlement requested: session=%s topic=%s\n", sessionID, kafka.TopicSettlementRequests)
			return err
		},
	}
	cmd.Flags().StringVar(&source, "source", "checkoutctl", "origin recorded in the request")
	return cmd
}
