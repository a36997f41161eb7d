package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func TestSettleCommand(t *testing.T) {
	syncProducer := mocks.NewSyncProducer(t, nil)
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicSettlementRequests {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		value, _ := msg.Value.Encode()
		request, err := kafka.ParseSettlementRequest(value)
		if err != nil {
			return err
		}
		if request.SessionID != "cs_42" || request.Source != "back-office" {
			return fmt.Errorf("unexpected request %s", value)
		}
		return nil
	})

	var gotBrokers []string
	factory := func(brokers []string) (eventPublisher, error) {
		gotBrokers = brokers
		return kafka.NewProducerFromSync(syncProducer, nil), nil
	}

	var out bytes.Buffer
	root := newTestRoot(&out, commandDeps{newProducer: factory})
	root.SetArgs([]string{"--brokers", "k1:9092", "settle", "cs_42", "--source", "back-office"})
	require.NoError(t, root.Execute())

	require.Equal(t, []string{"k1:9092"}, gotBrokers)
	require.Contains(t, out.String(), "settlement requested: session=cs_42")
}

func TestSettleCommand_Errors(t *testing.T) {
	root := newTestRoot(io.Discard, commandDeps{})
	root.SetArgs([]string{"settle", "cs_1"})
	require.ErrorContains(t, root.Execute(), "--brokers")

	failingFactory := func([]string) (eventPublisher, error) { return nil, errors.New("no brokers reachable") }
	root = newTestRoot(io.Discard, commandDeps{newProducer: failingFactory})
	root.SetArgs([]string{"--brokers", "k1:9092", "settle", "cs_1"})
	require.ErrorContains(t, root.Execute(), "no brokers reachable")

	syncProducer := mocks.NewSyncProducer(t, nil)
	syncProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	root = newTestRoot(io.Discard, commandDeps{newProducer: func([]string) (eventPublisher, error) {
		return kafka.NewProducerFromSync(syncProducer, nil), nil
	}})
	root.SetArgs([]string{"--brokers", "k1:9092", "settle", "cs_1"})
	require.ErrorContains(t, root.Execute(), "publish settlement request")

	root = newTestRoot(io.Discard, commandDeps{})
	root.SetArgs([]string{"--brokers", "k1:9092", "settle", " "})
	require.ErrorContains(t, root.Execute(), "session id is required")
}

func TestSettlementRequestJSON(t *testing.T) {
	raw, err := json.Marshal(kafka.NewSettlementRequest("cs_1", "checkoutctl"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"event_type":"checkout.settlement_requested"`)
}
