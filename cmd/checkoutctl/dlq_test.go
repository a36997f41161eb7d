package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

func consumerDeadLetter(t *testing.T, permanent bool) []byte {
	t.Helper()
	raw, err := json.Marshal(kafka.DeadLetter{
		EventType:     kafka.EventTypeSettlementDeadLettered,
		OriginalTopic: kafka.TopicSettlementRequests,
		OriginalKey:   "cs_1",
		OriginalValue: `{"session_id":"cs_1"}`,
		ErrorMessage:  "processor unavailable",
		Permanent:     permanent,
		FailedAt:      time.Now().UTC(),
		RetryCount:    3,
	})
	if err != nil {
		t.Fatalf("marshal dead letter: %v", err)
	}
	return raw
}

func outboxDeadLetter(t *testing.T, payload json.RawMessage) []byte {
	t.Helper()
	letter, err := json.Marshal(outbox.DeadLetter{
		OutboxID:      "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     string(kafka.EventTypeOrderCreated),
		Payload:       payload,
		PublishError:  "timeout",
	})
	if err != nil {
		t.Fatalf("marshal outbox dead letter: %v", err)
	}
	raw, err := json.Marshal(kafka.OutboxEnvelope{
		ID:            "dlq-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "outbox.dead_lettered",
		Payload:       letter,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestExtractReplayMessage_ConsumerDeadLetter(t *testing.T) {
	got, ok, err := extractReplayMessage(consumerDeadLetter(t, false), kafka.TopicOrderEvents, false)
	if err != nil || !ok {
		t.Fatalf("expected replay candidate, got ok=%v err=%v", ok, err)
	}
	if got.topic != kafka.TopicSettlementRequests {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "cs_1" || string(got.value) != `{"session_id":"cs_1"}` {
		t.Fatalf("unexpected replay: key=%s value=%s", got.key, got.value)
	}
}

func TestExtractReplayMessage_PermanentSkippedUnlessIncluded(t *testing.T) {
	raw := consumerDeadLetter(t, true)

	if _, ok, err := extractReplayMessage(raw, kafka.TopicOrderEvents, false); err != nil || ok {
		t.Fatalf("expected permanent dead letter to be skipped, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := extractReplayMessage(raw, kafka.TopicOrderEvents, true); err != nil || !ok {
		t.Fatalf("expected permanent dead letter with include flag, got ok=%v err=%v", ok, err)
	}
}

func TestExtractReplayMessage_OutboxDeadLetter(t *testing.T) {
	got, ok, err := extractReplayMessage(outboxDeadLetter(t, json.RawMessage(`{"order_id":"order-1"}`)), kafka.TopicOrderEvents, false)
	if err != nil || !ok {
		t.Fatalf("expected replay candidate, got ok=%v err=%v", ok, err)
	}
	if got.topic != kafka.TopicOrderEvents || got.key != "order-1" {
		t.Fatalf("unexpected replay: topic=%s key=%s", got.topic, got.key)
	}

	var envelope kafka.OutboxEnvelope
	if err := json.Unmarshal(got.value, &envelope); err != nil {
		t.Fatalf("replay must be an outbox envelope: %v", err)
	}
	if envelope.ID != "outbox-1" || envelope.EventType != string(kafka.EventTypeOrderCreated) {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if string(envelope.Payload) != `{"order_id":"order-1"}` {
		t.Fatalf("unexpected payload: %s", envelope.Payload)
	}
	if envelope.PublishedAt.IsZero() {
		t.Fatal("published_at must be set")
	}
}

func TestExtractReplayMessage_InvalidAndUnknown(t *testing.T) {
	if _, ok, err := extractReplayMessage(outboxDeadLetter(t, nil), kafka.TopicOrderEvents, false); err == nil || ok {
		t.Fatalf("expected error for missing payload, got ok=%v err=%v", ok, err)
	}

	bad := []byte(`{"id":"x","payload":"not-an-object"}`)
	if _, ok, err := extractReplayMessage(bad, kafka.TopicOrderEvents, false); err == nil || ok {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}

	for _, raw := range [][]byte{[]byte(`{"foo":"bar"}`), []byte(`not json`)} {
		if _, ok, err := extractReplayMessage(raw, kafka.TopicOrderEvents, false); err != nil || ok {
			t.Fatalf("expected %s to be skipped, got ok=%v err=%v", raw, ok, err)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestReplayConfig_Validate(t *testing.T) {
	valid := replayConfig{
		brokers:     []string{"broker:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicOrderEvents,
		limit:       1,
		idleTimeout: time.Second,
	}
	if err := valid.validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	err := replayConfig{sourceTopic: " ", limit: 0}.validate()
	for _, want := range []string{"--brokers", "--source-topic", "--target-topic", "--limit", "--idle-timeout"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got %v", want, err)
		}
	}
}

func TestPublishReplay(t *testing.T) {
	producer := &stubReplayProducer{}
	if err := publishReplay(producer, replayMessage{topic: "t", key: "k", value: []byte("v")}); err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if producer.lastMsg == nil || producer.lastMsg.Topic != "t" {
		t.Fatalf("unexpected message: %+v", producer.lastMsg)
	}

	if err := publishReplay(nil, replayMessage{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	failing := &stubReplayProducer{sendErr: errors.New("send failed")}
	if err := publishReplay(failing, replayMessage{topic: "t"}); err == nil {
		t.Fatal("expected send error")
	}
}

func TestReplayer_ProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{
			{Offset: 0, Value: consumerDeadLetter(t, false)},
			{Offset: 1, Value: consumerDeadLetter(t, true)},
			{Offset: 2, Value: []byte(`{"foo":"bar"}`)},
		}),
	}}

	r := newTestReplayer(testReplayConfig(), client, consumer, nil)
	stats, err := r.processPartition(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats != (replayStats{processed: 3, replayed: 1, skipped: 2}) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReplayer_ProcessPartition_Execute(t *testing.T) {
	cfg := testReplayConfig()
	cfg.execute = true
	cfg.fromNewest = true

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 10}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{
			{Offset: 8, Value: outboxDeadLetter(t, json.RawMessage(`{"order_id":"order-1"}`))},
			{Offset: 9, Value: consumerDeadLetter(t, false)},
		}),
	}}
	producer := &stubReplayProducer{}

	r := newTestReplayer(cfg, client, consumer, producer)
	stats, err := r.processPartition(context.Background(), 0, 2)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.replayed != 2 || producer.calls != 2 {
		t.Fatalf("unexpected replay: stats=%+v calls=%d", stats, producer.calls)
	}
	if consumer.calls[0].offset != 8 {
		t.Fatalf("expected from-newest start offset 8, got %d", consumer.calls[0].offset)
	}
	if producer.lastMsg.Topic != kafka.TopicSettlementRequests {
		t.Fatalf("unexpected last topic: %s", producer.lastMsg.Topic)
	}
}

func TestReplayer_ProcessPartition_ErrorBranches(t *testing.T) {
	cfg := testReplayConfig()

	offsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset failed")}}
	if _, err := newTestReplayer(cfg, offsetErr, &stubPartitionConsumerSource{}, nil).processPartition(context.Background(), 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	empty := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}
	stats, err := newTestReplayer(cfg, empty, &stubPartitionConsumerSource{}, nil).processPartition(context.Background(), 0, 1)
	if err != nil || stats.processed != 0 {
		t.Fatalf("expected empty partition to be skipped, got %+v %v", stats, err)
	}

	ranged := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	consumeErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume failed")}
	if _, err := newTestReplayer(cfg, ranged, consumeErr, nil).processPartition(context.Background(), 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	errCh := make(chan *sarama.ConsumerError, 1)
	errCh <- &sarama.ConsumerError{Topic: cfg.sourceTopic, Partition: 0, Err: errors.New("broken")}
	withError := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: errCh},
	}}
	if _, err := newTestReplayer(cfg, ranged, withError, nil).processPartition(context.Background(), 0, 1); err == nil {
		t.Fatal("expected partition consumer error")
	}

	executeCfg := cfg
	executeCfg.execute = true
	sendFails := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: consumerDeadLetter(t, false)}}),
	}}
	producer := &stubReplayProducer{sendErr: errors.New("send failed")}
	if _, err := newTestReplayer(executeCfg, ranged, sendFails, producer).processPartition(context.Background(), 0, 1); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestReplayer_ProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	cfg := testReplayConfig()
	cfg.idleTimeout = 20 * time.Millisecond
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}}

	idle := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)},
	}}
	stats, err := newTestReplayer(cfg, client, idle, nil).processPartition(context.Background(), 0, 5)
	if err != nil || stats.processed != 0 {
		t.Fatalf("expected idle timeout to end partition, got %+v %v", stats, err)
	}

	cfg.idleTimeout = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)},
	}}
	if _, err := newTestReplayer(cfg, client, blocked, nil).processPartition(ctx, 0, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReplayer_Run(t *testing.T) {
	cfg := testReplayConfig()
	cfg.limit = 1

	client := &stubOffsetClient{
		partitions: []int32{1, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 1},
			1: {oldest: 0, newest: 1},
		},
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: consumerDeadLetter(t, false)}}),
		1: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: consumerDeadLetter(t, false)}}),
	}}

	stats, err := newTestReplayer(cfg, client, consumer, nil).run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stats.processed != 1 || len(consumer.calls) != 1 || consumer.calls[0].partition != 0 {
		t.Fatalf("expected limit to stop after sorted partition 0: stats=%+v calls=%+v", stats, consumer.calls)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if _, err := newTestReplayer(executeCfg, client, consumer, nil).run(context.Background()); err == nil {
		t.Fatal("expected execute mode to require producer")
	}
	if _, err := newTestReplayer(cfg, nil, nil, nil).run(context.Background()); err == nil {
		t.Fatal("expected missing dependencies error")
	}

	partitionsErr := &stubOffsetClient{partitionsErr: errors.New("metadata failed")}
	if _, err := newTestReplayer(cfg, partitionsErr, consumer, nil).run(context.Background()); err == nil {
		t.Fatal("expected partitions error")
	}

	stats, err = newTestReplayer(cfg, &stubOffsetClient{}, consumer, nil).run(context.Background())
	if err != nil || stats.processed != 0 {
		t.Fatalf("expected empty topic to be a no-op, got %+v %v", stats, err)
	}
}

func TestDLQReplayCommand(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 1}},
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: consumerDeadLetter(t, false)}}),
	}}
	producer := &stubReplayProducer{}

	var gotCfg replayConfig
	deps := func(cfg replayConfig) (offsetClient, partitionConsumerSource, replayProducer, error) {
		gotCfg = cfg
		return client, consumer, producer, nil
	}

	var out bytes.Buffer
	root := newTestRoot(&out, commandDeps{replay: deps})
	root.SetArgs([]string{"dlq", "replay", "--brokers", "b1:9092, b2:9092", "--execute", "--limit", "5", "--idle-timeout", "50ms"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("dlq replay failed: %v", err)
	}

	if len(gotCfg.brokers) != 2 || gotCfg.sourceTopic != kafka.TopicDeadLetterQueue || gotCfg.targetTopic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected config: %+v", gotCfg)
	}
	if !strings.Contains(out.String(), "execute: processed=1 replayed=1 skipped=0") {
		t.Fatalf("unexpected output: %q", out.String())
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func TestDLQReplayCommand_Errors(t *testing.T) {
	failingDeps := func(replayConfig) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}

	root := newTestRoot(io.Discard, commandDeps{replay: failingDeps})
	root.SetArgs([]string{"dlq", "replay"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--brokers") {
		t.Fatalf("expected brokers error, got %v", err)
	}

	root = newTestRoot(io.Discard, commandDeps{replay: failingDeps})
	root.SetArgs([]string{"dlq", "replay", "--brokers", "b:9092"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}
}

func testReplayConfig() replayConfig {
	return replayConfig{
		brokers:     []string{"broker:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicOrderEvents,
		limit:       10,
		idleTimeout: time.Second,
	}
}

func newTestReplayer(cfg replayConfig, client offsetClient, consumer partitionConsumerSource, producer replayProducer) *replayer {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return &replayer{cfg: cfg, client: client, consumer: consumer, producer: producer, logger: log.NewEntry(logger)}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

// closedPartitionConsumer отдаёт сообщения и закрывает канал; канал ошибок не закрыт.
func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	return &stubPartitionConsumer{messages: msgCh, errors: make(chan *sarama.ConsumerError)}
}

type stubReplayProducer struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.calls++
	s.lastMsg = msg
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(s.calls), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
