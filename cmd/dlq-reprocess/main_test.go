package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestSplitBrokers(t *testing.T) {
	brokers := splitBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
	if got := splitBrokers("  ,  "); len(got) != 0 {
		t.Fatalf("expected no brokers for blank input, got %+v", got)
	}
}

func TestUnwrapDLQ_ConsumerRecord(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"original_topic": "storefront.order.events",
		"original_key":   "order-1",
		"original_value": `{"id":"evt-1"}`,
	})
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	got, ok, err := unwrapDLQ(&sarama.ConsumerMessage{Value: raw}, "fallback-topic")
	if err != nil {
		t.Fatalf("unwrapDLQ failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != "storefront.order.events" || got.key != "order-1" {
		t.Fatalf("unexpected candidate: topic=%s key=%s", got.topic, got.key)
	}
	if string(got.value) != `{"id":"evt-1"}` {
		t.Fatalf("unexpected replay value: %s", string(got.value))
	}
}

func TestUnwrapDLQ_ConsumerRecordWithoutTopic(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"original_key":   "order-1",
		"original_value": `{"id":"evt-1"}`,
	})
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	got, ok, err := unwrapDLQ(&sarama.ConsumerMessage{Value: raw}, "fallback-topic")
	if err != nil || !ok {
		t.Fatalf("unwrapDLQ failed: ok=%v err=%v", ok, err)
	}
	if got.topic != "fallback-topic" {
		t.Fatalf("expected fallback topic, got %s", got.topic)
	}
}

func TestUnwrapDLQ_OutboxRecord(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-1",
		"event_type":     "order.submitted",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "order",
			"aggregate_id":   "order-1",
			"event_type":     "order.submitted",
			"payload":        map[string]any{"order_ref": "order-1"},
			"publish_error":  "timeout",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	got, ok, err := unwrapDLQ(&sarama.ConsumerMessage{Value: raw}, "storefront.order.events")
	if err != nil {
		t.Fatalf("unwrapDLQ failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != "storefront.order.events" || got.key != "order-1" {
		t.Fatalf("unexpected candidate: topic=%s key=%s", got.topic, got.key)
	}

	var replay resendEnvelope
	if err := json.Unmarshal(got.value, &replay); err != nil {
		t.Fatalf("replay payload must decode: %v", err)
	}
	if replay.EventType != "order.submitted" {
		t.Fatalf("unexpected event type: %s", replay.EventType)
	}
}

func TestUnwrapDLQ_OutboxWithoutNestedPayload(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-1",
		"event_type":     "order.submitted",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "order",
			"aggregate_id":   "order-1",
			"event_type":     "order.submitted",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	_, ok, err := unwrapDLQ(&sarama.ConsumerMessage{Value: raw}, "storefront.order.events")
	if err == nil {
		t.Fatal("expected error for missing nested payload")
	}
	if ok {
		t.Fatal("expected no replay candidate")
	}
}

func TestUnwrapDLQ_UnknownShape(t *testing.T) {
	_, ok, err := unwrapDLQ(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}, "storefront.order.events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected message to be skipped")
	}
}

func TestFirstSet(t *testing.T) {
	if got := firstSet("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-blank value: %q", got)
	}
	if got := firstSet("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestParseOptions_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=storefront.dlq",
		"-target-topic=storefront.order.events",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		opts, err := parseOptions()
		if err != nil {
			t.Fatalf("parseOptions failed: %v", err)
		}
		if len(opts.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(opts.brokers))
		}
		if opts.limit != 10 {
			t.Fatalf("unexpected limit: %d", opts.limit)
		}
		if !opts.execute || !opts.fromNewest {
			t.Fatalf("expected execute and from-newest to be set: %+v", opts)
		}
		if opts.idle != 3*time.Second {
			t.Fatalf("unexpected idle-timeout: %s", opts.idle)
		}
	})
}

func TestParseOptions_Validation(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing brokers",
			args:    []string{"-brokers="},
			wantErr: "no kafka brokers given",
		},
		{
			name:    "blank source topic",
			args:    []string{"-brokers=broker:9092", "-source-topic="},
			wantErr: "source-topic must not be empty",
		},
		{
			name:    "blank target topic",
			args:    []string{"-brokers=broker:9092", "-target-topic="},
			wantErr: "target-topic must not be empty",
		},
		{
			name:    "zero limit",
			args:    []string{"-brokers=broker:9092", "-limit=0"},
			wantErr: "limit must be positive",
		},
		{
			name:    "zero idle timeout",
			args:    []string{"-brokers=broker:9092", "-idle-timeout=0s"},
			wantErr: "idle-timeout must be positive",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withFlagArgs(t, tc.args, func() {
				_, err := parseOptions()
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got: %v", tc.wantErr, err)
				}
			})
		})
	}
}

func TestResend(t *testing.T) {
	if err := resend(nil, resendMessage{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	sink := &fakeSink{}
	err := resend(sink, resendMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`)})
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("unexpected producer calls: %d", sink.calls)
	}
	if sink.lastMsg == nil || sink.lastMsg.Topic != "topic" {
		t.Fatalf("unexpected last message: %+v", sink.lastMsg)
	}

	sink.sendErr = errors.New("send failed")
	if err := resend(sink, resendMessage{topic: "topic"}); err == nil {
		t.Fatal("expected resend error")
	}
}

func consumerDLQValue(key string) []byte {
	return []byte(fmt.Sprintf(
		`{"original_topic":"storefront.order.events","original_key":%q,"original_value":"{\"id\":\"evt-1\"}"}`,
		key,
	))
}

func TestDrainPartition_DryRun(t *testing.T) {
	client := &fakeOffsetReader{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	source := &fakeReaderSource{
		readers: map[int32]partitionReader{
			0: drainedReader([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: consumerDLQValue("order-1")},
			}),
		},
	}

	opts := options{
		source: "storefront.dlq",
		target: "storefront.order.events",
		idle:   20 * time.Millisecond,
	}

	stats, err := drainPartition(context.Background(), source, client, nil, opts, 0, 10)
	if err != nil {
		t.Fatalf("drainPartition failed: %v", err)
	}
	if stats.scanned != 1 || stats.resent != 1 || stats.dropped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(source.calls) != 1 || source.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", source.calls)
	}
}

func TestDrainPartition_Execute(t *testing.T) {
	client := &fakeOffsetReader{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &fakeReaderSource{
		readers: map[int32]partitionReader{
			0: drainedReader([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: consumerDLQValue("order-1")},
			}),
		},
	}
	sink := &fakeSink{}

	opts := options{source: "storefront.dlq", target: "storefront.order.events", execute: true, idle: 20 * time.Millisecond}

	stats, err := drainPartition(context.Background(), source, client, sink, opts, 0, 10)
	if err != nil {
		t.Fatalf("drainPartition failed: %v", err)
	}
	if stats.resent != 1 {
		t.Fatalf("expected resent=1, got %+v", stats)
	}
	if sink.calls != 1 {
		t.Fatalf("expected one producer call, got %d", sink.calls)
	}
}

func TestDrainPartition_ErrorBranches(t *testing.T) {
	opts := options{source: "storefront.dlq", target: "storefront.order.events", execute: true, idle: 20 * time.Millisecond}

	offsetErrClient := &fakeOffsetReader{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := drainPartition(context.Background(), &fakeReaderSource{}, offsetErrClient, &fakeSink{}, opts, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &fakeOffsetReader{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	brokenSource := &fakeReaderSource{consumeErr: errors.New("consume")}
	if _, err := drainPartition(context.Background(), brokenSource, client, &fakeSink{}, opts, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	erroringReader := &fakePartitionReader{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	erroringReader.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(erroringReader.errors)
	source := &fakeReaderSource{readers: map[int32]partitionReader{0: erroringReader}}
	if _, err := drainPartition(context.Background(), source, client, &fakeSink{}, opts, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(erroringReader.messages)

	badPayloadReader := drainedReader([]*sarama.ConsumerMessage{
		{Partition: 0, Offset: 0, Value: []byte(`{"id":"x","payload":"not-an-object"}`)},
	})
	source = &fakeReaderSource{readers: map[int32]partitionReader{0: badPayloadReader}}
	stats, err := drainPartition(context.Background(), source, client, &fakeSink{}, opts, 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.dropped != 1 {
		t.Fatalf("expected dropped=1, got %+v", stats)
	}

	okReader := drainedReader([]*sarama.ConsumerMessage{
		{Partition: 0, Offset: 0, Value: consumerDLQValue("order-1")},
	})
	source = &fakeReaderSource{readers: map[int32]partitionReader{0: okReader}}
	failingSink := &fakeSink{sendErr: errors.New("send fail")}
	if _, err := drainPartition(context.Background(), source, client, failingSink, opts, 0, 1); err == nil {
		t.Fatal("expected producer send error")
	}
}

func TestDrainPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &fakeOffsetReader{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	opts := options{source: "storefront.dlq", target: "storefront.order.events", idle: 10 * time.Millisecond}

	silentReader := &fakePartitionReader{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	source := &fakeReaderSource{readers: map[int32]partitionReader{0: silentReader}}

	stats, err := drainPartition(context.Background(), source, client, nil, opts, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.scanned != 0 {
		t.Fatalf("expected scanned=0, got %+v", stats)
	}
	close(silentReader.messages)
	close(silentReader.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledReader := &fakePartitionReader{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledSource := &fakeReaderSource{readers: map[int32]partitionReader{0: canceledReader}}
	if _, err := drainPartition(ctx, canceledSource, client, nil, opts, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledReader.messages)
	close(canceledReader.errors)
}

func TestReplayAll(t *testing.T) {
	opts := options{source: "storefront.dlq", target: "storefront.order.events", limit: 1, idle: 20 * time.Millisecond}

	if err := replayAll(context.Background(), opts, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &fakeOffsetReader{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	source := &fakeReaderSource{
		readers: map[int32]partitionReader{
			0: drainedReader([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: consumerDLQValue("order-1")},
			}),
			2: drainedReader([]*sarama.ConsumerMessage{
				{Partition: 2, Offset: 0, Value: consumerDLQValue("order-2")},
			}),
		},
	}

	if err := replayAll(context.Background(), opts, client, source, nil); err != nil {
		t.Fatalf("replayAll failed: %v", err)
	}
	if len(source.calls) != 1 {
		t.Fatalf("expected one partition due to limit=1, got calls=%d", len(source.calls))
	}
	if source.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", source.calls[0].partition)
	}

	executeOpts := opts
	executeOpts.execute = true
	if err := replayAll(context.Background(), executeOpts, client, source, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &fakeOffsetReader{partitions: nil}
	if err := replayAll(context.Background(), opts, emptyClient, source, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := buildKafkaDeps
	defer func() { buildKafkaDeps = oldDeps }()

	opts := options{source: "storefront.dlq", target: "storefront.order.events", limit: 1, idle: 20 * time.Millisecond}

	buildKafkaDeps = func(options) (offsetReader, partitionReaderSource, resendSink, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), opts); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &fakeOffsetReader{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	source := &fakeReaderSource{
		readers: map[int32]partitionReader{
			0: drainedReader([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: consumerDLQValue("order-1")},
			}),
		},
	}
	sink := &fakeSink{}

	buildKafkaDeps = func(options) (offsetReader, partitionReaderSource, resendSink, error) {
		return client, source, sink, nil
	}
	if err := run(context.Background(), opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !source.closed || !sink.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, source.closed, sink.closed)
	}
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := buildKafkaDeps
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	defer func() {
		buildKafkaDeps = oldDeps
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	client := &fakeOffsetReader{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	source := &fakeReaderSource{
		readers: map[int32]partitionReader{
			0: drainedReader([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: consumerDLQValue("order-1")},
			}),
		},
	}
	buildKafkaDeps = func(options) (offsetReader, partitionReaderSource, resendSink, error) {
		return client, source, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-source-topic=storefront.dlq", "-target-topic=storefront.order.events", "-limit=1", "-idle-timeout=50ms"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	main()
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type fakeOffsetReader struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (f *fakeOffsetReader) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := f.offsetErr[partition]; ok {
		return 0, err
	}

	bounds := f.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return bounds.oldest, nil
	case sarama.OffsetNewest:
		return bounds.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (f *fakeOffsetReader) Partitions(string) ([]int32, error) {
	if f.partitionsErr != nil {
		return nil, f.partitionsErr
	}
	return append([]int32(nil), f.partitions...), nil
}

func (f *fakeOffsetReader) Close() error {
	f.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type fakeReaderSource struct {
	readers    map[int32]partitionReader
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (f *fakeReaderSource) ConsumePartition(_ string, partition int32, offset int64) (partitionReader, error) {
	f.calls = append(f.calls, consumeCall{partition: partition, offset: offset})
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	reader, ok := f.readers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return reader, nil
}

func (f *fakeReaderSource) Close() error {
	f.closed = true
	return nil
}

type fakePartitionReader struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (f *fakePartitionReader) Messages() <-chan *sarama.ConsumerMessage { return f.messages }
func (f *fakePartitionReader) Errors() <-chan *sarama.ConsumerError     { return f.errors }
func (f *fakePartitionReader) Close() error {
	f.closed = true
	return nil
}

// drainedReader отдаёт заранее заготовленные сообщения и закрытые каналы.
func drainedReader(messages []*sarama.ConsumerMessage) *fakePartitionReader {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)

	errCh := make(chan *sarama.ConsumerError)
	close(errCh)

	return &fakePartitionReader{messages: msgCh, errors: errCh}
}

type fakeSink struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (f *fakeSink) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	f.calls++
	f.lastMsg = msg
	if f.sendErr != nil {
		return 0, 0, f.sendErr
	}
	return 0, int64(f.calls), nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}
