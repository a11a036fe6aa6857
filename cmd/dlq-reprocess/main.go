package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultScanLimit  = 100
	defaultIdleWindow = 2 * time.Second
)

// options — параметры запуска утилиты. По умолчанию работает dry-run:
// сообщения только перечисляются, публикация включается флагом -execute.
type options struct {
	brokers    []string
	source     string
	target     string
	limit      int
	execute    bool
	fromNewest bool
	idle       time.Duration
}

type resendMessage struct {
	topic string
	key   string
	value []byte
}

// consumerRecord — формат DLQ-записи kafka-consumer'а: исходное сообщение
// лежит в original_* полях.
type consumerRecord struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// outboxRecord — внешний конверт, в котором outbox-publisher шлёт события.
type outboxRecord struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// outboxFailure — payload DLQ-записи outbox-воркера с причиной отказа.
type outboxFailure struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type resendEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

type offsetReader interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionReaderSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

type resendSink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type consumerAdapter struct {
	consumer sarama.Consumer
}

func (a consumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a consumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// buildKafkaDeps подменяется в тестах стабами.
var buildKafkaDeps = func(opts options) (offsetReader, partitionReaderSource, resendSink, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	source := consumerAdapter{consumer: rawConsumer}

	// Producer нужен только в execute-режиме.
	if !opts.execute {
		return client, source, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(opts.brokers, producerConfig)
	if err != nil {
		_ = source.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, source, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	opts, err := parseOptions()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), opts); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseOptions() (options, error) {
	var (
		brokersRaw string
		opts       options
	)

	flag.StringVar(&brokersRaw, "brokers", "", "comma-separated Kafka brokers (fallback: KAFKA_BROKERS)")
	flag.StringVar(&opts.source, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read from")
	flag.StringVar(&opts.target, "target-topic", kafka.TopicOrderEvents, "topic to replay messages into")
	flag.IntVar(&opts.limit, "limit", defaultScanLimit, "max messages to scan/replay")
	flag.BoolVar(&opts.execute, "execute", false, "actually publish; default is dry-run")
	flag.BoolVar(&opts.fromNewest, "from-newest", false, "scan newest messages first (bounded by limit)")
	flag.DurationVar(&opts.idle, "idle-timeout", defaultIdleWindow, "per-partition idle timeout")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	opts.brokers = splitBrokers(brokersRaw)

	switch {
	case len(opts.brokers) == 0:
		return options{}, fmt.Errorf("no kafka brokers given (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(opts.source) == "":
		return options{}, fmt.Errorf("source-topic must not be empty")
	case strings.TrimSpace(opts.target) == "":
		return options{}, fmt.Errorf("target-topic must not be empty")
	case opts.limit <= 0:
		return options{}, fmt.Errorf("limit must be positive")
	case opts.idle <= 0:
		return options{}, fmt.Errorf("idle-timeout must be positive")
	}

	return opts, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, opts options) error {
	log.WithFields(log.Fields{
		"source_topic": opts.source,
		"target_topic": opts.target,
		"limit":        opts.limit,
		"execute":      opts.execute,
		"from_newest":  opts.fromNewest,
	}).Info("dlq replay started")

	client, source, sink, err := buildKafkaDeps(opts)
	if err != nil {
		return err
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
		if source != nil {
			_ = source.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return replayAll(ctx, opts, client, source, sink)
}

func replayAll(ctx context.Context, opts options, client offsetReader, source partitionReaderSource, sink resendSink) error {
	if client == nil || source == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if opts.execute && sink == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(opts.source)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", opts.source, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", opts.source).Warn("dlq topic is empty: no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total tally
	for _, partition := range partitions {
		remaining := opts.limit - total.scanned
		if remaining <= 0 {
			break
		}

		part, err := drainPartition(ctx, source, client, sink, opts, partition, remaining)
		if err != nil {
			return err
		}
		total.add(part)
	}

	mode := "dry-run"
	if opts.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.scanned,
		"replayed":  total.resent,
		"skipped":   total.dropped,
	}).Info("dlq replay finished")

	return nil
}

type tally struct {
	scanned int
	resent  int
	dropped int
}

func (t *tally) add(other tally) {
	t.scanned += other.scanned
	t.resent += other.resent
	t.dropped += other.dropped
}

// partitionBounds возвращает границы offset'ов партиции.
func partitionBounds(client offsetReader, topic string, partition int32) (int64, int64, error) {
	oldest, err := client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	return oldest, newest, nil
}

func drainPartition(
	ctx context.Context,
	source partitionReaderSource,
	client offsetReader,
	sink resendSink,
	opts options,
	partition int32,
	limit int,
) (tally, error) {
	var stats tally
	if limit <= 0 {
		return stats, nil
	}

	oldest, newest, err := partitionBounds(client, opts.source, partition)
	if err != nil {
		return stats, err
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if opts.fromNewest {
		if start = newest - int64(limit); start < oldest {
			start = oldest
		}
	}

	reader, err := source.ConsumePartition(opts.source, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	// Idle-таймер страхует от зависания на пустой партиции: дочитали
	// всё, что было, и вышли.
	idle := time.NewTimer(opts.idle)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()

		case err := <-reader.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}

		case msg, ok := <-reader.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(opts.idle)

			if msg.Offset >= newest {
				return stats, nil
			}

			if err := handleRecord(msg, opts, sink, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}

		case <-idle.C:
			return stats, nil
		}
	}

	return stats, nil
}

// handleRecord классифицирует одну DLQ-запись: переиграть, пропустить
// или зарепортить ошибку публикации.
func handleRecord(msg *sarama.ConsumerMessage, opts options, sink resendSink, stats *tally) error {
	stats.scanned++

	candidate, ok, err := unwrapDLQ(msg, opts.target)
	if err != nil {
		stats.dropped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("dlq record has unsupported shape, skipping")
		return nil
	}
	if !ok {
		stats.dropped++
		return nil
	}

	if !opts.execute {
		log.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"target_topic": candidate.topic,
			"key":          candidate.key,
		}).Info("dlq replay candidate")
		stats.resent++
		return nil
	}

	if err := resend(sink, candidate); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	stats.resent++
	return nil
}

func resend(sink resendSink, msg resendMessage) error {
	if sink == nil {
		return fmt.Errorf("producer is nil")
	}

	_, _, err := sink.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

// unwrapDLQ восстанавливает исходное сообщение из DLQ-записи. Поддержаны
// оба формата: конверт consumer'а и конверт outbox-воркера.
func unwrapDLQ(msg *sarama.ConsumerMessage, fallbackTopic string) (resendMessage, bool, error) {
	var record consumerRecord
	if err := json.Unmarshal(msg.Value, &record); err == nil && record.OriginalValue != "" {
		topic := strings.TrimSpace(record.OriginalTopic)
		if topic == "" {
			topic = fallbackTopic
		}
		return resendMessage{
			topic: topic,
			key:   record.OriginalKey,
			value: []byte(record.OriginalValue),
		}, true, nil
	}

	var outer outboxRecord
	if err := json.Unmarshal(msg.Value, &outer); err != nil {
		return resendMessage{}, false, nil
	}
	if len(outer.Payload) == 0 {
		return resendMessage{}, false, nil
	}

	var failure outboxFailure
	if err := json.Unmarshal(outer.Payload, &failure); err != nil {
		return resendMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(failure.Payload) == 0 {
		return resendMessage{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	replay := resendEnvelope{
		ID:            firstSet(failure.OutboxID, outer.ID),
		AggregateType: firstSet(failure.AggregateType, outer.AggregateType),
		AggregateID:   firstSet(failure.AggregateID, outer.AggregateID),
		EventType:     firstSet(failure.EventType, outer.EventType),
		Payload:       failure.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return resendMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := replay.AggregateID
	if key == "" {
		key = replay.ID
	}

	return resendMessage{topic: fallbackTopic, key: key, value: encoded}, true, nil
}

func firstSet(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
