package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

// ErrCommitOutOfOrder is returned when a commit would acknowledge a
// partition past a fetched message that was never committed.
var ErrCommitOutOfOrder = errors.New("commit skips an uncommitted message")

// Producer publishes alert messages keyed by alert tag, so every alert of
// one location lands on the same partition in emission order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Publish writes one message and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.writer.Topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads alert messages in a consumer group and commits them one
// at a time, in fetch order per partition.
type Consumer struct {
	reader  *kafka.Reader
	offsets *offsetTracker
}

// NewConsumer joins groupID on topic. A new group starts from the oldest
// retained alert.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
		offsets: newOffsetTracker(),
	}
}

// Consume fetches the next message without committing it.
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	c.offsets.fetched(msg.Partition, msg.Offset)
	return msg, nil
}

// Commit acknowledges msg. It must be the oldest uncommitted message of
// its partition, since Kafka commits are cumulative.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	if err := c.offsets.check(msg.Partition, msg.Offset); err != nil {
		return err
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	c.offsets.committed(msg.Partition, msg.Offset)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// offsetTracker remembers fetched but uncommitted offsets per partition.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[int][]int64
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: make(map[int][]int64)}
}

func (t *offsetTracker) fetched(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[partition] = append(t.pending[partition], offset)
}

func (t *offsetTracker) check(partition int, offset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	queue := t.pending[partition]
	if len(queue) == 0 || queue[0] == offset {
		return nil
	}
	return fmt.Errorf("%w: partition %d offset %d before %d", ErrCommitOutOfOrder, partition, queue[0], offset)
}

func (t *offsetTracker) committed(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	queue := t.pending[partition]
	for len(queue) > 0 && queue[0] <= offset {
		queue = queue[1:]
	}
	if len(queue) == 0 {
		delete(t.pending, partition)
		return
	}
	t.pending[partition] = queue
}

// EnsureTopic creates topic through the cluster controller. An existing
// topic is not an error; created reports whether this call made it.
func EnsureTopic(brokers []string, topic string, numPartitions, replicationFactor int) (created bool, err error) {
	if len(brokers) == 0 {
		return false, errors.New("no kafka brokers configured")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return false, fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return false, fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return false, fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return true, nil
}
