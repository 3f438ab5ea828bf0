package zipkintracer

import (
	"context"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/wire"
)

// defaultKafkaTopic sets the standard Kafka topic our Collector will publish
// on. The default topic for zipkin-receiver-kafka is "zipkin", see:
// https://github.com/openzipkin/zipkin/tree/master/zipkin-receiver-kafka
const defaultKafkaTopic = "zipkin"

// KafkaCollector implements Collector by publishing every encoded span as
// one message on a Kafka topic.
type KafkaCollector struct {
	producer sarama.SyncProducer
	topic    string

	mu     sync.Mutex
	closed bool
}

// KafkaOption sets a parameter for the KafkaCollector
type KafkaOption func(c *KafkaCollector)

// KafkaProducer sets the producer used to publish spans. By default a sync
// producer is created from the broker addresses.
func KafkaProducer(p sarama.SyncProducer) KafkaOption {
	return func(c *KafkaCollector) { c.producer = p }
}

// KafkaTopic sets the kafka topic to attach the collector producer on.
func KafkaTopic(t string) KafkaOption {
	return func(c *KafkaCollector) { c.topic = t }
}

// NewKafkaCollector returns a new Kafka-backed Collector. addrs should be a
// slice of TCP endpoints of the form "host:port".
func NewKafkaCollector(addrs []string, options ...KafkaOption) (*KafkaCollector, error) {
	c := &KafkaCollector{topic: defaultKafkaTopic}
	for _, option := range options {
		option(c)
	}
	if c.producer == nil {
		p, err := sarama.NewSyncProducer(addrs, NewKafkaConfig())
		if err != nil {
			return nil, fmt.Errorf("kafka collector: %w", err)
		}
		c.producer = p
	}
	return c, nil
}

// NewKafkaConfig returns the producer configuration used when no producer
// is given: every message is acknowledged by the leader and reported back
// to the sync producer.
func NewKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "zipkin-rawtracer"
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	return config
}

// Collect implements Collector. The context is not consulted; the producer
// applies its own timeouts.
func (c *KafkaCollector) Collect(_ context.Context, entries []wire.LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCollectorClosed
	}
	msgs := make([]*sarama.ProducerMessage, len(entries))
	for i, entry := range entries {
		msgs[i] = &sarama.ProducerMessage{
			Topic: c.topic,
			Value: sarama.ByteEncoder(entry.Message),
		}
	}
	if err := c.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("kafka collector: %w", err)
	}
	return nil
}

// Close implements Collector.
func (c *KafkaCollector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.producer.Close()
}
