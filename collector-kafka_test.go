package zipkintracer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaCollector(t *testing.T) {
	entries := testEntries(2)
	producer := mocks.NewSyncProducer(t, NewKafkaConfig())
	for _, entry := range entries {
		want := entry.Message
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			if !bytes.Equal(want, val) {
				return fmt.Errorf("want %x, have %x", want, val)
			}
			return nil
		})
	}

	c, err := NewKafkaCollector(nil, KafkaProducer(producer), KafkaTopic("spans"))
	require.NoError(t, err)

	require.NoError(t, c.Collect(context.Background(), entries))
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Collect(context.Background(), entries), ErrCollectorClosed)
}

func TestKafkaCollector_SendError(t *testing.T) {
	boom := errors.New("broker down")
	producer := mocks.NewSyncProducer(t, NewKafkaConfig())
	producer.ExpectSendMessageAndFail(boom)

	c, err := NewKafkaCollector(nil, KafkaProducer(producer))
	require.NoError(t, err)
	defer c.Close()

	err = c.Collect(context.Background(), testEntries(1))
	require.Error(t, err)
	assert.ErrorContains(t, err, "kafka collector")
}

func TestNewKafkaConfig(t *testing.T) {
	config := NewKafkaConfig()
	assert.True(t, config.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForLocal, config.Producer.RequiredAcks)
	assert.NoError(t, config.Validate())
}
