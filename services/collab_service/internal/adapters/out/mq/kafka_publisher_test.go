package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

func TestKafkaEventPublisher_KeysByTarget(t *testing.T) {
	req := require.New(t)
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	defer func() { req.NoError(producer.Close()) }()

	var got *sarama.ProducerMessage
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		got = msg
		return nil
	})
	pub := NewKafkaEventPublisherWithProducer(producer, "")

	// When a room event is published
	err := pub.BroadcastToRoom(context.Background(), 12, entity.NewEvent(entity.EventScreenShareStarted, map[string]any{"sessionId": "s-1"}))

	// Then it lands on the audit topic keyed by the room
	req.NoError(err)
	req.Equal(TopicCollabEvents, got.Topic)
	key, err := got.Key.Encode()
	req.NoError(err)
	req.Equal("room:12", string(key))

	value, err := got.Value.Encode()
	req.NoError(err)
	var record map[string]any
	req.NoError(json.Unmarshal(value, &record))
	req.Equal("screen_share:started", record["type"])
	req.Equal("s-1", record["data"].(map[string]any)["sessionId"])
}

func TestKafkaEventPublisher_UserDeliveriesSkipped(t *testing.T) {
	req := require.New(t)
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	pub := NewKafkaEventPublisherWithProducer(producer, "audit")

	// No expectation is registered, so any send would fail the mock
	req.NoError(pub.SendToUser(context.Background(), 1, entity.NewEvent(entity.EventPresenceChange, nil)))
	req.NoError(producer.Close())
}

func TestKafkaEventPublisher_SendFailure(t *testing.T) {
	req := require.New(t)
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(errors.New("broker down"))
	pub := NewKafkaEventPublisherWithProducer(producer, "audit")

	err := pub.BroadcastToChannel(context.Background(), 0, entity.NewEvent(entity.EventPresenceChange, nil))

	req.Error(err)
	req.Contains(err.Error(), "broker down")
	req.NoError(producer.Close())
}
