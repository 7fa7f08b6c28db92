package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

// TopicCollabEvents 协作事件审计流
const TopicCollabEvents = "hr.collab.events"

// auditRecord 写入 Kafka 的事件
type auditRecord struct {
	Target entity.Target    `json:"target"`
	Type   entity.EventType `json:"type"`
	Data   any              `json:"data"`
	Ts     int64            `json:"ts"`
}

// KafkaEventPublisher 把频道/房间事件写入审计 topic，按目标分区保证同一目标有序
type KafkaEventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaEventPublisher 创建Kafka事件发布器
func NewKafkaEventPublisher(brokers []string, topic string) (*KafkaEventPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 10 * time.Second
	// 相同目标的事件发到同一分区
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaEventPublisherWithProducer(producer, topic), nil
}

// NewKafkaEventPublisherWithProducer 使用已有 producer
func NewKafkaEventPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaEventPublisher {
	if topic == "" {
		topic = TopicCollabEvents
	}
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

var _ out.Broadcaster = (*KafkaEventPublisher)(nil)

func (p *KafkaEventPublisher) BroadcastToChannel(ctx context.Context, channelID uint64, event *entity.Event) error {
	return p.publish(entity.Target{Kind: entity.TargetChannel, ID: channelID}, event)
}

func (p *KafkaEventPublisher) BroadcastToRoom(ctx context.Context, roomID uint64, event *entity.Event) error {
	return p.publish(entity.Target{Kind: entity.TargetRoom, ID: roomID}, event)
}

// SendToUser 点对点投递不进审计流
func (p *KafkaEventPublisher) SendToUser(ctx context.Context, userID uint64, event *entity.Event) error {
	return nil
}

func (p *KafkaEventPublisher) publish(target entity.Target, event *entity.Event) error {
	data, err := json.Marshal(auditRecord{
		Target: target,
		Type:   event.Type,
		Data:   event.Data,
		Ts:     event.Ts,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event failed: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(target.Key()), // 按目标分区
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
			{Key: []byte("timestamp"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish %s event failed: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}
