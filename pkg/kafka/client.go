// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。Brokers 为空时跳过，事件上报保持禁用。
func InitProducer(cfg config.KafkaConfig) {
	if cfg.Brokers == "" {
		log.Info("Kafka 未配置，回合事件上报已禁用")
		return
	}
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceTurnEvent 发送一个回合完成事件到 Kafka。
// 事件仅用于下游统计，失败只记录日志，绝不影响聊天主流程。
func ProduceTurnEvent(ctx context.Context, event tasks.TurnCompletedEvent) {
	if producer == nil {
		return
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		log.Errorf("序列化回合事件失败: %v", err)
		return
	}

	err = producer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(event.ChatID),
			Value: eventBytes,
		},
	)
	if err != nil {
		log.Errorf("发送回合事件到 Kafka 失败: %v", err)
	}
}
