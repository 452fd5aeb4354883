// Package events 提供了聊天遥测事件的上报能力。
// 降级与同步失败不能被静默吞掉，这里把它们发到 Kafka 供运维侧消费；
// 上报本身是尽力而为的，失败只记日志。
package events

import (
	"context"
	"encoding/json"
	"time"

	"double-ai-go/internal/config"
	"double-ai-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// 事件类型常量。
const (
	EventDegradedMode      = "degraded_mode"      // 远端不可达，回退到本地缓存
	EventSyncFailure       = "sync_failure"       // 某次远端持久化失败（本地状态已生效）
	EventExchangeCompleted = "exchange_completed" // 一次问答交互完成
	EventSessionCleared    = "session_cleared"    // 会话被清空（删除重建）
)

// ChatEvent 是发往事件总线的消息结构。
type ChatEvent struct {
	Type      string `json:"type"`
	UserID    uint   `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Reporter 定义了事件上报的接口。
type Reporter interface {
	Report(ctx context.Context, event ChatEvent)
}

type kafkaReporter struct {
	writer *kafka.Writer
}

// NewKafkaReporter 创建一个基于 Kafka 的事件上报器。
func NewKafkaReporter(cfg config.KafkaConfig) Reporter {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Infof("Kafka 事件上报器初始化成功，主题 '%s'", cfg.Topic)
	return &kafkaReporter{writer: writer}
}

// Report 将事件发送到 Kafka。发送失败只记录日志，不影响调用方。
func (r *kafkaReporter) Report(ctx context.Context, event ChatEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("无法序列化聊天事件: %v", err)
		return
	}
	if err := r.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		log.Errorf("发送聊天事件到 Kafka 失败: type=%s, err=%v", event.Type, err)
	}
}

type nopReporter struct{}

// NewNopReporter 创建一个什么都不做的上报器，用于禁用 Kafka 的部署和测试。
func NewNopReporter() Reporter {
	return nopReporter{}
}

func (nopReporter) Report(ctx context.Context, event ChatEvent) {}
