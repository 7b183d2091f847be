// Package tasks defines the event structures that are sent to Kafka.
package tasks

import "time"

// TurnCompletedEvent 描述一次生成回合到达终止状态后的结果，
// 供下游（统计、审计）消费；核心流程不依赖其投递成功。
type TurnCompletedEvent struct {
	ChatID     string    `json:"chat_id"`
	ServerID   string    `json:"server_id"`
	Model      string    `json:"model"`
	Status     string    `json:"status"` // completed / cancelled / failed
	TokensUsed int       `json:"tokens_used"`
	DurationMs int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}
