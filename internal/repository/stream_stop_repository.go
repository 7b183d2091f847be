package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 停止标志的保留时间：超出单次生成的合理上限即可。
const stopFlagTTL = 10 * time.Minute

// StreamStopRepository 定义了流式生成停止标志的操作接口。
// 标志存放在 Redis 中，使停止指令可以从任意请求路径（HTTP、WebSocket）
// 到达正在持有流的 goroutine。
type StreamStopRepository interface {
	SetStopFlag(ctx context.Context, chatID string) error
	IsStopped(ctx context.Context, chatID string) bool
	ClearStopFlag(ctx context.Context, chatID string) error
}

type redisStreamStopRepository struct {
	redisClient *redis.Client
}

// NewStreamStopRepository 创建一个新的 StreamStopRepository 实例。
func NewStreamStopRepository(redisClient *redis.Client) StreamStopRepository {
	return &redisStreamStopRepository{redisClient: redisClient}
}

func stopFlagKey(chatID string) string {
	return fmt.Sprintf("chat:%s:stream_stop", chatID)
}

// SetStopFlag 置位某个对话的停止标志。
func (r *redisStreamStopRepository) SetStopFlag(ctx context.Context, chatID string) error {
	if err := r.redisClient.Set(ctx, stopFlagKey(chatID), "1", stopFlagTTL).Err(); err != nil {
		return fmt.Errorf("failed to set stop flag: %w", err)
	}
	return nil
}

// IsStopped 查询某个对话的停止标志是否被置位。
// Redis 异常时按未停止处理：停止是尽力而为的控制信号，不应导致流中断。
func (r *redisStreamStopRepository) IsStopped(ctx context.Context, chatID string) bool {
	val, err := r.redisClient.Exists(ctx, stopFlagKey(chatID)).Result()
	if err != nil {
		return false
	}
	return val > 0
}

// ClearStopFlag 清除某个对话的停止标志，在每次生成开始前调用。
func (r *redisStreamStopRepository) ClearStopFlag(ctx context.Context, chatID string) error {
	return r.redisClient.Del(ctx, stopFlagKey(chatID)).Err()
}
