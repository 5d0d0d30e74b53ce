package api

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
)

// CancelStore 用 Redis 保存按任务号的取消标记，使取消请求可以
// 跨连接与跨实例生效。
type CancelStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCancelStore 创建取消标记存储。ttl 非正时取 1 小时。
func NewCancelStore(rdb *redis.Client, ttl time.Duration) *CancelStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CancelStore{rdb: rdb, ttl: ttl}
}

func (s *CancelStore) key(taskID string) string {
	return "agent:cancel:" + taskID
}

// RequestCancel 标记任务请求取消。
func (s *CancelStore) RequestCancel(ctx context.Context, taskID string) error {
	return s.rdb.Set(ctx, s.key(taskID), "1", s.ttl).Err()
}

// IsCancelled 查询任务是否被请求取消。查询失败按未取消处理。
func (s *CancelStore) IsCancelled(ctx context.Context, taskID string) bool {
	n, err := s.rdb.Exists(ctx, s.key(taskID)).Result()
	return err == nil && n > 0
}

// Probe 返回绑定任务号的中断探针。
func (s *CancelStore) Probe(taskID string) agent.Probe {
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		return s.IsCancelled(ctx, taskID)
	}
}
