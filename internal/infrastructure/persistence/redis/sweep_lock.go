package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xiebiao/displayno/internal/infrastructure/config"
	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

// sweepLockKey 清理任务主节点锁
const sweepLockKey = "displayno:sweeper:lock"

// releaseScript 只有锁的持有者才能删除锁
// 避免：A的租约过期 → B拿到锁 → A执行完后把B的锁删掉
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock 清理任务的分布式租约锁
// 多实例部署时，每轮只有拿到锁的实例执行清理。
// client为nil时（单实例部署）总能获取成功。
type SweepLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewSweepLock 创建清理锁，token在进程内唯一
func NewSweepLock(client *redis.Client, cfg *config.Config) *SweepLock {
	return &SweepLock{
		client: client,
		key:    sweepLockKey,
		ttl:    cfg.Sweeper.LockTTL,
		token:  uuid.NewString(),
	}
}

// TryAcquire 尝试获取锁（SET NX PX），已被其他实例持有时返回false
func (l *SweepLock) TryAcquire(ctx context.Context) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, apperrors.ErrRedisError.WithCause(err)
	}
	return ok, nil
}

// Release 释放锁（只删除自己持有的锁）
func (l *SweepLock) Release(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return apperrors.ErrRedisError.WithCause(err)
	}
	return nil
}
