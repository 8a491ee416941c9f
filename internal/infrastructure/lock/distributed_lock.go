package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 串行化锁
// ============================================================================
//
// 两个热点资源必须串行访问：
//   1. 账单 —— 同一账单被两个运营同时点"通过"，只能有一次生效
//   2. 商品库存 —— 同一商品被两个账单同时认领，不能发出同一个库存单元
//
// 锁只负责降低冲突概率，正确性兜底始终是数据库层的条件更新
// （WHERE status=? 加 RowsAffected 检查），锁丢失也不会出现双重发货
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"的原子性
// ============================================================================

var ErrLockFailed = errors.New("获取锁失败")

// Lock 一次持锁
type Lock interface {
	// Lock 阻塞式获取锁（带重试）
	Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error
	Unlock(ctx context.Context) error
}

// Locker 按 key 发锁的工厂，业务层不关心锁的实现
type Locker interface {
	New(key string) Lock
}

// ============================================================================
// Redis 实现
// ============================================================================

// RedisLocker 基于 Redis SetNX 的分布式锁工厂
type RedisLocker struct {
	client     *redis.Client
	expiration time.Duration
}

func NewRedisLocker(client *redis.Client, expiration time.Duration) *RedisLocker {
	return &RedisLocker{client: client, expiration: expiration}
}

func (f *RedisLocker) New(key string) Lock {
	// value 用随机 UUID，释放时验证持有者，防止误删别人的锁
	return &DistributedLock{
		client:     f.client,
		key:        key,
		value:      uuid.NewString(),
		expiration: f.expiration,
	}
}

// DistributedLock Redis 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// Lua 脚本先验证 value 再删除，避免超时后误删后来者的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：业务维度的锁 key
// ============================================================================

// ApproveKey 账单审核锁（按账单维度，不同账单可并发审核）
func ApproveKey(invoiceNo string) string {
	return fmt.Sprintf("approve:lock:invoice:%s", invoiceNo)
}

// ClaimKey 库存认领锁（按商品维度，不同商品可并发认领）
func ClaimKey(productID int64) string {
	return fmt.Sprintf("claim:lock:product:%d", productID)
}
