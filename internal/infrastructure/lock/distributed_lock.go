package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// 订单结算锁
// ============================================================================
//
// 账户之间的并发靠数据库行级乐观锁解决，这里只保证：
// 同一笔订单在多实例部署时只有一个结算流程在推进。
//
// 加锁：SET key value NX PX ttl
//   - NX: 只有 key 不存在时才设置（互斥）
//   - PX: 过期时间，持有者崩溃后锁自动释放
//   - value: 持有者标识，释放时校验，避免误删别人的锁
//
// 释放：Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Unlock 只删除自己持有的锁；锁已过期或被他人持有时返回 ErrLockExpired
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockExpired
	}
	return nil
}

// SettleLocker 按订单号加锁，实现 service.OrderLocker
type SettleLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewSettleLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SettleLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettleLocker{client: client, ttl: ttl, logger: logger}
}

func settleLockKey(orderNo string) string {
	return fmt.Sprintf("proxypay:lock:settle:%s", orderNo)
}

// Acquire 不等待，锁被占用直接返回 ErrLockFailed
func (s *SettleLocker) Acquire(ctx context.Context, orderNo string) (func(), error) {
	l := NewDistributedLock(s.client, settleLockKey(orderNo), uuid.NewString(), s.ttl)
	ok, err := l.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockFailed
	}

	return func() {
		// 结算可能在调用方取消后才结束，释放不跟随调用方的 ctx
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("释放结算锁失败", zap.String("order_no", orderNo), zap.Error(err))
		}
	}, nil
}
