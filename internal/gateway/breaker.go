package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"proxypay/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// Breaker 给每个代理账户一个独立熔断器，连续失败的账户直接快速失败，
// 结算流程随即切换到下一个账户
type Breaker struct {
	next     Gateway
	cfg      BreakerConfig
	logger   *zap.Logger
	mu       sync.RWMutex
	breakers map[int64]*gobreaker.CircuitBreaker
}

func NewBreaker(next Gateway, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	return &Breaker{
		next:     next,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[int64]*gobreaker.CircuitBreaker),
	}
}

func (b *Breaker) Charge(ctx context.Context, account model.ProxyAccount, amount decimal.Decimal) (string, error) {
	result, err := b.get(account.ID).Execute(func() (interface{}, error) {
		return b.next.Charge(ctx, account, amount)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: account=%d", ErrCircuitOpen, account.ID)
		}
		return "", err
	}
	return result.(string), nil
}

// VerifyLogin 不经过熔断器，登录检测本身就是恢复手段
func (b *Breaker) VerifyLogin(ctx context.Context, account model.ProxyAccount) (decimal.Decimal, error) {
	balance, err := b.next.VerifyLogin(ctx, account)
	if err == nil {
		b.reset(account.ID)
	}
	return balance, err
}

// State 没有熔断器的账户视为 closed
func (b *Breaker) State(accountID int64) gobreaker.State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if cb, ok := b.breakers[accountID]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func (b *Breaker) get(accountID int64) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[accountID]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok = b.breakers[accountID]; ok {
		return cb
	}
	cb = b.newBreaker(accountID)
	b.breakers[accountID] = cb
	return cb
}

func (b *Breaker) reset(accountID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.breakers[accountID]; ok {
		b.breakers[accountID] = b.newBreaker(accountID)
	}
}

func (b *Breaker) newBreaker(accountID int64) *gobreaker.CircuitBreaker {
	threshold := b.cfg.ConsecutiveFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "proxy-account-" + strconv.FormatInt(accountID, 10),
		MaxRequests: b.cfg.HalfOpenRequests,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("通道熔断状态变化",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
