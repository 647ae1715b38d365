package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proxypay/internal/model"
	"proxypay/internal/repository"
	"proxypay/internal/routing"
	"proxypay/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultReservationTTL = 2 * time.Minute

type AllocationOptions struct {
	ReservationTTL time.Duration
}

// Binding 一次成功的预留
// Config 是本次分配使用的配置快照，后续故障切换策略也以它为准
type Binding struct {
	OrderNo    string
	AccountID  int64
	Version    int64 // 预留成功后的账户版本号
	ReservedAt time.Time
	Config     model.RoutingConfig
}

// AllocationEngine 按路由策略为订单挑选并预留一个代理账户
//
// 没有全局锁：每个候选账户用 (id, version) 做一次条件更新，
// 抢输了就换下一个候选，不会阻塞等待其他分配。
type AllocationEngine struct {
	accounts AccountStore
	configs  ConfigStore
	opts     AllocationOptions
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
}

func NewAllocationEngine(accounts AccountStore, configs ConfigStore, opts AllocationOptions, m *metrics.Collector, logger *zap.Logger) *AllocationEngine {
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = defaultReservationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationEngine{
		accounts: accounts,
		configs:  configs,
		opts:     opts,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Snapshot 读取一次路由配置，缺失时写入默认配置
func (e *AllocationEngine) Snapshot(ctx context.Context) (model.RoutingConfig, error) {
	cfg, err := e.configs.Get(ctx)
	if err == nil {
		return *cfg, nil
	}
	if !errors.Is(err, repository.ErrConfigNotFound) {
		return model.RoutingConfig{}, fmt.Errorf("读取路由配置失败: %w", err)
	}

	// 并发写入默认值时以先落库的那一行为准
	cfg, err = e.configs.PutDefault(ctx, model.DefaultRoutingConfig())
	if err != nil {
		return model.RoutingConfig{}, fmt.Errorf("写入默认路由配置失败: %w", err)
	}
	e.logger.Info("路由配置缺失，已写入默认配置", zap.String("strategy", cfg.Strategy))
	return *cfg, nil
}

// Allocate 为订单预留一个账户，exclude 中的账户不参与本次分配
func (e *AllocationEngine) Allocate(ctx context.Context, orderNo string, amount decimal.Decimal, exclude ...int64) (*Binding, error) {
	cfg, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	accounts, err := e.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取代理账户失败: %w", err)
	}

	now := e.now()
	skip := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	available := make([]model.ProxyAccount, 0, len(accounts))
	byID := make(map[int64]model.ProxyAccount, len(accounts))
	for _, a := range accounts {
		if _, excluded := skip[a.ID]; excluded {
			continue
		}
		if a.IsHeld(now) {
			continue
		}
		available = append(available, a)
		byID[a.ID] = a
	}

	// 出款成功后一定扣款，余额覆盖不了订单金额的账户不预留
	minBalance := amount

	lost := 0
	for _, id := range routing.Rank(amount, cfg, available) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		account := byID[id]
		if account.Balance.LessThan(minBalance) {
			continue
		}

		// last_used 不能回退，本地时钟落后时沿用已有的时间
		at := now
		if account.LastUsed != nil && account.LastUsed.After(at) {
			at = *account.LastUsed
		}

		ok, err := e.accounts.TryReserve(ctx, model.Reservation{
			AccountID:       account.ID,
			ExpectedVersion: account.Version,
			OrderNo:         orderNo,
			MinBalance:      minBalance,
			At:              at,
			LeaseUntil:      at.Add(e.opts.ReservationTTL),
		})
		if err != nil {
			return nil, fmt.Errorf("预留代理账户失败: %w", err)
		}
		if !ok {
			lost++
			e.metrics.RecordReservationConflict()
			e.logger.Debug("预留失败，尝试下一个候选",
				zap.String("order_no", orderNo),
				zap.Int64("account_id", account.ID),
				zap.Error(ErrReservationRace),
			)
			continue
		}

		e.metrics.RecordAllocation(cfg.Strategy, metrics.ResultSuccess)
		e.logger.Info("代理账户预留成功",
			zap.String("order_no", orderNo),
			zap.Int64("account_id", account.ID),
			zap.String("strategy", cfg.Strategy),
			zap.String("amount", amount.String()),
		)
		return &Binding{
			OrderNo:    orderNo,
			AccountID:  account.ID,
			Version:    account.Version + 1,
			ReservedAt: at,
			Config:     cfg,
		}, nil
	}

	result := metrics.ResultNoFunds
	if lost > 0 {
		result = metrics.ResultRaceLost
	}
	e.metrics.RecordAllocation(cfg.Strategy, result)
	return nil, ErrNoEligibleAccount
}

// Release 只释放预留，不改状态和余额，last_used 保持预留时的值
func (e *AllocationEngine) Release(ctx context.Context, b *Binding) error {
	if b == nil {
		return nil
	}
	if err := e.accounts.ReleaseReservation(ctx, b.AccountID, b.OrderNo); err != nil {
		return fmt.Errorf("释放代理账户失败: %w", err)
	}
	return nil
}
