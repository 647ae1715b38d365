package service

import (
	"context"
	"time"

	"proxypay/internal/model"

	"github.com/shopspring/decimal"
)

// AccountStore 代理账户存储，所有写操作都是行级条件更新
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]model.ProxyAccount, error)
	GetByID(ctx context.Context, id int64) (*model.ProxyAccount, error)
	// TryReserve 版本号不一致或账户已不满足条件时返回 false
	TryReserve(ctx context.Context, res model.Reservation) (bool, error)
	ReleaseReservation(ctx context.Context, accountID int64, orderNo string) error
	// TryDebit 版本号冲突返回 false；余额不足返回 repository.ErrBalanceNotEnough
	TryDebit(ctx context.Context, debit model.Debit) (bool, error)
	SetStatus(ctx context.Context, id int64, status string) error
	MarkLoginVerified(ctx context.Context, id int64, at time.Time) error
	Create(ctx context.Context, account *model.ProxyAccount) error
	Update(ctx context.Context, id int64, update model.AccountUpdate) (*model.ProxyAccount, error)
	TopUp(ctx context.Context, id int64, amount decimal.Decimal, remark string) (*model.ProxyAccount, error)
}

// ConfigStore 路由配置存储
type ConfigStore interface {
	// Get 配置不存在时返回 repository.ErrConfigNotFound
	Get(ctx context.Context) (*model.RoutingConfig, error)
	// PutDefault 不存在才创建，返回最终落库的配置
	PutDefault(ctx context.Context, cfg model.RoutingConfig) (*model.RoutingConfig, error)
	Update(ctx context.Context, patch model.RoutingConfigPatch) (*model.RoutingConfig, error)
}

// OrderStore 订单存储
type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)
	// GetByRequestID 不存在返回 nil, nil
	GetByRequestID(ctx context.Context, requestID string) (*model.Order, error)
	// Transition 只有当前状态为 from 时才会更新，终态会同时写出 outbox 事件
	Transition(ctx context.Context, orderNo, from, to string, change model.OrderChange) error
	List(ctx context.Context, filter model.OrderFilter, page, pageSize int) ([]*model.Order, int64, error)
	ListStale(ctx context.Context, status string, before time.Time, limit int) ([]*model.Order, error)
}

// LedgerStore 账户流水
type LedgerStore interface {
	// GetDebitByOrderNo 不存在返回 nil, nil
	GetDebitByOrderNo(ctx context.Context, orderNo string) (*model.AccountTransaction, error)
	ListByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error)
}

// OrderLocker 保证同一订单同一时刻只有一个结算流程
type OrderLocker interface {
	Acquire(ctx context.Context, orderNo string) (unlock func(), err error)
}
