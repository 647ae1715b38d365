package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proxypay/internal/gateway"
	"proxypay/internal/model"
	"proxypay/internal/repository"
	"proxypay/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultMaxAttempts    = 3
	defaultDebitRetries   = 5
)

type SettlementOptions struct {
	GatewayTimeout time.Duration
	MaxAttempts    int // 单笔订单最多向通道发起的出款次数
	DebitRetries   int // 扣款遇到版本冲突时的重试次数
}

// SettlementCoordinator 驱动订单从 pending 走到终态
//
//	pending --分配--> allocated --出款成功--> success
//	   |                 | 出款失败且 auto-switch: 释放后换绑 (allocated -> allocated)
//	   +--无可用账户--> failed <--manual / 次数耗尽 / 取消--+
type SettlementCoordinator struct {
	engine   *AllocationEngine
	orders   OrderStore
	accounts AccountStore
	ledger   LedgerStore
	gateway  gateway.PaymentGateway
	locker   OrderLocker
	opts     SettlementOptions
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewSettlementCoordinator locker 为 nil 时不做跨进程互斥
func NewSettlementCoordinator(
	engine *AllocationEngine,
	orders OrderStore,
	accounts AccountStore,
	ledger LedgerStore,
	gw gateway.PaymentGateway,
	locker OrderLocker,
	opts SettlementOptions,
	m *metrics.Collector,
	logger *zap.Logger,
) *SettlementCoordinator {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.DebitRetries <= 0 {
		opts.DebitRetries = defaultDebitRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementCoordinator{
		engine:   engine,
		orders:   orders,
		accounts: accounts,
		ledger:   ledger,
		gateway:  gw,
		locker:   locker,
		opts:     opts,
		metrics:  m,
		logger:   logger,
	}
}

// Settle 结算订单。终态订单原样返回，不产生任何变更。
// 最终失败时同时返回更新后的订单和 *SettlementError。
func (c *SettlementCoordinator) Settle(ctx context.Context, orderNo string) (*model.Order, error) {
	unlock, err := c.lock(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := c.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return order, nil
	}
	if order.Status != model.OrderStatusPending {
		// allocated 说明上一次结算中断，交给补偿任务处理
		return order, ErrSettlementInProgress
	}
	return c.drive(ctx, order)
}

// Cancel 取消尚未完成的订单并释放其预留
func (c *SettlementCoordinator) Cancel(ctx context.Context, orderNo string) (*model.Order, error) {
	unlock, err := c.lock(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := c.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return order, fmt.Errorf("订单已结束，无法取消: %w", repository.ErrOrderStatusInvalid)
	}
	// 没有结算锁时无法确认通道是否正在出款
	if order.Status == model.OrderStatusAllocated && c.locker == nil {
		return order, fmt.Errorf("%w: 未配置结算锁，出款中的订单不能取消", ErrSettlementInProgress)
	}
	if order.ProxyAccountID != nil {
		if err := c.accounts.ReleaseReservation(ctx, *order.ProxyAccountID, orderNo); err != nil {
			return nil, fmt.Errorf("释放代理账户失败: %w", err)
		}
	}
	if err := c.orders.Transition(ctx, orderNo, order.Status, model.OrderStatusFailed, model.OrderChange{
		FailReason: ErrOrderCancelled.Error(),
	}); err != nil {
		return nil, err
	}
	c.metrics.RecordSettlement(model.OrderStatusFailed)
	c.logger.Info("订单已取消", zap.String("order_no", orderNo))
	return c.orders.GetByOrderNo(ctx, orderNo)
}

// Compensate 处理卡在 allocated 的订单：已有扣款流水则补记成功；
// 通道已出款但未扣款则重新扣款；都没有则释放预留并置为失败
func (c *SettlementCoordinator) Compensate(ctx context.Context, orderNo string) (*model.Order, error) {
	unlock, err := c.lock(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := c.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusAllocated {
		return order, nil
	}

	debit, err := c.ledger.GetDebitByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, fmt.Errorf("查询扣款流水失败: %w", err)
	}
	if debit != nil {
		accountID := debit.ProxyAccountID
		txID := order.TransactionID
		if txID == "" {
			txID = debit.TransactionNo
		}
		if err := c.orders.Transition(ctx, orderNo, model.OrderStatusAllocated, model.OrderStatusSuccess, model.OrderChange{
			ProxyAccountID: &accountID,
			TransactionID:  txID,
		}); err != nil {
			return nil, err
		}
		c.metrics.RecordSettlement(model.OrderStatusSuccess)
		c.logger.Info("补偿：订单已扣款，补记成功", zap.String("order_no", orderNo))
		return c.orders.GetByOrderNo(ctx, orderNo)
	}

	if order.TransactionID != "" && order.ProxyAccountID != nil {
		return c.recoverDebit(ctx, order)
	}

	if order.ProxyAccountID != nil {
		if err := c.accounts.ReleaseReservation(ctx, *order.ProxyAccountID, orderNo); err != nil {
			return nil, fmt.Errorf("释放代理账户失败: %w", err)
		}
	}
	if err := c.orders.Transition(ctx, orderNo, model.OrderStatusAllocated, model.OrderStatusFailed, model.OrderChange{
		FailReason: "结算超时未完成",
	}); err != nil {
		return nil, err
	}
	c.metrics.RecordSettlement(model.OrderStatusFailed)
	c.logger.Warn("补偿：订单未扣款，置为失败", zap.String("order_no", orderNo))
	return c.orders.GetByOrderNo(ctx, orderNo)
}

// recoverDebit 通道已出款（订单上有流水号）但扣款没有落库，补扣后置为成功
func (c *SettlementCoordinator) recoverDebit(ctx context.Context, order *model.Order) (*model.Order, error) {
	accountID := *order.ProxyAccountID
	account, err := c.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("读取代理账户失败: %w", err)
	}

	b := &Binding{OrderNo: order.OrderNo, AccountID: accountID, Version: account.Version}
	if err := c.debit(ctx, order, b); err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			c.logger.Error("补偿：补扣时余额不足",
				zap.String("order_no", order.OrderNo),
				zap.Int64("account_id", accountID),
				zap.String("transaction_id", order.TransactionID),
			)
			c.release(ctx, b)
			return c.fail(ctx, order.OrderNo, model.OrderStatusAllocated, err, order.Attempts)
		}
		return nil, fmt.Errorf("补扣失败: %w", err)
	}

	if err := c.orders.Transition(ctx, order.OrderNo, model.OrderStatusAllocated, model.OrderStatusSuccess, model.OrderChange{
		ProxyAccountID: &accountID,
		TransactionID:  order.TransactionID,
	}); err != nil {
		return nil, err
	}
	c.metrics.RecordSettlement(model.OrderStatusSuccess)
	c.logger.Info("补偿：已补扣并置为成功",
		zap.String("order_no", order.OrderNo),
		zap.String("transaction_id", order.TransactionID),
	)
	return c.orders.GetByOrderNo(ctx, order.OrderNo)
}

func (c *SettlementCoordinator) lock(ctx context.Context, orderNo string) (func(), error) {
	if c.locker == nil {
		return func() {}, nil
	}
	unlock, err := c.locker.Acquire(ctx, orderNo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlementInProgress, err)
	}
	return unlock, nil
}

func (c *SettlementCoordinator) drive(ctx context.Context, order *model.Order) (*model.Order, error) {
	var (
		from     = model.OrderStatusPending
		attempts int
		failed   []int64
		lastErr  error
	)

	for {
		if ctx.Err() != nil {
			return c.fail(ctx, order.OrderNo, from, ErrOrderCancelled, attempts)
		}

		binding, err := c.engine.Allocate(ctx, order.OrderNo, order.Amount, failed...)
		if err != nil {
			switch {
			case errors.Is(err, ErrNoEligibleAccount):
				if lastErr != nil {
					return c.fail(ctx, order.OrderNo, from, lastErr, attempts)
				}
				return c.fail(ctx, order.OrderNo, from, ErrNoEligibleAccount, attempts)
			case ctx.Err() != nil:
				return c.fail(ctx, order.OrderNo, from, ErrOrderCancelled, attempts)
			default:
				return nil, err
			}
		}

		attempts++
		accountID := binding.AccountID
		if err := c.orders.Transition(ctx, order.OrderNo, from, model.OrderStatusAllocated, model.OrderChange{
			ProxyAccountID: &accountID,
			Attempts:       attempts,
		}); err != nil {
			c.release(ctx, binding)
			return nil, fmt.Errorf("更新订单状态失败: %w", err)
		}
		from = model.OrderStatusAllocated

		if ctx.Err() != nil {
			c.release(ctx, binding)
			return c.fail(ctx, order.OrderNo, from, ErrOrderCancelled, attempts)
		}

		txID, err := c.charge(ctx, binding, order.Amount)
		if err == nil {
			return c.commit(ctx, order, binding, txID, attempts)
		}

		c.logger.Warn("通道出款失败",
			zap.String("order_no", order.OrderNo),
			zap.Int64("account_id", accountID),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		c.release(ctx, binding)
		failed = append(failed, accountID)
		lastErr = err

		if !binding.Config.AutoSwitch() || attempts >= c.opts.MaxAttempts {
			return c.fail(ctx, order.OrderNo, from, lastErr, attempts)
		}
		c.metrics.RecordFailover()
	}
}

func (c *SettlementCoordinator) charge(ctx context.Context, b *Binding, amount decimal.Decimal) (string, error) {
	account, err := c.accounts.GetByID(ctx, b.AccountID)
	if err != nil {
		return "", fmt.Errorf("读取代理账户失败: %w", err)
	}

	chargeCtx, cancel := context.WithTimeout(ctx, c.opts.GatewayTimeout)
	defer cancel()

	start := time.Now()
	txID, err := c.gateway.Charge(chargeCtx, *account, amount)
	c.metrics.ObserveGateway(time.Since(start), err == nil)
	if err != nil && !errors.Is(err, gateway.ErrGatewayTimeout) && errors.Is(chargeCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", gateway.ErrGatewayTimeout, err)
	}
	return txID, err
}

// commit 通道已经出款，之后的写入不受调用方取消影响
func (c *SettlementCoordinator) commit(ctx context.Context, order *model.Order, b *Binding, txID string, attempts int) (*model.Order, error) {
	ctx = context.WithoutCancel(ctx)

	// 先记下流水号，扣款失败时补偿任务据此补扣
	if err := c.orders.Transition(ctx, order.OrderNo, model.OrderStatusAllocated, model.OrderStatusAllocated, model.OrderChange{
		TransactionID: txID,
	}); err != nil {
		c.logger.Error("记录通道流水号失败",
			zap.String("order_no", order.OrderNo),
			zap.Int64("account_id", b.AccountID),
			zap.String("transaction_id", txID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("更新订单状态失败: %w", err)
	}

	if err := c.debit(ctx, order, b); err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			c.logger.Error("扣款时余额不足", zap.String("order_no", order.OrderNo), zap.Int64("account_id", b.AccountID))
			c.release(ctx, b)
			return c.fail(ctx, order.OrderNo, model.OrderStatusAllocated, err, attempts)
		}
		c.logger.Error("扣款失败，等待补偿",
			zap.String("order_no", order.OrderNo),
			zap.Int64("account_id", b.AccountID),
			zap.String("transaction_id", txID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("扣款失败: %w", err)
	}

	accountID := b.AccountID
	if err := c.orders.Transition(ctx, order.OrderNo, model.OrderStatusAllocated, model.OrderStatusSuccess, model.OrderChange{
		ProxyAccountID: &accountID,
		TransactionID:  txID,
		Attempts:       attempts,
	}); err != nil {
		return nil, fmt.Errorf("更新订单状态失败: %w", err)
	}

	c.metrics.RecordSettlement(model.OrderStatusSuccess)
	c.logger.Info("订单结算成功",
		zap.String("order_no", order.OrderNo),
		zap.Int64("account_id", accountID),
		zap.String("transaction_id", txID),
	)
	return c.orders.GetByOrderNo(ctx, order.OrderNo)
}

func (c *SettlementCoordinator) debit(ctx context.Context, order *model.Order, b *Binding) error {
	version := b.Version
	for i := 0; i < c.opts.DebitRetries; i++ {
		ok, err := c.accounts.TryDebit(ctx, model.Debit{
			AccountID:       b.AccountID,
			ExpectedVersion: version,
			OrderNo:         order.OrderNo,
			Amount:          order.Amount,
			Remark:          fmt.Sprintf("出款-%s", order.OrderNo),
		})
		if errors.Is(err, repository.ErrBalanceNotEnough) {
			return fmt.Errorf("%w: 账户 %d 余额不足以扣除 %s", ErrInvariantViolation, b.AccountID, order.Amount)
		}
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		account, err := c.accounts.GetByID(ctx, b.AccountID)
		if err != nil {
			return err
		}
		version = account.Version
	}
	return fmt.Errorf("重试 %d 次仍冲突: %w", c.opts.DebitRetries, repository.ErrOptimisticLock)
}

func (c *SettlementCoordinator) release(ctx context.Context, b *Binding) {
	if err := c.engine.Release(context.WithoutCancel(ctx), b); err != nil {
		c.logger.Error("释放预留失败", zap.String("order_no", b.OrderNo), zap.Int64("account_id", b.AccountID), zap.Error(err))
	}
}

func (c *SettlementCoordinator) fail(ctx context.Context, orderNo, from string, cause error, attempts int) (*model.Order, error) {
	ctx = context.WithoutCancel(ctx)

	reason := cause.Error()
	if err := c.orders.Transition(ctx, orderNo, from, model.OrderStatusFailed, model.OrderChange{
		FailReason: reason,
		Attempts:   attempts,
	}); err != nil {
		return nil, fmt.Errorf("更新订单状态失败: %w", err)
	}

	c.metrics.RecordSettlement(model.OrderStatusFailed)
	c.logger.Warn("订单结算失败", zap.String("order_no", orderNo), zap.String("reason", reason))

	order, err := c.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return order, &SettlementError{OrderNo: orderNo, Reason: reason, Err: cause}
}
