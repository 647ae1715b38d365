package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StaleOrderHandler 由 service.OrderService 实现
type StaleOrderHandler interface {
	CloseStalePending(ctx context.Context, before time.Time, limit int) (int, error)
	CompensateAllocated(ctx context.Context, before time.Time, limit int) (int, error)
}

// PendingOrderTimeoutJob 关闭长时间没有进入结算的 pending 订单
type PendingOrderTimeoutJob struct {
	orders    StaleOrderHandler
	logger    *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	interval  time.Duration
	timeout   time.Duration
	batchSize int
	now       func() time.Time
}

func NewPendingOrderTimeoutJob(orders StaleOrderHandler, interval, timeout time.Duration, logger *zap.Logger) *PendingOrderTimeoutJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingOrderTimeoutJob{
		orders:    orders,
		logger:    logger.With(zap.String("job", "pending_order_timeout")),
		stopCh:    make(chan struct{}),
		interval:  interval,
		timeout:   timeout,
		batchSize: 100,
		now:       time.Now,
	}
}

func (j *PendingOrderTimeoutJob) Start(ctx context.Context) {
	runLoop(ctx, "PendingOrderTimeoutJob", j.interval, j.stopCh, j.logger, j.closeExpiredOrders)
}

func (j *PendingOrderTimeoutJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

func (j *PendingOrderTimeoutJob) closeExpiredOrders(ctx context.Context) {
	closed, err := j.orders.CloseStalePending(ctx, j.now().Add(-j.timeout), j.batchSize)
	if err != nil {
		j.logger.Error("查询超时订单失败", zap.Error(err))
		return
	}
	if closed > 0 {
		j.logger.Info("超时订单已关闭", zap.Int("count", closed))
	}
}

// AllocatedOrderCompensateJob 处理结算中断、长时间停在 allocated 的订单
type AllocatedOrderCompensateJob struct {
	orders    StaleOrderHandler
	logger    *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	interval  time.Duration
	after     time.Duration
	batchSize int
	now       func() time.Time
}

func NewAllocatedOrderCompensateJob(orders StaleOrderHandler, interval, after time.Duration, logger *zap.Logger) *AllocatedOrderCompensateJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocatedOrderCompensateJob{
		orders:    orders,
		logger:    logger.With(zap.String("job", "allocated_order_compensate")),
		stopCh:    make(chan struct{}),
		interval:  interval,
		after:     after,
		batchSize: 50,
		now:       time.Now,
	}
}

func (j *AllocatedOrderCompensateJob) Start(ctx context.Context) {
	runLoop(ctx, "AllocatedOrderCompensateJob", j.interval, j.stopCh, j.logger, j.compensateAllocatedOrders)
}

func (j *AllocatedOrderCompensateJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

func (j *AllocatedOrderCompensateJob) compensateAllocatedOrders(ctx context.Context) {
	resolved, err := j.orders.CompensateAllocated(ctx, j.now().Add(-j.after), j.batchSize)
	if err != nil {
		j.logger.Error("查询待补偿订单失败", zap.Error(err))
		return
	}
	if resolved > 0 {
		j.logger.Info("补偿完成", zap.Int("count", resolved))
	}
}
