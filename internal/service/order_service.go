package service

import (
	"context"
	"fmt"
	"time"

	"proxypay/internal/model"

	"go.uber.org/zap"
)

type OrderService struct {
	orders      OrderStore
	coordinator *SettlementCoordinator
	logger      *zap.Logger
}

func NewOrderService(orders OrderStore, coordinator *SettlementCoordinator, logger *zap.Logger) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{orders: orders, coordinator: coordinator, logger: logger}
}

func (s *OrderService) GetOrder(ctx context.Context, orderNo string) (*model.Order, error) {
	return s.orders.GetByOrderNo(ctx, orderNo)
}

func (s *OrderService) CancelOrder(ctx context.Context, orderNo string) (*model.Order, error) {
	return s.coordinator.Cancel(ctx, orderNo)
}

func (s *OrderService) ListOrders(ctx context.Context, filter model.OrderFilter, page, pageSize int) ([]*model.Order, int64, error) {
	if filter.Status != "" && !isValidOrderStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: 未知订单状态 %s", ErrInvalidParam, filter.Status)
	}
	return s.orders.List(ctx, filter, page, pageSize)
}

// CloseStalePending 把超时未处理的 pending 订单置为失败，返回关闭数量
func (s *OrderService) CloseStalePending(ctx context.Context, before time.Time, limit int) (int, error) {
	orders, err := s.orders.ListStale(ctx, model.OrderStatusPending, before, limit)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, order := range orders {
		err := s.orders.Transition(ctx, order.OrderNo, model.OrderStatusPending, model.OrderStatusFailed, model.OrderChange{
			FailReason: "订单超时未处理",
		})
		if err != nil {
			// 可能刚被结算流程推进，跳过
			s.logger.Debug("关闭超时订单失败", zap.String("order_no", order.OrderNo), zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}

// CompensateAllocated 处理卡在 allocated 的订单，返回处理数量
func (s *OrderService) CompensateAllocated(ctx context.Context, before time.Time, limit int) (int, error) {
	orders, err := s.orders.ListStale(ctx, model.OrderStatusAllocated, before, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, order := range orders {
		updated, err := s.coordinator.Compensate(ctx, order.OrderNo)
		if err != nil {
			s.logger.Warn("补偿订单失败", zap.String("order_no", order.OrderNo), zap.Error(err))
			continue
		}
		if updated.IsTerminal() {
			resolved++
		}
	}
	return resolved, nil
}

func isValidOrderStatus(status string) bool {
	switch status {
	case model.OrderStatusPending, model.OrderStatusAllocated, model.OrderStatusSuccess, model.OrderStatusFailed:
		return true
	}
	return false
}
