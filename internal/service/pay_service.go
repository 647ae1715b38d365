package service

import (
	"context"
	"errors"
	"fmt"

	"proxypay/internal/model"
	"proxypay/internal/repository"
	"proxypay/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PayService struct {
	orders      OrderStore
	coordinator *SettlementCoordinator
	logger      *zap.Logger
}

func NewPayService(orders OrderStore, coordinator *SettlementCoordinator, logger *zap.Logger) *PayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayService{orders: orders, coordinator: coordinator, logger: logger}
}

type PayRequest struct {
	RequestID     string          `json:"request_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

type PayResponse struct {
	OrderNo        string          `json:"order_no"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	ProxyAccountID *int64          `json:"proxy_account_id,omitempty"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	Message        string          `json:"message,omitempty"`
}

func newPayResponse(order *model.Order, message string) *PayResponse {
	return &PayResponse{
		OrderNo:        order.OrderNo,
		Status:         order.Status,
		Amount:         order.Amount,
		ProxyAccountID: order.ProxyAccountID,
		TransactionID:  order.TransactionID,
		Message:        message,
	}
}

// Pay 创建订单并立即结算，同一个 request_id 只会产生一个订单
func (s *PayService) Pay(ctx context.Context, req *PayRequest) (*PayResponse, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: 金额必须大于0", ErrInvalidParam)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = model.PaymentMethodAlipay
	}

	// 幂等校验
	existing, err := s.orders.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	if existing != nil {
		return s.resume(ctx, existing)
	}

	order := &model.Order{
		OrderNo:       idgen.GenerateOrderNo(),
		RequestID:     req.RequestID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Status:        model.OrderStatusPending,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicateRequest) {
			// 并发的相同请求已经建单
			existing, err := s.orders.GetByRequestID(ctx, req.RequestID)
			if err != nil {
				return nil, fmt.Errorf("查询订单失败: %w", err)
			}
			if existing == nil {
				return nil, repository.ErrOrderNotFound
			}
			return s.resume(ctx, existing)
		}
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}
	s.logger.Info("订单已创建", zap.String("order_no", order.OrderNo), zap.String("amount", order.Amount.String()))

	return s.settle(ctx, order.OrderNo)
}

func (s *PayService) QueryPayResult(ctx context.Context, orderNo string) (*PayResponse, error) {
	order, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return newPayResponse(order, order.FailReason), nil
}

func (s *PayService) QueryPayResultByRequestID(ctx context.Context, requestID string) (*PayResponse, error) {
	order, err := s.orders.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, repository.ErrOrderNotFound
	}
	return newPayResponse(order, order.FailReason), nil
}

func (s *PayService) resume(ctx context.Context, order *model.Order) (*PayResponse, error) {
	if order.Status == model.OrderStatusPending {
		return s.settle(ctx, order.OrderNo)
	}
	return newPayResponse(order, "订单已存在"), nil
}

// settle 结算失败属于业务结果，体现在订单状态里，不作为错误返回
func (s *PayService) settle(ctx context.Context, orderNo string) (*PayResponse, error) {
	order, err := s.coordinator.Settle(ctx, orderNo)
	var settleErr *SettlementError
	if errors.As(err, &settleErr) && order != nil {
		return newPayResponse(order, settleErr.Reason), nil
	}
	if err != nil {
		return nil, err
	}
	return newPayResponse(order, ""), nil
}
