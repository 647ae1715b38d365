package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proxypay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
	ErrDuplicateRequest   = errors.New("重复请求")
)

type OrderRepository struct {
	db         *gorm.DB
	eventTopic string
}

// NewOrderRepository eventTopic 为空时终态不写 outbox
func NewOrderRepository(db *gorm.DB, eventTopic string) *OrderRepository {
	return &OrderRepository{db: db, eventTopic: eventTopic}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	err := r.db.WithContext(ctx).Create(order).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateRequest
	}
	return err
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	return r.getByOrderNo(r.db.WithContext(ctx), orderNo)
}

func (r *OrderRepository) getByOrderNo(tx *gorm.DB, orderNo string) (*model.Order, error) {
	var order model.Order
	err := tx.Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) Transition(ctx context.Context, orderNo, from, to string, change model.OrderChange) error {
	if !model.CanTransitionTo(from, to) {
		return ErrOrderStatusInvalid
	}

	updates := map[string]interface{}{
		"status": to,
	}
	if change.ProxyAccountID != nil {
		updates["proxy_account_id"] = *change.ProxyAccountID
	}
	if change.TransactionID != "" {
		updates["transaction_id"] = change.TransactionID
	}
	if change.FailReason != "" {
		updates["fail_reason"] = truncate(change.FailReason, 256)
	}
	if change.Attempts > 0 {
		updates["attempts"] = change.Attempts
	}
	if model.IsTerminalStatus(to) {
		updates["settled_at"] = time.Now()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Order{}).
			Where("order_no = ? AND status = ?", orderNo, from).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrOrderStatusInvalid
		}

		if !model.IsTerminalStatus(to) || r.eventTopic == "" {
			return nil
		}

		order, err := r.getByOrderNo(tx, orderNo)
		if err != nil {
			return err
		}
		msg, err := NewOrderEventMessage(r.eventTopic, order)
		if err != nil {
			return err
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}
		return nil
	})
}

func (r *OrderRepository) List(ctx context.Context, filter model.OrderFilter, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).Scopes(orderFilterScope(filter))

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}

func (r *OrderRepository) ListStale(ctx context.Context, status string, before time.Time, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// orderFilterScope 每个条件独立拼接，未设置的字段不产生 SQL
func orderFilterScope(f model.OrderFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		if f.ProxyAccountID != nil {
			db = db.Where("proxy_account_id = ?", *f.ProxyAccountID)
		}
		if f.StartDate != nil {
			db = db.Where("created_at >= ?", *f.StartDate)
		}
		if f.EndDate != nil {
			db = db.Where("created_at <= ?", *f.EndDate)
		}
		return db
	}
}

// NewOrderEventMessage 构造订单终态事件
func NewOrderEventMessage(topic string, order *model.Order) (*model.OutboxMessage, error) {
	settledAt := time.Now()
	if order.SettledAt != nil {
		settledAt = *order.SettledAt
	}

	payload, err := json.Marshal(model.OrderEvent{
		OrderNo:        order.OrderNo,
		Status:         order.Status,
		Amount:         order.Amount.String(),
		PaymentMethod:  order.PaymentMethod,
		ProxyAccountID: order.ProxyAccountID,
		TransactionID:  order.TransactionID,
		Reason:         order.FailReason,
		SettledAt:      settledAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	return &model.OutboxMessage{
		MessageKey: order.OrderNo,
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
