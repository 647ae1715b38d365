package memory

import (
	"context"
	"sort"
	"time"

	"proxypay/internal/model"
	"proxypay/internal/repository"
)

type OrderStore struct {
	s *Store
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.ProxyAccountID = copyID(o.ProxyAccountID)
	c.SettledAt = copyTime(o.SettledAt)
	return &c
}

func (r *OrderStore) Create(ctx context.Context, order *model.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.requestIndex[order.RequestID]; exists {
		return repository.ErrDuplicateRequest
	}
	if _, exists := r.s.orders[order.OrderNo]; exists {
		return repository.ErrDuplicateRequest
	}

	r.s.nextOrderID++
	order.ID = r.s.nextOrderID
	now := r.s.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	r.s.orders[order.OrderNo] = cloneOrder(order)
	r.s.requestIndex[order.RequestID] = order.OrderNo
	return nil
}

func (r *OrderStore) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	o, ok := r.s.orders[orderNo]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderStore) GetByRequestID(ctx context.Context, requestID string) (*model.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	orderNo, ok := r.s.requestIndex[requestID]
	if !ok {
		return nil, nil
	}
	return cloneOrder(r.s.orders[orderNo]), nil
}

func (r *OrderStore) Transition(ctx context.Context, orderNo, from, to string, change model.OrderChange) error {
	if !model.CanTransitionTo(from, to) {
		return repository.ErrOrderStatusInvalid
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[orderNo]
	if !ok || o.Status != from {
		return repository.ErrOrderStatusInvalid
	}

	now := r.s.now()
	o.Status = to
	o.UpdatedAt = now
	if change.ProxyAccountID != nil {
		o.ProxyAccountID = copyID(change.ProxyAccountID)
	}
	if change.TransactionID != "" {
		o.TransactionID = change.TransactionID
	}
	if change.FailReason != "" {
		o.FailReason = change.FailReason
	}
	if change.Attempts > 0 {
		o.Attempts = change.Attempts
	}
	if !model.IsTerminalStatus(to) {
		return nil
	}

	o.SettledAt = &now
	if r.s.eventTopic == "" {
		return nil
	}
	msg, err := repository.NewOrderEventMessage(r.s.eventTopic, o)
	if err != nil {
		return err
	}
	r.s.nextOutboxID++
	msg.ID = r.s.nextOutboxID
	msg.CreatedAt = now
	msg.UpdatedAt = now
	r.s.outbox = append(r.s.outbox, msg)
	return nil
}

func (r *OrderStore) List(ctx context.Context, filter model.OrderFilter, page, pageSize int) ([]*model.Order, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := make([]*model.Order, 0)
	for _, o := range r.s.orders {
		if filter.Match(o) {
			matched = append(matched, cloneOrder(o))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID > matched[j].ID
	})

	start, end := paginate(len(matched), page, pageSize)
	return matched[start:end], int64(len(matched)), nil
}

func (r *OrderStore) ListStale(ctx context.Context, status string, before time.Time, limit int) ([]*model.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stale := make([]*model.Order, 0)
	for _, o := range r.s.orders {
		if o.Status == status && o.UpdatedAt.Before(before) {
			stale = append(stale, cloneOrder(o))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// Touch 测试用：修改订单的更新时间，模拟卡住的订单
func (r *OrderStore) Touch(orderNo string, updatedAt time.Time) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if o, ok := r.s.orders[orderNo]; ok {
		o.UpdatedAt = updatedAt
	}
}
