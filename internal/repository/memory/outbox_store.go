package memory

import (
	"context"

	"proxypay/internal/model"
)

type OutboxStore struct {
	s *Store
}

func (r *OutboxStore) ListPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	pending := make([]*model.OutboxMessage, 0)
	for _, m := range r.s.outbox {
		if len(pending) >= limit {
			break
		}
		if m.Status == model.OutboxStatusPending {
			c := *m
			pending = append(pending, &c)
		}
	}
	return pending, nil
}

func (r *OutboxStore) MarkSent(ctx context.Context, id int64) error {
	return r.update(id, func(m *model.OutboxMessage) {
		m.Status = model.OutboxStatusSent
	})
}

func (r *OutboxStore) RecordFailure(ctx context.Context, id int64, giveUp bool) error {
	return r.update(id, func(m *model.OutboxMessage) {
		m.RetryCount++
		if giveUp {
			m.Status = model.OutboxStatusFailed
		}
	})
}

// All 返回全部消息的副本
func (r *OutboxStore) All() []model.OutboxMessage {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.OutboxMessage, len(r.s.outbox))
	for i, m := range r.s.outbox {
		out[i] = *m
	}
	return out
}

func (r *OutboxStore) update(id int64, fn func(m *model.OutboxMessage)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, m := range r.s.outbox {
		if m.ID == id {
			fn(m)
			m.UpdatedAt = r.s.now()
			return nil
		}
	}
	return nil
}
