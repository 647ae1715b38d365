package memory

import (
	"context"

	"proxypay/internal/model"
	"proxypay/internal/repository"
)

type ConfigStore struct {
	s *Store
}

func (r *ConfigStore) Get(ctx context.Context) (*model.RoutingConfig, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if r.s.config == nil {
		return nil, repository.ErrConfigNotFound
	}
	c := *r.s.config
	return &c, nil
}

func (r *ConfigStore) PutDefault(ctx context.Context, cfg model.RoutingConfig) (*model.RoutingConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.config == nil {
		cfg.ID = model.RoutingConfigID
		cfg.UpdatedAt = r.s.now()
		r.s.config = &cfg
	}
	c := *r.s.config
	return &c, nil
}

func (r *ConfigStore) Update(ctx context.Context, patch model.RoutingConfigPatch) (*model.RoutingConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.config == nil {
		return nil, repository.ErrConfigNotFound
	}
	// 整体替换而不是原地修改，已经拿到旧快照的读者不受影响
	next := *r.s.config
	if patch.Strategy != nil {
		next.Strategy = *patch.Strategy
	}
	if patch.AmountThreshold != nil {
		next.AmountThreshold = *patch.AmountThreshold
	}
	if patch.FailoverStrategy != nil {
		next.FailoverStrategy = *patch.FailoverStrategy
	}
	next.UpdatedAt = r.s.now()
	r.s.config = &next

	c := next
	return &c, nil
}
