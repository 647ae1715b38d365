package repository

import (
	"context"
	"errors"
	"time"

	"proxypay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrConfigNotFound = errors.New("路由配置不存在")

type ConfigRepository struct {
	db *gorm.DB
}

func NewConfigRepository(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

func (r *ConfigRepository) Get(ctx context.Context) (*model.RoutingConfig, error) {
	var cfg model.RoutingConfig
	err := r.db.WithContext(ctx).Where("id = ?", model.RoutingConfigID).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// PutDefault 主键固定，并发写入时只有一个成功，其余 DoNothing 后读到同一行
func (r *ConfigRepository) PutDefault(ctx context.Context, cfg model.RoutingConfig) (*model.RoutingConfig, error) {
	cfg.ID = model.RoutingConfigID

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&cfg).Error
	if err != nil {
		return nil, err
	}

	return r.Get(ctx)
}

func (r *ConfigRepository) Update(ctx context.Context, patch model.RoutingConfigPatch) (*model.RoutingConfig, error) {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if patch.Strategy != nil {
		updates["strategy"] = *patch.Strategy
	}
	if patch.AmountThreshold != nil {
		updates["amount_threshold"] = *patch.AmountThreshold
	}
	if patch.FailoverStrategy != nil {
		updates["failover_strategy"] = *patch.FailoverStrategy
	}

	result := r.db.WithContext(ctx).
		Model(&model.RoutingConfig{}).
		Where("id = ?", model.RoutingConfigID).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrConfigNotFound
	}

	return r.Get(ctx)
}
