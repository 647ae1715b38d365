package service

import (
	"context"
	"fmt"

	"proxypay/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RoutingConfigService struct {
	engine  *AllocationEngine
	configs ConfigStore
	logger  *zap.Logger
}

func NewRoutingConfigService(engine *AllocationEngine, configs ConfigStore, logger *zap.Logger) *RoutingConfigService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutingConfigService{engine: engine, configs: configs, logger: logger}
}

type UpdateConfigRequest struct {
	Strategy         *string          `json:"routing_strategy"`
	AmountThreshold  *decimal.Decimal `json:"amount_threshold"`
	FailoverStrategy *string          `json:"failover_strategy"`
}

// GetConfig 配置不存在时返回并写入默认配置
func (s *RoutingConfigService) GetConfig(ctx context.Context) (model.RoutingConfig, error) {
	return s.engine.Snapshot(ctx)
}

func (s *RoutingConfigService) UpdateConfig(ctx context.Context, req *UpdateConfigRequest) (*model.RoutingConfig, error) {
	if req.Strategy != nil && !model.IsValidStrategy(*req.Strategy) {
		return nil, fmt.Errorf("%w: 未知路由策略 %s", ErrInvalidParam, *req.Strategy)
	}
	if req.FailoverStrategy != nil && !model.IsValidFailover(*req.FailoverStrategy) {
		return nil, fmt.Errorf("%w: 未知故障切换策略 %s", ErrInvalidParam, *req.FailoverStrategy)
	}
	if req.AmountThreshold != nil && req.AmountThreshold.IsNegative() {
		return nil, fmt.Errorf("%w: 金额阈值不能为负", ErrInvalidParam)
	}

	// 保证单例行存在，Update 只做部分修改
	if _, err := s.engine.Snapshot(ctx); err != nil {
		return nil, err
	}

	cfg, err := s.configs.Update(ctx, model.RoutingConfigPatch{
		Strategy:         req.Strategy,
		AmountThreshold:  req.AmountThreshold,
		FailoverStrategy: req.FailoverStrategy,
	})
	if err != nil {
		return nil, fmt.Errorf("更新路由配置失败: %w", err)
	}
	s.logger.Info("路由配置已更新",
		zap.String("strategy", cfg.Strategy),
		zap.String("amount_threshold", cfg.AmountThreshold.String()),
		zap.String("failover_strategy", cfg.FailoverStrategy),
	)
	return cfg, nil
}
