package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StrategyPriority      = "priority"
	StrategyThreshold     = "threshold"
	StrategyLoadBalancing = "load-balancing"
)

const (
	FailoverAutoSwitch = "auto-switch"
	FailoverManual     = "manual"
)

// RoutingConfigID 路由配置是单例，固定使用 id = 1
const RoutingConfigID = 1

// RoutingConfig 路由配置表
// 整行读取即是一个一致的快照，一次分配只使用一个快照，不会混用两代配置
type RoutingConfig struct {
	ID               int64           `gorm:"primaryKey" json:"-"`
	Strategy         string          `gorm:"type:varchar(32);not null" json:"routing_strategy"`
	AmountThreshold  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount_threshold"`
	FailoverStrategy string          `gorm:"type:varchar(32);not null" json:"failover_strategy"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RoutingConfig) TableName() string {
	return "routing_config"
}

// DefaultRoutingConfig 配置缺失时自动写入的默认配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		ID:               RoutingConfigID,
		Strategy:         StrategyLoadBalancing,
		AmountThreshold:  decimal.NewFromInt(10000),
		FailoverStrategy: FailoverAutoSwitch,
	}
}

func (c RoutingConfig) AutoSwitch() bool {
	return c.FailoverStrategy == FailoverAutoSwitch
}

// RoutingConfigPatch 部分更新，nil 字段保持原值
type RoutingConfigPatch struct {
	Strategy         *string
	AmountThreshold  *decimal.Decimal
	FailoverStrategy *string
}

func IsValidStrategy(s string) bool {
	switch s {
	case StrategyPriority, StrategyThreshold, StrategyLoadBalancing:
		return true
	}
	return false
}

func IsValidFailover(s string) bool {
	return s == FailoverAutoSwitch || s == FailoverManual
}
