// Package routing 根据路由配置对代理账户排序。
//
// Rank 是纯函数：不读库、不改账户，相同输入总是得到相同顺序，
// 分配引擎按返回顺序逐个尝试预留。
package routing

import (
	"sort"

	"proxypay/internal/model"

	"github.com/shopspring/decimal"
)

// Rank 返回候选账户 ID，越靠前越优先。没有可用账户时返回空切片，这不是错误。
func Rank(amount decimal.Decimal, cfg model.RoutingConfig, accounts []model.ProxyAccount) []int64 {
	switch cfg.Strategy {
	case model.StrategyPriority:
		return byPriority(accounts)
	case model.StrategyThreshold:
		return byThreshold(amount, cfg.AmountThreshold, accounts)
	default:
		return byLoadBalancing(accounts)
	}
}

// byPriority priority 升序，同优先级最久未使用的在前
func byPriority(accounts []model.ProxyAccount) []int64 {
	candidates := filter(accounts, func(a *model.ProxyAccount) bool {
		return a.IsEligible()
	})
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return lessRecentlyUsed(a, b)
	})
	return ids(candidates)
}

// byThreshold 大额订单只选余额足够的账户，priority 升序、余额降序；
// 小额订单或没有余额足够的账户时退化为负载均衡
func byThreshold(amount, threshold decimal.Decimal, accounts []model.ProxyAccount) []int64 {
	if amount.GreaterThan(threshold) {
		candidates := filter(accounts, func(a *model.ProxyAccount) bool {
			return a.Status == model.AccountStatusActive && a.Balance.GreaterThanOrEqual(amount)
		})
		if len(candidates) > 0 {
			sort.SliceStable(candidates, func(i, j int) bool {
				a, b := candidates[i], candidates[j]
				if a.Priority != b.Priority {
					return a.Priority < b.Priority
				}
				if !a.Balance.Equal(b.Balance) {
					return a.Balance.GreaterThan(b.Balance)
				}
				return lessRecentlyUsed(a, b)
			})
			return ids(candidates)
		}
	}
	return byLoadBalancing(accounts)
}

// byLoadBalancing 按最近使用时间轮转
func byLoadBalancing(accounts []model.ProxyAccount) []int64 {
	candidates := filter(accounts, func(a *model.ProxyAccount) bool {
		return a.IsEligible()
	})
	sort.SliceStable(candidates, func(i, j int) bool {
		return lessRecentlyUsed(candidates[i], candidates[j])
	})
	return ids(candidates)
}

// lessRecentlyUsed last_used 升序，最后用 ID 保证全序
func lessRecentlyUsed(a, b *model.ProxyAccount) bool {
	ta, tb := a.LastUsedAt(), b.LastUsedAt()
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.ID < b.ID
}

func filter(accounts []model.ProxyAccount, keep func(a *model.ProxyAccount) bool) []*model.ProxyAccount {
	out := make([]*model.ProxyAccount, 0, len(accounts))
	for i := range accounts {
		if keep(&accounts[i]) {
			out = append(out, &accounts[i])
		}
	}
	return out
}

func ids(accounts []*model.ProxyAccount) []int64 {
	out := make([]int64, len(accounts))
	for i, a := range accounts {
		out[i] = a.ID
	}
	return out
}
