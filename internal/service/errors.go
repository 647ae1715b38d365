package service

import (
	"errors"
	"fmt"
)

var (
	ErrNoEligibleAccount    = errors.New("没有可用的代理账户")
	ErrReservationRace      = errors.New("账户已被其他请求抢占")
	ErrInvariantViolation   = errors.New("账户余额不变量被破坏")
	ErrSettlementInProgress = errors.New("订单正在结算中")
	ErrOrderCancelled       = errors.New("订单已取消")
	ErrLoginFailed          = errors.New("代理账户登录失败")
	ErrInvalidParam         = errors.New("参数错误")
)

// SettlementError 结算最终失败时返回给调用方
type SettlementError struct {
	OrderNo string
	Reason  string
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("订单 %s 结算失败: %s", e.OrderNo, e.Reason)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}
