// Package gateway 定义外部支付通道的抽象。
//
// 真实通道协议不在本服务范围内；Simulator 用于本地联调，
// Breaker 给任意实现加上按账户的熔断。
package gateway

import (
	"context"
	"errors"

	"proxypay/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrGatewayDeclined = errors.New("支付通道拒绝了交易")
	ErrGatewayTimeout  = errors.New("支付通道超时")
	ErrLoginRejected   = errors.New("代理账户凭证无效")
	ErrCircuitOpen     = errors.New("账户通道熔断中")
)

// PaymentGateway 通过指定代理账户出款，成功返回通道交易号
type PaymentGateway interface {
	Charge(ctx context.Context, account model.ProxyAccount, amount decimal.Decimal) (string, error)
}

// CredentialVerifier 校验代理账户凭证，成功返回平台上的余额
type CredentialVerifier interface {
	VerifyLogin(ctx context.Context, account model.ProxyAccount) (decimal.Decimal, error)
}

// Gateway 同时具备出款和凭证校验能力
type Gateway interface {
	PaymentGateway
	CredentialVerifier
}
