package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"proxypay/internal/gateway"
	"proxypay/internal/model"
	"proxypay/internal/repository/memory"
	"proxypay/internal/service"
	"proxypay/pkg/metrics"
	"proxypay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
}

func newTestServer(t *testing.T, gw gateway.Gateway) *testServer {
	t.Helper()
	store := memory.New("proxypay.order.result")
	m := metrics.NewCollector()

	engine := service.NewAllocationEngine(store.Accounts(), store.Configs(), service.AllocationOptions{}, m, nil)
	coordinator := service.NewSettlementCoordinator(engine, store.Orders(), store.Accounts(), store.Ledger(), gw, nil, service.SettlementOptions{}, m, nil)
	h := NewHandler(Services{
		Accounts: service.NewAccountService(store.Accounts(), store.Ledger(), gw, m, nil),
		Orders:   service.NewOrderService(store.Orders(), coordinator, nil),
		Pay:      service.NewPayService(store.Orders(), coordinator, nil),
		Config:   service.NewRoutingConfigService(engine, store.Configs(), nil),
	}, nil)

	return &testServer{
		router: SetupRouter(h, RouterOptions{Mode: gin.TestMode, Metrics: m}, nil),
		store:  store,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *testServer) addAccount(t *testing.T, id int64, balance int64) {
	t.Helper()
	require.NoError(t, s.store.Accounts().Create(context.Background(), &model.ProxyAccount{
		ID:       id,
		Username: "proxy",
		Password: "secret",
		Platform: "alipay",
		Balance:  decimal.NewFromInt(balance),
		Status:   model.AccountStatusActive,
	}))
}

func TestCreateOrderAndQueryStatus(t *testing.T) {
	s := newTestServer(t, gateway.NewSimulator(gateway.SimulatorConfig{}))
	s.addAccount(t, 1, 500)

	_, env := s.do(t, http.MethodPost, "/api/v1/pay/create-order", gin.H{"request_id": "req-1", "amount": "120.50"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	var created service.PayResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, model.OrderStatusSuccess, created.Status)
	assert.True(t, created.Amount.Equal(decimal.RequireFromString("120.50")))

	_, env = s.do(t, http.MethodGet, "/api/v1/pay/order-status/"+created.OrderNo, nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var status service.PayResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, created.OrderNo, status.OrderNo)
	assert.Equal(t, created.TransactionID, status.TransactionID)

	// 同一个 request_id 返回同一订单
	_, env = s.do(t, http.MethodPost, "/api/v1/pay/create-order", gin.H{"request_id": "req-1", "amount": "120.50"})
	var again service.PayResponse
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, created.OrderNo, again.OrderNo)
}

func TestCreateOrder_ParamErrors(t *testing.T) {
	s := newTestServer(t, gateway.NewSimulator(gateway.SimulatorConfig{}))

	_, env := s.do(t, http.MethodPost, "/api/v1/pay/create-order", gin.H{"amount": "10"})
	assert.Equal(t, response.CodeParamError, env.Code)

	_, env = s.do(t, http.MethodPost, "/api/v1/pay/create-order", gin.H{"request_id": "req-1", "amount": "-1"})
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestOrderStatus_NotFound(t *testing.T) {
	s := newTestServer(t, gateway.NewSimulator(gateway.SimulatorConfig{}))

	_, env := s.do(t, http.MethodGet, "/api/v1/pay/order-status/PP-missing", nil)
	assert.Equal(t, response.CodeOrderNotFound, env.Code)
}

func TestConfigEndpoints(t *testing.T) {
	s := newTestServer(t, gateway.NewSimulator(gateway.SimulatorConfig{}))

	_, env := s.do(t, http.MethodGet, "/api/v1/admin/config", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var cfg model.RoutingConfig
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, model.StrategyLoadBalancing, cfg.Strategy)

	_, env = s.do(t, http.MethodPut, "/api/v1/admin/config", gin.H{"routing_strategy": "priority", "failover_strategy": "manual"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, model.StrategyPriority, cfg.Strategy)
	assert.Equal(t, model.FailoverManual, cfg.FailoverStrategy)

	_, env = s.do(t, http.MethodPut, "/api/v1/admin/config", gin.H{"routing_strategy": "random"})
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestProxyAccountEndpoints(t *testing.T) {
	s := newTestServer(t, gateway.NewSimulator(gateway.SimulatorConfig{}))

	_, env := s.do(t, http.MethodPost, "/api/v1/admin/proxy-accounts", gin.H{
		"username": "merchant",
		"password": "pw",
		"platform": "alipay",
		"priority": 1,
		"balance":  "100",
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var account model.ProxyAccount
	require.NoError(t, json.Unmarshal(env.Data, &account))
	assert.Equal(t, model.AccountStatusInactive, account.Status)
	assert.NotContains(t, string(env.Data), "pw")

	// 停用账户不能直接改成 active
	_, env = s.do(t, http.MethodPut, "/api/v1/admin/proxy-accounts/1", gin.H{"status": "active"})
	assert.Equal(t, response.CodeParamError, env.Code)

	_, env = s.do(t, http.MethodPost, "/api/v1/admin/proxy-accounts/1/test-login", nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	_, env = s.do(t, http.MethodPost, "/api/v1/admin/proxy-accounts/1/recharge", gin.H{"amount": "50", "remark": "补充"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	require.NoError(t, json.Unmarshal(env.Data, &account))
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, model.AccountStatusActive, account.Status)

	_, env = s.do(t, http.MethodGet, "/api/v1/admin/proxy-accounts/1/transactions", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	assert.Contains(t, string(env.Data), `"total":1`)

	_, env = s.do(t, http.MethodGet, "/api/v1/admin/proxy-accounts", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var accounts []model.ProxyAccount
	require.NoError(t, json.Unmarshal(env.Data, &accounts))
	assert.Len(t, accounts, 1)

	_, env = s.do(t, http.MethodPut, "/api/v1/admin/proxy-accounts/abc", gin.H{})
	assert.Equal(t, response.CodeParamError, env.Code)

	_, env = s.do(t, http.MethodPost, "/api/v1/admin/proxy-accounts/99/test-login", nil)
	assert.Equal(t, response.CodeAccountNotFound, env.Code)
}

func TestTestLogin_Failure(t *testing.T) {
	s := newTestServer(t, gateway.NewSimulator(gateway.SimulatorConfig{LoginFailRatio: 1}))
	s.addAccount(t, 1, 100)

	_, env := s.do(t, http.MethodPost, "/api/v1/admin/proxy-accounts/1/test-login", nil)
	assert.Equal(t, response.CodeLoginFailed, env.Code)

	a, err := s.store.Accounts().GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusInactive, a.Status)
}

func TestListOrdersAndCancel(t *testing.T) {
	s := newTestServer(t, gateway.NewSimulator(gateway.SimulatorConfig{}))
	s.addAccount(t, 1, 500)
	require.NoError(t, s.store.Orders().Create(context.Background(), &model.Order{
		OrderNo:   "PP-pending",
		RequestID: "req-pending",
		Amount:    decimal.NewFromInt(10),
		Status:    model.OrderStatusPending,
	}))
	_, env := s.do(t, http.MethodPost, "/api/v1/pay/create-order", gin.H{"request_id": "req-1", "amount": "10"})
	require.Equal(t, response.CodeSuccess, env.Code)

	_, env = s.do(t, http.MethodGet, "/api/v1/admin/orders?status=success", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	assert.Contains(t, string(env.Data), `"total":1`)

	_, env = s.do(t, http.MethodGet, "/api/v1/admin/orders?start_date=not-a-date", nil)
	assert.Equal(t, response.CodeParamError, env.Code)

	_, env = s.do(t, http.MethodPost, "/api/v1/order/cancel", gin.H{"order_no": "PP-pending"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var order model.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, model.OrderStatusFailed, order.Status)

	_, env = s.do(t, http.MethodPost, "/api/v1/order/cancel", gin.H{"order_no": "PP-pending"})
	assert.Equal(t, response.CodeOrderStatusInvalid, env.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, gateway.NewSimulator(gateway.SimulatorConfig{}))

	rec, _ := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware(zapNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":500`)
}

func zapNop() *zap.Logger {
	return zap.NewNop()
}
