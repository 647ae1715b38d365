package handler

import (
	"errors"
	"strconv"
	"time"

	"proxypay/internal/model"
	"proxypay/internal/repository"
	"proxypay/internal/service"
	"proxypay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService *service.AccountService
	orderService   *service.OrderService
	payService     *service.PayService
	configService  *service.RoutingConfigService
	logger         *zap.Logger
}

type Services struct {
	Accounts *service.AccountService
	Orders   *service.OrderService
	Pay      *service.PayService
	Config   *service.RoutingConfigService
}

func NewHandler(s Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		accountService: s.Accounts,
		orderService:   s.Orders,
		payService:     s.Pay,
		configService:  s.Config,
		logger:         logger,
	}
}

// fail 把业务错误映射成响应码
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidParam):
		response.ParamError(c, err.Error())
	case errors.Is(err, repository.ErrOrderNotFound):
		response.BusinessError(c, response.CodeOrderNotFound, err.Error())
	case errors.Is(err, repository.ErrOrderStatusInvalid):
		response.BusinessError(c, response.CodeOrderStatusInvalid, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrDuplicateRequest):
		response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
	case errors.Is(err, service.ErrNoEligibleAccount):
		response.BusinessError(c, response.CodeNoEligibleAccount, err.Error())
	case errors.Is(err, service.ErrSettlementInProgress):
		response.BusinessError(c, response.CodeSettlementInProgress, err.Error())
	case errors.Is(err, service.ErrLoginFailed):
		response.BusinessError(c, response.CodeLoginFailed, err.Error())
	default:
		var settleErr *service.SettlementError
		if errors.As(err, &settleErr) {
			response.BusinessError(c, response.CodePaymentFailed, settleErr.Error())
			return
		}
		h.logger.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "服务器内部错误")
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "id 参数错误")
		return 0, false
	}
	return id, true
}

func parsePage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

// ============================================================
// 支付相关接口
// ============================================================

// CreateOrder 创建订单并立即结算
// POST /api/v1/pay/create-order
//
// 相同的 request_id 只会建一个订单，重复请求返回已有订单。
// 结算失败也返回 code=0，失败原因在 status / message 里。
func (h *Handler) CreateOrder(c *gin.Context) {
	var req service.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.payService.Pay(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// GetOrderStatus 查询订单状态
// GET /api/v1/pay/order-status/:order_no
func (h *Handler) GetOrderStatus(c *gin.Context) {
	result, err := h.payService.QueryPayResult(c.Request.Context(), c.Param("order_no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 订单相关接口
// ============================================================

// CancelOrder 取消订单
// POST /api/v1/order/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req struct {
		OrderNo string `json:"order_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), req.OrderNo)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// ListOrders 按条件查询订单
// GET /api/v1/admin/orders?status=&proxy_account_id=&start_date=&end_date=&page=1&page_size=10
// 日期格式 2006-01-02 或 RFC3339
func (h *Handler) ListOrders(c *gin.Context) {
	var filter model.OrderFilter
	filter.Status = c.Query("status")

	if v := c.Query("proxy_account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.ParamError(c, "proxy_account_id 参数错误")
			return
		}
		filter.ProxyAccountID = &id
	}
	for _, p := range []struct {
		key   string
		dst   **time.Time
		isEnd bool
	}{
		{key: "start_date", dst: &filter.StartDate},
		{key: "end_date", dst: &filter.EndDate, isEnd: true},
	} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		t, err := parseDate(v, p.isEnd)
		if err != nil {
			response.ParamError(c, p.key+" 参数错误")
			return
		}
		*p.dst = &t
	}

	page, pageSize := parsePage(c)
	orders, total, err := h.orderService.ListOrders(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// parseDate 只有日期时，结束日期取当天最后一刻
func parseDate(v string, isEnd bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if isEnd {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// ============================================================
// 代理账户管理
// ============================================================

// ListProxyAccounts GET /api/v1/admin/proxy-accounts
func (h *Handler) ListProxyAccounts(c *gin.Context) {
	accounts, err := h.accountService.ListAccounts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, accounts)
}

// CreateProxyAccount POST /api/v1/admin/proxy-accounts
func (h *Handler) CreateProxyAccount(c *gin.Context) {
	var req service.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.CreateAccount(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// UpdateProxyAccount PUT /api/v1/admin/proxy-accounts/:id
func (h *Handler) UpdateProxyAccount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req service.UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.UpdateAccount(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

type RechargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Remark string          `json:"remark"`
}

// Recharge 给代理账户补充余额
// POST /api/v1/admin/proxy-accounts/:id/recharge
func (h *Handler) Recharge(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.Recharge(c.Request.Context(), id, req.Amount, req.Remark)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// TestLogin 校验代理账户凭证
// POST /api/v1/admin/proxy-accounts/:id/test-login
func (h *Handler) TestLogin(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.accountService.TestLogin(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ListTransactions GET /api/v1/admin/proxy-accounts/:id/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	page, pageSize := parsePage(c)
	list, total, err := h.accountService.ListTransactions(c.Request.Context(), id, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 路由配置
// ============================================================

// GetConfig GET /api/v1/admin/config
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.configService.GetConfig(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, cfg)
}

// UpdateConfig PUT /api/v1/admin/config
func (h *Handler) UpdateConfig(c *gin.Context) {
	var req service.UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	cfg, err := h.configService.UpdateConfig(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, cfg)
}
