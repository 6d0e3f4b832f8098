package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"photorevive/internal/infrastructure/provider"
	"photorevive/internal/service"
	"photorevive/pkg/response"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService *service.AccountService
	restoreService *service.RestoreService
}

func NewHandler(accounts *service.AccountService, restorer *service.RestoreService) *Handler {
	return &Handler{
		accountService: accounts,
		restoreService: restorer,
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// LoginRequest 登录请求，账户不存在时自动创建
type LoginRequest struct {
	Name         string `json:"name"`
	ReferralCode string `json:"referralCode"`
}

// Login 登录或注册
// POST /api/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req, "Name is required") {
		return
	}

	account, err := h.accountService.LoginOrCreate(c.Request.Context(), req.Name, req.ReferralCode)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, account)
}

// AmountRequest 扣减/充值请求
// amount 不做 binding 校验，交给 service 统一返回提示信息
type AmountRequest struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// Spend 扣减点数
// POST /api/spend
func (h *Handler) Spend(c *gin.Context) {
	var req AmountRequest
	if !bindJSON(c, &req, "Name and amount are required") {
		return
	}

	account, err := h.accountService.Spend(c.Request.Context(), req.Name, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, account)
}

// AddCredits 充值点数（支付在前端模拟，这里只负责入账）
// POST /api/add-credits
func (h *Handler) AddCredits(c *gin.Context) {
	var req AmountRequest
	if !bindJSON(c, &req, "Name and amount are required") {
		return
	}

	account, err := h.accountService.Credit(c.Request.Context(), req.Name, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, account)
}

// GetAccount 查询账户
// GET /api/account?name=xxx
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.accountService.GetAccount(c.Request.Context(), c.Query("name"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, account)
}

// ListTransactions 查询点数流水
// GET /api/transactions?name=xxx&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		response.ParamError(c, "page 参数错误")
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil {
		response.ParamError(c, "page_size 参数错误")
		return
	}

	list, total, err := h.accountService.ListTransactions(c.Request.Context(), c.Query("name"), page, pageSize)
	if err != nil {
		writeError(c, err)
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
// 图片修复接口
// ============================================================

// RestoreRequest 修复请求，image 为 base64（可带 data: 前缀）
type RestoreRequest struct {
	Image    string `json:"image"`
	MimeType string `json:"mimeType"`
	Prompt   string `json:"prompt"`
}

// Restore 转发给外部图像服务
// POST /api/restore
//
// 【关键点】这里不扣点：前端先调用 /spend，再调用 /restore
// 修复失败时点数不会自动退还
func (h *Handler) Restore(c *gin.Context) {
	var req RestoreRequest
	if !bindJSON(c, &req, "Missing required parameters") {
		return
	}

	result, err := h.restoreService.Restore(c.Request.Context(), req.Image, req.MimeType, req.Prompt)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// bindJSON 解析失败时写入错误响应；请求体超限返回 413，其余返回 400
func bindJSON(c *gin.Context, req interface{}, message string) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		response.PayloadTooLarge(c, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	response.ParamError(c, message)
	return false
}

// writeError 业务错误按分类映射状态码，其余统一返回 500
func writeError(c *gin.Context, err error) {
	var perr *provider.Error
	if errors.As(err, &perr) {
		response.ServerError(c, response.CodeProviderFailed, perr.Message)
		return
	}

	var serr *service.Error
	if errors.As(err, &serr) {
		switch serr.Kind {
		case service.KindValidation:
			response.ParamError(c, serr.Message)
			return
		case service.KindNotFound:
			response.NotFound(c, response.CodeAccountNotFound, serr.Message)
			return
		case service.KindInsufficientCredits:
			response.BusinessError(c, response.CodeInsufficientCredits, serr.Message)
			return
		}
	}

	log.WithError(err).WithField("path", c.FullPath()).Error("请求处理失败")
	response.ServerError(c, response.CodeServerError, "Server error")
}
