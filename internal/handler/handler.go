package handler

import (
	"strconv"
	"time"

	"treasury/internal/authz"
	"treasury/internal/repository"
	"treasury/internal/service"
	"treasury/pkg/errs"
	"treasury/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 请求处理层，只做参数绑定、读权限判断和错误翻译
type Handler struct {
	svc *service.Services
}

func NewHandler(svc *service.Services) *Handler {
	return &Handler{svc: svc}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}

func pageOf(c *gin.Context) repository.Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return repository.Page{Page: page, PageSize: pageSize}
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return false
	}
	return true
}

// canView 系统管理员、账户本人，或同一企业内可查看审计的管理角色可以读取账户数据
func (h *Handler) canView(c *gin.Context, accountIDs ...int64) bool {
	actor := actorFrom(c)
	if actor.Role == authz.RoleSystemAdmin {
		return true
	}
	for _, id := range accountIDs {
		if id == actor.AccountID {
			return true
		}
	}

	if actor.Role.Can(authz.CapViewAudit) {
		self, err := h.svc.Accounts.GetAccount(c.Request.Context(), actor.AccountID)
		if err != nil {
			response.FromError(c, err)
			return false
		}
		for _, id := range accountIDs {
			target, err := h.svc.Accounts.GetAccount(c.Request.Context(), id)
			if err != nil {
				response.FromError(c, err)
				return false
			}
			if target.CompanyID() == self.CompanyID() {
				return true
			}
		}
	}

	response.FromError(c, errs.Wrap(errs.ErrNotAuthorized, "actor=%d 无权查看账户 %v", actor.AccountID, accountIDs))
	return false
}

// ============================================================
// 账户
// ============================================================

// CreateAccount 注册账户，仅系统管理员
// POST /api/v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	if !requireSystemAdmin(c) {
		return
	}
	var req service.CreateAccountRequest
	if !bind(c, &req) {
		return
	}

	account, err := h.svc.Accounts.CreateAccount(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, account)
}

// SetKYCStatus KYC 审核结果回写
// PUT /api/v1/accounts/:id/kyc
func (h *Handler) SetKYCStatus(c *gin.Context) {
	if !requireSystemAdmin(c) {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}

	if err := h.svc.Accounts.SetKYCStatus(c.Request.Context(), id, req.Status); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"account_id": id, "kyc_status": req.Status})
}

// GetBalance 余额及可用/锁定拆分
// GET /api/v1/accounts/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	view, err := h.svc.Accounts.GetBalance(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, view)
}

// ConsolidatedBalance 企业合并余额
// GET /api/v1/accounts/:id/consolidated-balance
func (h *Handler) ConsolidatedBalance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	view, err := h.svc.Accounts.ConsolidatedBalance(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, view)
}

// ListTransactions 账户流水
// GET /api/v1/accounts/:id/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	page := pageOf(c)
	list, total, err := h.svc.Accounts.ListTransactions(c.Request.Context(), id, page)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list, "total": total, "page": page.Page, "page_size": page.PageSize})
}

// ============================================================
// 质押与收益
// ============================================================

// OpenStake 建立质押
// POST /api/v1/stakes
func (h *Handler) OpenStake(c *gin.Context) {
	var req service.OpenStakeRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.svc.Stakes.OpenStake(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ReleaseStake 到期释放质押
// POST /api/v1/stakes/:id/release
func (h *Handler) ReleaseStake(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.svc.Stakes.ReleaseStake(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetStake 质押详情，含当前应计利息
// GET /api/v1/stakes/:id
func (h *Handler) GetStake(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.svc.Stakes.GetStake(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !h.canView(c, view.AccountID) {
		return
	}
	response.Success(c, view)
}

// ListStakes 账户质押列表
// GET /api/v1/accounts/:id/stakes?status=active
func (h *Handler) ListStakes(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	views, err := h.svc.Stakes.ListStakes(c.Request.Context(), id, c.Query("status"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, views)
}

// EarningsSummary 收益概览
// GET /api/v1/accounts/:id/earnings
func (h *Handler) EarningsSummary(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	summary, err := h.svc.Earnings.Summary(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, summary)
}

// ============================================================
// 付款
// ============================================================

// SendPayment 付款，可选锁定期
// POST /api/v1/payments
func (h *Handler) SendPayment(c *gin.Context) {
	var req service.SendPaymentRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.svc.Payments.SendPayment(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ReleasePayment 收款方提前领取到期的锁定款
// POST /api/v1/payments/:id/release
func (h *Handler) ReleasePayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.svc.Payments.ReleasePayment(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetPayment GET /api/v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	payment, err := h.svc.Payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !h.canView(c, payment.FromID, payment.ToID) {
		return
	}
	response.Success(c, payment)
}

// ListPayments GET /api/v1/accounts/:id/payments
func (h *Handler) ListPayments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	page := pageOf(c)
	list, total, err := h.svc.Payments.ListPayments(c.Request.Context(), id, page)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list, "total": total, "page": page.Page, "page_size": page.PageSize})
}

// ListLocks GET /api/v1/accounts/:id/locks?status=locked
func (h *Handler) ListLocks(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	locks, err := h.svc.Payments.ListLocks(c.Request.Context(), id, c.Query("status"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, locks)
}

// ============================================================
// 提现
// ============================================================

// RequestWithdrawal POST /api/v1/withdrawals
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req service.WithdrawalRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.svc.Withdrawals.RequestWithdrawal(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetWithdrawal GET /api/v1/withdrawals/:id
func (h *Handler) GetWithdrawal(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	w, err := h.svc.Withdrawals.GetWithdrawal(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !h.canView(c, w.AccountID) {
		return
	}
	response.Success(c, w)
}

// ListWithdrawals GET /api/v1/accounts/:id/withdrawals
func (h *Handler) ListWithdrawals(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	page := pageOf(c)
	list, total, err := h.svc.Withdrawals.ListWithdrawals(c.Request.Context(), id, page)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list, "total": total, "page": page.Page, "page_size": page.PageSize})
}

// ============================================================
// 审批
// ============================================================

// RecordApproval 审批人提交决定
// POST /api/v1/workflows/:id/approvals
func (h *Handler) RecordApproval(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.RecordApprovalRequest
	if !bind(c, &req) {
		return
	}

	wf, err := h.svc.Approvals.RecordApproval(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, wf)
}

// GetWorkflow GET /api/v1/workflows/:id
func (h *Handler) GetWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	wf, err := h.svc.Approvals.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !h.canView(c, wf.CompanyID, wf.RequesterID) {
		return
	}
	response.Success(c, wf)
}

// ListPendingWorkflows GET /api/v1/companies/:id/workflows
func (h *Handler) ListPendingWorkflows(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	list, err := h.svc.Approvals.ListPending(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, list)
}

// ============================================================
// 资金策略与审计
// ============================================================

// GetSettings GET /api/v1/companies/:id/settings
func (h *Handler) GetSettings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.canView(c, id) {
		return
	}

	settings, err := h.svc.Settings.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, settings)
}

// UpdateSettings PUT /api/v1/companies/:id/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.SettingsInput
	if !bind(c, &req) {
		return
	}

	settings, err := h.svc.Settings.Update(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, settings)
}

// ListAuditLogs 审计日志
// GET /api/v1/audit-logs?actor_id=1&action=payment_sent&target_id=xxx&since=2026-01-01T00:00:00Z
func (h *Handler) ListAuditLogs(c *gin.Context) {
	var filter repository.AuditFilter
	if raw := c.Query("actor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.ParamError(c, "actor_id 参数错误")
			return
		}
		filter.ActorID = &id
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.ParamError(c, "since 需为 RFC3339 时间")
			return
		}
		filter.Since = since
	}
	filter.Action = c.Query("action")
	filter.TargetID = c.Query("target_id")

	page := pageOf(c)
	list, total, err := h.svc.Audit.List(c.Request.Context(), actorFrom(c), filter, page)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list, "total": total, "page": page.Page, "page_size": page.PageSize})
}
