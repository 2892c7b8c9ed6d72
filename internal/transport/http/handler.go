package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler bundles the services exposed over HTTP.
type Handler struct {
	ledger    *service.LedgerService
	payments  *service.SettlementService
	transfers *service.TransferService
	log       *zap.SugaredLogger
}

func NewHandler(ledger *service.LedgerService, payments *service.SettlementService, transfers *service.TransferService, log *zap.SugaredLogger) *Handler {
	return &Handler{ledger: ledger, payments: payments, transfers: transfers, log: log}
}

func RegisterHandlers(r *gin.Engine, h *Handler, auth gin.HandlerFunc) {
	v1 := r.Group("/v1", auth)
	{
		v1.GET("/wallets/me", h.myWallet)
		v1.GET("/wallets/me/history", h.myHistory)
		v1.GET("/transactions/:id", h.getTransaction)

		v1.POST("/payments", h.pay)
		v1.GET("/payments", h.listPayments)
		v1.GET("/payments/:id", h.getPayment)
		v1.POST("/payments/:id/settle", h.settle)

		v1.POST("/transfers", h.requestTransfer)
		v1.GET("/transfers", h.listTransfers)
		v1.GET("/transfers/:id", h.getTransfer)
		v1.POST("/transfers/:id/accept", h.acceptTransfer)
		v1.POST("/transfers/:id/reject", h.rejectTransfer)
		v1.POST("/transfers/:id/cancel", h.cancelTransfer)
	}
	staff := v1.Group("", RequireStaff())
	{
		staff.POST("/wallets/:user/deposit", h.deposit)
		staff.PUT("/wallets/:user/active", h.setActive)
		staff.POST("/payments/:id/outcome", h.recordOutcome)
		staff.POST("/payments/:id/refund", h.refund)
	}
}

// errorStatus maps service errors onto HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidKind),
		errors.Is(err, service.ErrSelfTransfer),
		errors.Is(err, service.ErrUnsupportedMethod):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadySettled),
		errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", c.FullPath(), "error", err)
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func parseAmount(c *gin.Context, s string) (decimal.Decimal, bool) {
	amt, err := decimal.NewFromString(s)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return decimal.Zero, false
	}
	return amt, true
}

// maxPageLimit caps list endpoints; zero or a bad value falls back to the
// service default.
const maxPageLimit = 100

func queryLimit(c *gin.Context) int {
	n, _ := strconv.Atoi(c.Query("limit"))
	if n > maxPageLimit {
		return maxPageLimit
	}
	return n
}

// ---- wallets ----

func (h *Handler) myWallet(c *gin.Context) {
	w, err := h.ledger.GetWallet(c, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	bal, err := h.ledger.GetBalance(c, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet_id": w.ID, "user_id": w.UserID, "balance": bal, "active": w.Active})
}

func (h *Handler) myHistory(c *gin.Context) {
	f := repo.TxFilter{
		Kind:   model.TxKind(c.Query("kind")),
		Status: model.TxStatus(c.Query("status")),
		Limit:  queryLimit(c),
	}
	if since := c.Query("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		f.Since = ts
	}
	txs, err := h.ledger.GetHistory(c, actor(c), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (h *Handler) getTransaction(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	t, err := h.ledger.GetTransaction(c, id, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type depositReq struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) deposit(c *gin.Context) {
	var req depositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := idParam(c, "user")
	if !ok {
		return
	}
	amt, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	t, err := h.ledger.Deposit(c, userID, amt, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type activeReq struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) setActive(c *gin.Context) {
	var req activeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := idParam(c, "user")
	if !ok {
		return
	}
	if err := h.ledger.SetWalletActive(c, userID, *req.Active); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- payments ----

type payReq struct {
	TargetType          string `json:"target_type" binding:"required"`
	TargetID            uint64 `json:"target_id" binding:"required"`
	Method              string `json:"method" binding:"required"`
	MobileMoneyNumber   string `json:"mobile_money_number"`
	MobileMoneyOperator string `json:"mobile_money_operator"`
}

func (h *Handler) pay(c *gin.Context) {
	var req payReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.payments.Pay(c, service.PaymentRequest{
		UserID:              actor(c),
		TargetType:          model.TargetType(req.TargetType),
		TargetID:            req.TargetID,
		Method:              model.PaymentMethod(req.Method),
		MobileMoneyNumber:   req.MobileMoneyNumber,
		MobileMoneyOperator: req.MobileMoneyOperator,
	})
	if err != nil {
		// a rejected wallet payment is still a stored payment
		if p != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error(), "payment": p})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) listPayments(c *gin.Context) {
	ps, err := h.payments.ListPayments(c, actor(c), queryLimit(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (h *Handler) getPayment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.payments.GetPayment(c, id, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) settle(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.payments.Settle(c, id, actor(c))
	if err != nil {
		if p != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error(), "payment": p})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type outcomeReq struct {
	Validated *bool `json:"validated" binding:"required"`
}

func (h *Handler) recordOutcome(c *gin.Context) {
	var req outcomeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.payments.RecordExternalOutcome(c, id, *req.Validated)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type refundReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) refund(c *gin.Context) {
	var req refundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.payments.Refund(c, id, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ---- transfers ----

type transferReq struct {
	ReceiverID uint64 `json:"receiver_id" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	Reason     string `json:"reason"`
}

func (h *Handler) requestTransfer(c *gin.Context) {
	var req transferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amt, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	tr, err := h.transfers.Request(c, actor(c), req.ReceiverID, amt, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tr)
}

func (h *Handler) listTransfers(c *gin.Context) {
	trs, err := h.transfers.List(c, actor(c), model.TransferStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, trs)
}

func (h *Handler) getTransfer(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	tr, err := h.transfers.Get(c, id, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (h *Handler) acceptTransfer(c *gin.Context) { h.resolveTransfer(c, h.transfers.Accept) }
func (h *Handler) rejectTransfer(c *gin.Context) { h.resolveTransfer(c, h.transfers.Reject) }
func (h *Handler) cancelTransfer(c *gin.Context) { h.resolveTransfer(c, h.transfers.Cancel) }

type transferAction func(ctx context.Context, requestID, actor uint64) (*model.TransferRequest, error)

func (h *Handler) resolveTransfer(c *gin.Context, do transferAction) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	tr, err := do(c, id, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}
