// Package handlers exposes the billing engine over HTTP.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/tuition_backend/billing"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/money"
)

type Handler struct {
	engine atomic.Pointer[billing.Engine]
}

// New returns a handler serving engine. engine may be nil and attached later.
func New(engine *billing.Engine) *Handler {
	h := &Handler{}
	if engine != nil {
		h.engine.Store(engine)
	}
	return h
}

// Attach sets the engine once its dependencies are connected.
func (h *Handler) Attach(engine *billing.Engine) { h.engine.Store(engine) }

// Ready reports whether an engine is attached. Routes must sit behind a gate on Ready.
func (h *Handler) Ready() bool { return h.engine.Load() != nil }

func (h *Handler) billing() *billing.Engine { return h.engine.Load() }

// Register mounts the billing routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/plans", h.createPlan)
	r.DELETE("/plans/:id", h.deletePlan)
	r.POST("/plans/:id/installments/:number/pay", h.payInstallment)
	r.POST("/plans/:id/installments/:number/refund", h.refundInstallment)
	r.POST("/plans/:id/refund", h.refundFullPayment)
	r.POST("/plans/:id/card-charge", h.processCardCharge)
	r.GET("/audit/discrepancies", h.discrepancies)
	r.POST("/audit/repair", h.repair)
}

// writeError maps engine error kinds onto status codes. Internal causes are not echoed.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	var verr *billing.ValidationError
	switch billing.Kind(err) {
	case billing.ErrValidation:
		body := gin.H{"error": err.Error()}
		if errors.As(err, &verr) && verr.Field != "" {
			body["field"] = verr.Field
		}
		c.JSON(http.StatusBadRequest, body)
	case billing.ErrNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case billing.ErrInvalidState:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, field, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": field + ": " + message, "field": field})
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		badRequest(c, name, "must be a positive integer")
		return 0, false
	}
	return v, true
}

func (h *Handler) createPlan(c *gin.Context) {
	var input billing.CreatePlanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	plan, err := h.billing().CreatePlan(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (h *Handler) deletePlan(c *gin.Context) {
	planId, ok := intParam(c, "id")
	if !ok {
		return
	}
	result, err := h.billing().DeletePlan(c.Request.Context(), planId)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type payRequest struct {
	// Amount accepts numbers or strings such as "1,500.00".
	Amount              interface{}                `json:"amount"`
	CashRegisterId      int                        `json:"cash_register_id"`
	IsInvoiced          bool                       `json:"is_invoiced"`
	OverpaymentHandling models.OverpaymentHandling `json:"overpayment_handling"`
	PaymentMethod       *models.PaymentMethod      `json:"payment_method"`
}

func (h *Handler) payInstallment(c *gin.Context) {
	planId, ok := intParam(c, "id")
	if !ok {
		return
	}
	number, ok := intParam(c, "number")
	if !ok {
		return
	}
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, "amount", err.Error())
		return
	}

	plan, err := h.billing().PayInstallment(c.Request.Context(), billing.PayInstallmentInput{
		PlanId:              planId,
		InstallmentNumber:   number,
		Amount:              amount,
		CashRegisterId:      req.CashRegisterId,
		IsInvoiced:          req.IsInvoiced,
		OverpaymentHandling: req.OverpaymentHandling,
		PaymentMethod:       req.PaymentMethod,
		IdempotencyKey:      c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// bindReason tolerates an empty body.
func bindReason(c *gin.Context) (string, bool) {
	var req refundRequest
	if c.Request.ContentLength == 0 {
		return "", true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return "", false
	}
	return req.Reason, true
}

func (h *Handler) refundInstallment(c *gin.Context) {
	planId, ok := intParam(c, "id")
	if !ok {
		return
	}
	number, ok := intParam(c, "number")
	if !ok {
		return
	}
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	detail, err := h.billing().RefundInstallment(c.Request.Context(), planId, number, reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) refundFullPayment(c *gin.Context) {
	planId, ok := intParam(c, "id")
	if !ok {
		return
	}
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	detail, err := h.billing().RefundFullPayment(c.Request.Context(), planId, reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) processCardCharge(c *gin.Context) {
	planId, ok := intParam(c, "id")
	if !ok {
		return
	}
	plan, err := h.billing().ProcessPendingCreditCardPayment(c.Request.Context(), planId)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *Handler) discrepancies(c *gin.Context) {
	found, err := h.billing().AnalyzeDiscrepancies(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(found), "discrepancies": found})
}

func (h *Handler) repair(c *gin.Context) {
	summary, err := h.billing().RepairInstallmentSync(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
