package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/money"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RefundDetail describes what a refund undid.
type RefundDetail struct {
	Plan             *models.PaymentPlan       `json:"plan"`
	Payments         []models.Payment          `json:"payments"`
	RefundedAmount   decimal.Decimal           `json:"refunded_amount"`
	ReversedExpenses []models.AuxiliaryExpense `json:"reversed_expenses"`
	AuditExpenses    []models.AuxiliaryExpense `json:"audit_expenses"`
	// RetainedAmendments are schedule rewrites caused by the refunded payments. They stay in force.
	RetainedAmendments []models.ScheduleAmendment `json:"retained_amendments"`
}

// RefundInstallment reverses the latest settlement of one installment.
func (e *Engine) RefundInstallment(ctx context.Context, planId, installmentNumber int, reason string) (detail *RefundDetail, err error) {
	ctx, span := e.startSpan(ctx, "RefundInstallment", planId)
	defer func() { endSpan(span, err) }()

	if installmentNumber <= 0 {
		return nil, invalid("installmentNumber", "must be greater than zero")
	}
	reason = strings.TrimSpace(reason)

	err = e.withPlan(ctx, planId, func(tx store.Store, plan *models.PaymentPlan) error {
		inst := plan.InstallmentByNumber(installmentNumber)
		if inst == nil {
			return notFound(fmt.Sprintf("installment of plan %d", plan.ID), installmentNumber)
		}
		if !inst.IsPaid {
			return invalidState("installment %d of plan %d is not paid", installmentNumber, plan.ID)
		}

		payments, err := tx.ListPaymentsByPlan(ctx, plan.ID)
		if err != nil {
			return err
		}
		payment := latestPaymentFor(payments, installmentNumber)
		if payment == nil {
			return invalidState("installment %d of plan %d has no settled payment to refund", installmentNumber, plan.ID)
		}

		detail = &RefundDetail{Plan: plan}
		if err := e.reversePayment(ctx, tx, plan, payment, reason, fmt.Sprintf("installment %d", installmentNumber), detail); err != nil {
			return err
		}

		inst.IsPaid = false
		inst.PaidAmount = decimal.Zero
		inst.PaidDate = nil
		inst.IsInvoiced = false
		inst.ClearStampedTerms(payment.ID)

		plan.PaidAmount = money.FloorZero(plan.PaidAmount.Sub(detail.RefundedAmount))
		plan.RefreshRemaining()
		plan.IsCompleted = false
		return tx.SavePlan(ctx, plan)
	})
	if err != nil {
		e.logFailure("RefundInstallment", map[string]int{"plan_id": planId, "installment": installmentNumber}, err)
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"field":       "billing",
		"plan_id":     planId,
		"installment": installmentNumber,
		"amount":      detail.RefundedAmount.String(),
	}).Info("installment refunded")
	e.record(ctx, detail.Plan, audit.ActionRefund,
		fmt.Sprintf("Installment %d refunded: %s%s", installmentNumber, detail.RefundedAmount.StringFixed(2), reasonSuffix(reason)))
	return detail, nil
}

// RefundFullPayment reverses the plan-level payments of a plan settled in one go
// (same-day settlement or a processed card charge).
func (e *Engine) RefundFullPayment(ctx context.Context, planId int, reason string) (detail *RefundDetail, err error) {
	ctx, span := e.startSpan(ctx, "RefundFullPayment", planId)
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	err = e.withPlan(ctx, planId, func(tx store.Store, plan *models.PaymentPlan) error {
		payments, err := tx.ListPaymentsByPlan(ctx, plan.ID)
		if err != nil {
			return err
		}

		settledByInstallment := make(map[int]bool)
		var planLevel []*models.Payment
		for _, p := range payments {
			if !p.Counts() {
				continue
			}
			if p.InstallmentNumber == nil {
				planLevel = append(planLevel, p)
			} else {
				settledByInstallment[*p.InstallmentNumber] = true
			}
		}
		if len(planLevel) == 0 {
			return invalidState("plan %d has no full payment to refund", plan.ID)
		}

		detail = &RefundDetail{Plan: plan}
		for _, p := range planLevel {
			if err := e.reversePayment(ctx, tx, plan, p, reason, "full payment", detail); err != nil {
				return err
			}
		}

		for i := range plan.Installments {
			inst := &plan.Installments[i]
			if !inst.IsPaid || settledByInstallment[inst.Number] {
				continue
			}
			inst.IsPaid = false
			inst.PaidAmount = decimal.Zero
			inst.PaidDate = nil
			inst.IsInvoiced = false
			for _, p := range planLevel {
				inst.ClearStampedTerms(p.ID)
			}
		}
		plan.PaidAmount = money.FloorZero(plan.PaidAmount.Sub(detail.RefundedAmount))
		plan.RefreshRemaining()
		plan.IsCompleted = false
		return tx.SavePlan(ctx, plan)
	})
	if err != nil {
		e.logFailure("RefundFullPayment", planId, err)
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"field":    "billing",
		"plan_id":  planId,
		"payments": len(detail.Payments),
		"amount":   detail.RefundedAmount.String(),
	}).Info("full payment refunded")
	e.record(ctx, detail.Plan, audit.ActionRefund,
		fmt.Sprintf("Full payment refunded: %s%s", detail.RefundedAmount.StringFixed(2), reasonSuffix(reason)))
	return detail, nil
}

// reversePayment flags p refunded, takes the money back out of its register, undoes its
// auto-generated charges, books a refund audit entry and returns the debt to the student.
func (e *Engine) reversePayment(ctx context.Context, tx store.Store, plan *models.PaymentPlan, p *models.Payment, reason, what string, detail *RefundDetail) error {
	now := e.now()
	p.IsRefunded = true
	p.Status = models.PaymentStatusRefunded
	p.RefundAmount = p.Amount
	p.RefundDate = &now
	p.RefundReason = reason
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return err
	}

	if err := tx.AdjustCashRegisterBalance(ctx, p.CashRegisterId, p.Amount.Neg()); err != nil {
		return err
	}

	expenses, err := tx.ListExpensesByPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, exp := range expenses {
		if !exp.IsAutoGenerated || exp.Category == models.ExpenseCategoryRefund {
			continue
		}
		if err := tx.AdjustCashRegisterBalance(ctx, exp.CashRegisterId, exp.Amount); err != nil {
			return err
		}
		if err := tx.DeleteExpense(ctx, exp.ID); err != nil {
			return err
		}
		detail.ReversedExpenses = append(detail.ReversedExpenses, *exp)
	}

	// informational only: the register was already debited above
	auditExpense := &models.AuxiliaryExpense{
		Category:         models.ExpenseCategoryRefund,
		Amount:           p.Amount,
		CashRegisterId:   p.CashRegisterId,
		RelatedPaymentId: p.ID,
		PlanId:           intPtr(plan.ID),
		IsAutoGenerated:  true,
		Description:      fmt.Sprintf("Refund of %s, payment %d%s", what, p.ID, reasonSuffix(reason)),
	}
	if err := tx.CreateExpense(ctx, auditExpense); err != nil {
		return err
	}
	detail.AuditExpenses = append(detail.AuditExpenses, *auditExpense)

	if err := tx.AdjustStudentBalance(ctx, plan.StudentId, p.Amount); err != nil {
		return err
	}

	for _, am := range plan.Amendments {
		if am.SourcePaymentId == p.ID {
			detail.RetainedAmendments = append(detail.RetainedAmendments, am)
		}
	}
	detail.Payments = append(detail.Payments, *p)
	detail.RefundedAmount = detail.RefundedAmount.Add(p.Amount)
	return nil
}

// latestPaymentFor picks the most recent payment still counting toward installment number.
func latestPaymentFor(payments []*models.Payment, number int) *models.Payment {
	var latest *models.Payment
	for _, p := range payments {
		if !p.Counts() || p.InstallmentNumber == nil || *p.InstallmentNumber != number {
			continue
		}
		if latest == nil || p.PaymentDate.After(latest.PaymentDate) ||
			(p.PaymentDate.Equal(latest.PaymentDate) && p.ID > latest.ID) {
			latest = p
		}
	}
	return latest
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}
