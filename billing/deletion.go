package billing

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DeletionResult summarizes an unwound plan.
type DeletionResult struct {
	Plan             *models.PaymentPlan `json:"plan"`
	ReversedPayments int                 `json:"reversed_payments"`
	DeletedPayments  int                 `json:"deleted_payments"`
	DeletedExpenses  int                 `json:"deleted_expenses"`
	// StudentDelta is the net change applied to the student's balance.
	StudentDelta decimal.Decimal `json:"student_delta"`
}

// DeletePlan removes a plan and unwinds every payment and expense it produced,
// returning the student and registers to where they were before the plan existed.
// Payments already refunded are skipped: their refund undid them.
func (e *Engine) DeletePlan(ctx context.Context, planId int) (result *DeletionResult, err error) {
	ctx, span := e.startSpan(ctx, "DeletePlan", planId)
	defer func() { endSpan(span, err) }()

	err = e.withPlan(ctx, planId, func(tx store.Store, plan *models.PaymentPlan) error {
		result = &DeletionResult{Plan: plan, StudentDelta: decimal.Zero}

		payments, err := tx.ListPaymentsByPlan(ctx, plan.ID)
		if err != nil {
			return err
		}

		for _, p := range payments {
			if !p.Counts() {
				continue
			}
			if err := adjustBalances(ctx, tx, plan.StudentId, p.Amount, p.CashRegisterId, p.Amount.Neg()); err != nil {
				return err
			}
			result.StudentDelta = result.StudentDelta.Add(p.Amount)
			result.ReversedPayments++

			expenses, err := tx.ListExpensesByPayment(ctx, p.ID)
			if err != nil {
				return err
			}
			for _, exp := range expenses {
				if exp.Category == models.ExpenseCategoryRefund {
					continue
				}
				if err := tx.AdjustCashRegisterBalance(ctx, exp.CashRegisterId, exp.Amount); err != nil {
					return err
				}
				if err := tx.DeleteExpense(ctx, exp.ID); err != nil {
					return err
				}
				result.DeletedExpenses++
			}
		}

		// whatever is left (refund audit rows, charges of refunded payments) carries no balance effect
		for _, p := range payments {
			expenses, err := tx.ListExpensesByPayment(ctx, p.ID)
			if err != nil {
				return err
			}
			for _, exp := range expenses {
				if err := tx.DeleteExpense(ctx, exp.ID); err != nil {
					return err
				}
				result.DeletedExpenses++
			}
		}

		for _, p := range payments {
			if err := tx.DeletePayment(ctx, p.ID); err != nil {
				return err
			}
			result.DeletedPayments++
		}

		if err := tx.AdjustStudentBalance(ctx, plan.StudentId, plan.DiscountedAmount.Neg()); err != nil {
			return err
		}
		result.StudentDelta = result.StudentDelta.Sub(plan.DiscountedAmount)

		return tx.DeletePlan(ctx, plan.ID)
	})
	if err != nil {
		e.logFailure("DeletePlan", planId, err)
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"field":             "billing",
		"plan_id":           planId,
		"reversed_payments": result.ReversedPayments,
		"deleted_expenses":  result.DeletedExpenses,
	}).Info("payment plan deleted")
	e.record(ctx, result.Plan, audit.ActionDelete,
		fmt.Sprintf("Payment plan deleted for student %d; %d payment(s) reversed", result.Plan.StudentId, result.ReversedPayments))
	return result, nil
}
