package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/money"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PayInstallmentInput struct {
	PlanId              int                        `json:"plan_id" validate:"required,gt=0"`
	InstallmentNumber   int                        `json:"installment_number" validate:"required,gt=0"`
	Amount              decimal.Decimal            `json:"amount"`
	CashRegisterId      int                        `json:"cash_register_id" validate:"required,gt=0"`
	IsInvoiced          bool                       `json:"is_invoiced"`
	OverpaymentHandling models.OverpaymentHandling `json:"overpayment_handling" validate:"omitempty,oneof=next distribute"`
	// PaymentMethod forces the collection method of this payment.
	PaymentMethod *models.PaymentMethod `json:"payment_method"`
	// IdempotencyKey makes retries of the same request apply once.
	IdempotencyKey string `json:"idempotency_key" validate:"max=100"`
}

// PayInstallment settles one installment and reshapes the remaining schedule when it is overpaid.
func (e *Engine) PayInstallment(ctx context.Context, input PayInstallmentInput) (plan *models.PaymentPlan, err error) {
	ctx, span := e.startSpan(ctx, "PayInstallment", input.PlanId)
	defer func() { endSpan(span, err) }()

	if err := e.validate.StructCtx(ctx, input); err != nil {
		return nil, fromValidator(err)
	}
	if !input.Amount.IsPositive() {
		return nil, invalid("amount", "must be greater than zero")
	}
	if input.PaymentMethod != nil && !input.PaymentMethod.IsValid() {
		return nil, invalid("paymentMethod", "invalid payment method")
	}

	var (
		payment  *models.Payment
		replayed bool
	)
	err = e.withPlan(ctx, input.PlanId, func(tx store.Store, p *models.PaymentPlan) error {
		plan = p
		if input.IdempotencyKey != "" {
			prior, err := tx.FindPaymentByIdempotencyKey(ctx, input.IdempotencyKey)
			switch {
			case err == nil:
				if prior.PlanId == nil || *prior.PlanId != p.ID {
					return invalid("idempotencyKey", "already used for another plan")
				}
				replayed = true
				return nil
			case !store.IsNotFound(err):
				return err
			}
		}
		payment, err = e.applyInstallmentPayment(ctx, tx, p, input)
		return err
	})
	if err != nil && input.IdempotencyKey != "" && errors.Is(err, store.ErrDuplicate) {
		// another instance committed the same key first
		replayed = true
		plan, err = e.store.GetPlan(ctx, input.PlanId)
		err = classify(err)
	}
	if err != nil {
		e.logFailure("PayInstallment", input, err)
		return nil, err
	}
	if replayed {
		e.logger.WithFields(logrus.Fields{
			"field":           "billing",
			"plan_id":         input.PlanId,
			"idempotency_key": input.IdempotencyKey,
		}).Info("duplicate installment payment ignored")
		return plan, nil
	}

	e.logger.WithFields(logrus.Fields{
		"field":       "billing",
		"plan_id":     plan.ID,
		"installment": input.InstallmentNumber,
		"payment_id":  payment.ID,
		"amount":      payment.Amount.String(),
	}).Info("installment paid")
	e.record(ctx, plan, audit.ActionPay,
		fmt.Sprintf("Installment %d paid: %s (%s)", input.InstallmentNumber, payment.Amount.StringFixed(2), payment.PaymentType))
	return plan, nil
}

func (e *Engine) applyInstallmentPayment(ctx context.Context, tx store.Store, plan *models.PaymentPlan, input PayInstallmentInput) (*models.Payment, error) {
	inst := plan.InstallmentByNumber(input.InstallmentNumber)
	if inst == nil {
		return nil, notFound(fmt.Sprintf("installment of plan %d", plan.ID), input.InstallmentNumber)
	}
	if plan.IsCompleted {
		return nil, invalidState("plan %d is already completed", plan.ID)
	}
	if inst.IsPaid {
		return nil, invalidState("installment %d of plan %d is already paid", inst.Number, plan.ID)
	}
	if _, err := tx.GetCashRegister(ctx, input.CashRegisterId); err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("cash register", input.CashRegisterId)
		}
		return nil, err
	}

	amount := money.Round2(input.Amount)
	method := plan.EffectiveMethod(inst, input.PaymentMethod)

	var amendments []models.ScheduleAmendment
	if excess := amount.Sub(inst.Amount); excess.IsPositive() && input.OverpaymentHandling != models.OverpaymentNone {
		amendments = redistribute(plan, inst.Number, excess, input.OverpaymentHandling)
	}

	payment, err := e.newPayment(ctx, plan, inst, amount, method, input.CashRegisterId, input.IsInvoiced)
	if err != nil {
		return nil, err
	}
	if input.IdempotencyKey != "" {
		key := input.IdempotencyKey
		payment.IdempotencyKey = &key
	}
	if err := settle(ctx, tx, plan, payment); err != nil {
		return nil, err
	}

	paidAt := e.now()
	inst.IsPaid = true
	inst.PaidAmount = amount
	inst.PaidDate = &paidAt
	inst.IsInvoiced = input.IsInvoiced
	inst.StampTerms(payment.ID, payment.ChargeTerms, method == models.PaymentMethodCreditCard, input.IsInvoiced)

	for i := range amendments {
		amendments[i].SourcePaymentId = payment.ID
	}
	plan.Amendments = append(plan.Amendments, amendments...)

	plan.PaidAmount = plan.PaidAmount.Add(amount)
	plan.RefreshRemaining()
	if plan.SweepCompletion(paidAt) {
		// paid off by hand before its card charge date: nothing is left to charge
		plan.IsPendingCardCharge = false
	}
	if err := tx.SavePlan(ctx, plan); err != nil {
		return nil, err
	}
	return payment, nil
}

// redistribute shrinks unpaid installments other than paidNumber by excess and returns what changed.
// "next" takes it all from the lowest-numbered unpaid installment, "distribute" splits it evenly
// in cents. Amounts never go below zero.
func redistribute(plan *models.PaymentPlan, paidNumber int, excess decimal.Decimal, mode models.OverpaymentHandling) []models.ScheduleAmendment {
	unpaid := plan.UnpaidInstallments(paidNumber)
	if len(unpaid) == 0 {
		return nil
	}

	var shares []decimal.Decimal
	switch mode {
	case models.OverpaymentNext:
		unpaid = unpaid[:1]
		shares = []decimal.Decimal{excess}
	case models.OverpaymentDistribute:
		shares = money.SplitEven(excess, len(unpaid))
	default:
		return nil
	}

	var out []models.ScheduleAmendment
	for i, inst := range unpaid {
		prev := inst.Amount
		next := money.FloorZero(prev.Sub(shares[i]))
		if next.Equal(prev) {
			continue
		}
		inst.Amount = next
		out = append(out, models.ScheduleAmendment{
			PlanId:                  plan.ID,
			InstallmentNumber:       inst.Number,
			PreviousAmount:          prev,
			NewAmount:               next,
			SourceInstallmentNumber: paidNumber,
			Mode:                    mode,
		})
	}
	return out
}

// ProcessPendingCreditCardPayment charges the card of a plan whose charge date has arrived,
// settling every unpaid installment in one plan-level payment.
func (e *Engine) ProcessPendingCreditCardPayment(ctx context.Context, planId int) (plan *models.PaymentPlan, err error) {
	ctx, span := e.startSpan(ctx, "ProcessPendingCreditCardPayment", planId)
	defer func() { endSpan(span, err) }()

	var charged decimal.Decimal
	err = e.withPlan(ctx, planId, func(tx store.Store, p *models.PaymentPlan) error {
		plan = p
		if p.IsCompleted {
			return invalidState("plan %d is already completed", p.ID)
		}
		if !p.IsPendingCardCharge {
			return invalidState("plan %d has no pending card charge", p.ID)
		}
		now := e.now()
		if p.CardChargeDate == nil || p.CardChargeDate.After(now) {
			return invalidState("card charge of plan %d is not due yet", p.ID)
		}
		if _, err := tx.GetCashRegister(ctx, p.CashRegisterId); err != nil {
			if store.IsNotFound(err) {
				return notFound("cash register", p.CashRegisterId)
			}
			return err
		}

		charged = decimal.Zero
		for _, inst := range p.Installments {
			if !inst.IsPaid && inst.Amount.IsPositive() {
				charged = charged.Add(inst.Amount)
			}
		}
		if !charged.IsPositive() {
			return invalidState("plan %d has nothing left to charge", p.ID)
		}
		return e.settleWholePlan(ctx, tx, p, []portion{{models.PaymentMethodCreditCard, charged}}, p.IsInvoiced)
	})
	if err != nil {
		e.logFailure("ProcessPendingCreditCardPayment", planId, err)
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"field":   "billing",
		"plan_id": plan.ID,
		"amount":  charged.String(),
	}).Info("pending card charge processed")
	e.record(ctx, plan, audit.ActionCardCharge,
		fmt.Sprintf("Scheduled card charge of %s settled", charged.StringFixed(2)))
	return plan, nil
}
