package billing

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/money"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
)

// resolveChargeTerms fixes commission and VAT for a payment of amount.
// Installment-level values win over plan-level rates, which win over settings.
// inst is nil for plan-level settlements.
func (e *Engine) resolveChargeTerms(ctx context.Context, plan *models.PaymentPlan, inst *models.Installment, amount decimal.Decimal, card, invoiced bool) (models.ResolvedChargeTerms, error) {
	var terms models.ResolvedChargeTerms

	if card {
		rate, fixed, ok, err := e.commissionSource(ctx, plan, inst)
		if err != nil {
			return terms, err
		}
		if ok {
			terms.CommissionRate = rate
			if fixed != nil {
				terms.CommissionAmount = money.Round2(*fixed)
			} else {
				terms.CommissionAmount = money.Percent(amount, rate)
			}
		}
	}

	if invoiced {
		rate, fixed, err := e.vatSource(ctx, plan, inst)
		if err != nil {
			return terms, err
		}
		terms.VatRate = rate
		if fixed != nil {
			terms.VatAmount = money.Round2(*fixed)
		} else {
			terms.VatAmount = money.Percent(amount, rate)
		}
	}
	return terms, nil
}

func (e *Engine) commissionSource(ctx context.Context, plan *models.PaymentPlan, inst *models.Installment) (rate decimal.Decimal, fixed *decimal.Decimal, ok bool, err error) {
	if inst != nil && inst.Commission != nil && inst.Commission.IsPositive() {
		if inst.CommissionRate != nil {
			rate = *inst.CommissionRate
		}
		return rate, inst.Commission, true, nil
	}
	if inst != nil && inst.CommissionRate != nil {
		return *inst.CommissionRate, nil, true, nil
	}
	if plan.CommissionRate != nil {
		return *plan.CommissionRate, nil, true, nil
	}
	rate, ok, err = e.settings.CommissionRate(ctx, len(plan.Installments))
	return rate, nil, ok, err
}

func (e *Engine) vatSource(ctx context.Context, plan *models.PaymentPlan, inst *models.Installment) (rate decimal.Decimal, fixed *decimal.Decimal, err error) {
	if inst != nil && inst.Vat != nil && inst.Vat.IsPositive() {
		if inst.VatRate != nil {
			rate = *inst.VatRate
		}
		return rate, inst.Vat, nil
	}
	if inst != nil && inst.VatRate != nil {
		return *inst.VatRate, nil, nil
	}
	if plan.VatRate != nil {
		return *plan.VatRate, nil, nil
	}
	rate, err = e.settings.VATRate(ctx)
	return rate, nil, err
}

// bookCharges creates the commission and VAT expenses a payment carries and takes them out of its register.
func bookCharges(ctx context.Context, tx store.Store, plan *models.PaymentPlan, p *models.Payment) error {
	charges := []struct {
		category models.ExpenseCategory
		amount   decimal.Decimal
		desc     string
	}{
		{models.ExpenseCategoryCommission, p.ChargeTerms.CommissionAmount,
			fmt.Sprintf("Card commission %s%% on payment %d", p.ChargeTerms.CommissionRate.String(), p.ID)},
		{models.ExpenseCategoryVat, p.ChargeTerms.VatAmount,
			fmt.Sprintf("VAT %s%% on payment %d", p.ChargeTerms.VatRate.String(), p.ID)},
	}
	for _, c := range charges {
		if !c.amount.IsPositive() {
			continue
		}
		expense := &models.AuxiliaryExpense{
			Category:         c.category,
			Amount:           c.amount,
			CashRegisterId:   p.CashRegisterId,
			RelatedPaymentId: p.ID,
			PlanId:           intPtr(plan.ID),
			IsAutoGenerated:  true,
			Description:      c.desc,
		}
		if err := tx.CreateExpense(ctx, expense); err != nil {
			return err
		}
		if err := tx.AdjustCashRegisterBalance(ctx, p.CashRegisterId, c.amount.Neg()); err != nil {
			return err
		}
	}
	return nil
}

// newPayment builds a completed payment with its charge terms resolved.
func (e *Engine) newPayment(ctx context.Context, plan *models.PaymentPlan, inst *models.Installment, amount decimal.Decimal, method models.PaymentMethod, registerId int, invoiced bool) (*models.Payment, error) {
	terms, err := e.resolveChargeTerms(ctx, plan, inst, amount, method == models.PaymentMethodCreditCard, invoiced)
	if err != nil {
		return nil, err
	}
	p := &models.Payment{
		PlanId:         intPtr(plan.ID),
		StudentId:      plan.StudentId,
		CashRegisterId: registerId,
		Amount:         money.Round2(amount),
		PaymentType:    method,
		Status:         models.PaymentStatusCompleted,
		ChargeTerms:    terms,
		PaymentDate:    e.now(),
	}
	if inst != nil {
		p.InstallmentNumber = intPtr(inst.Number)
	}
	return p, nil
}

// settle records payment p against plan: the payment row, the register and student movement, and its charges.
func settle(ctx context.Context, tx store.Store, plan *models.PaymentPlan, p *models.Payment) error {
	if err := tx.CreatePayment(ctx, p); err != nil {
		return err
	}
	if err := adjustBalances(ctx, tx, plan.StudentId, p.Amount.Neg(), p.CashRegisterId, p.Amount); err != nil {
		return err
	}
	return bookCharges(ctx, tx, plan, p)
}
