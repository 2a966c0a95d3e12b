package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/money"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type CreatePlanInput struct {
	StudentId      int                `json:"student_id" validate:"required,gt=0"`
	CourseId       int                `json:"course_id" validate:"gte=0"`
	SeasonId       int                `json:"season_id" validate:"gte=0"`
	InstitutionId  int                `json:"institution_id" validate:"gte=0"`
	CashRegisterId int                `json:"cash_register_id" validate:"required,gt=0"`
	PaymentType    models.PaymentType `json:"payment_type" validate:"required,oneof=cashFull cashInstallment creditCard mixed"`

	// TotalAmount is the list price. When nil the enrollment lookup is asked for it.
	TotalAmount   *decimal.Decimal    `json:"total_amount"`
	DiscountType  models.DiscountType `json:"discount_type" validate:"omitempty,oneof=none percentage fixed scholarship"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	// DiscountedAmount overrides the amount derived from the discount.
	DiscountedAmount *decimal.Decimal `json:"discounted_amount"`

	InstallmentCount int                    `json:"installment_count" validate:"gte=0,lte=120"`
	FirstDueDate     *time.Time             `json:"first_due_date"`
	Recurrence       string                 `json:"recurrence"`
	Schedule         []ScheduledInstallment `json:"schedule"`

	SettleToday bool `json:"settle_today"`
	// CardAmount and CashAmount split a mixed settlement; one may be omitted.
	CardAmount *decimal.Decimal `json:"card_amount"`
	CashAmount *decimal.Decimal `json:"cash_amount"`

	CommissionRate *decimal.Decimal `json:"commission_rate"`
	VatRate        *decimal.Decimal `json:"vat_rate"`
	IsInvoiced     bool             `json:"is_invoiced"`
	CardChargeDate *time.Time       `json:"card_charge_date"`
}

// CreatePlan books a new payment plan and the student's debt, and settles it on the spot
// for same-day card or mixed payments.
func (e *Engine) CreatePlan(ctx context.Context, input CreatePlanInput) (plan *models.PaymentPlan, err error) {
	ctx, span := e.startSpan(ctx, "CreatePlan", 0)
	defer func() { endSpan(span, err) }()

	if err := e.validate.StructCtx(ctx, input); err != nil {
		return nil, fromValidator(err)
	}

	total, err := e.listPrice(ctx, input)
	if err != nil {
		return nil, err
	}
	discounted, err := discountedAmount(total, input)
	if err != nil {
		return nil, err
	}
	if err := validateRates(input); err != nil {
		return nil, err
	}

	now := e.now()
	plan = &models.PaymentPlan{
		StudentId:        input.StudentId,
		CourseId:         input.CourseId,
		SeasonId:         input.SeasonId,
		InstitutionId:    input.InstitutionId,
		CashRegisterId:   input.CashRegisterId,
		PaymentType:      input.PaymentType,
		TotalAmount:      total,
		DiscountType:     input.DiscountType,
		DiscountValue:    input.DiscountValue,
		DiscountedAmount: discounted,
		CommissionRate:   input.CommissionRate,
		VatRate:          input.VatRate,
		IsInvoiced:       input.IsInvoiced,
	}
	if plan.DiscountType == "" {
		plan.DiscountType = models.DiscountTypeNone
	}

	free := discounted.IsZero() || input.DiscountType == models.DiscountTypeScholarship
	var cardPortion, cashPortion decimal.Decimal
	settleNow := !free && input.SettleToday &&
		(input.PaymentType == models.PaymentTypeCreditCard || input.PaymentType == models.PaymentTypeMixed)

	if free {
		paidAt := now
		plan.DiscountedAmount = decimal.Zero
		plan.Installments = []models.Installment{{
			Number:   1,
			IsPaid:   true,
			PaidDate: &paidAt,
		}}
		plan.IsCompleted = true
	} else {
		first := now
		if input.FirstDueDate != nil {
			first = input.FirstDueDate.UTC()
		}
		count := input.InstallmentCount
		if input.PaymentType == models.PaymentTypeCashFull {
			if len(input.Schedule) > 1 || count > 1 {
				return nil, invalid("installmentCount", "cashFull plans have a single installment")
			}
			count = 1
		}
		plan.Installments, err = buildInstallments(discounted, count, first, input.Recurrence, input.Schedule)
		if err != nil {
			return nil, err
		}
		if settleNow {
			cardPortion, cashPortion, err = splitSettlement(discounted, input)
			if err != nil {
				return nil, err
			}
		} else if input.PaymentType == models.PaymentTypeCreditCard && input.CardChargeDate != nil {
			chargeAt := input.CardChargeDate.UTC()
			plan.CardChargeDate = &chargeAt
			plan.IsPendingCardCharge = true
		}
	}
	plan.RefreshRemaining()

	err = e.store.Transaction(ctx, func(tx store.Store) error {
		if _, err := tx.GetStudent(ctx, input.StudentId); err != nil {
			if store.IsNotFound(err) {
				return notFound("student", input.StudentId)
			}
			return err
		}
		if _, err := tx.GetCashRegister(ctx, input.CashRegisterId); err != nil {
			if store.IsNotFound(err) {
				return notFound("cash register", input.CashRegisterId)
			}
			return err
		}

		if err := tx.CreatePlan(ctx, plan); err != nil {
			return err
		}
		if free {
			return nil
		}
		if err := tx.AdjustStudentBalance(ctx, plan.StudentId, discounted); err != nil {
			return err
		}
		if settleNow {
			return e.settleWholePlan(ctx, tx, plan, []portion{
				{models.PaymentMethodCreditCard, cardPortion},
				{models.PaymentMethodCash, cashPortion},
			}, plan.IsInvoiced)
		}
		return nil
	})
	if err = classify(err); err != nil {
		e.logFailure("CreatePlan", input, err)
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"field":      "billing",
		"plan_id":    plan.ID,
		"student_id": plan.StudentId,
		"amount":     plan.DiscountedAmount.String(),
		"completed":  plan.IsCompleted,
	}).Info("payment plan created")
	e.record(ctx, plan, audit.ActionCreate,
		fmt.Sprintf("Payment plan created for student %d: %s over %d installment(s)", plan.StudentId, plan.DiscountedAmount.StringFixed(2), len(plan.Installments)))
	return plan, nil
}

type portion struct {
	method models.PaymentMethod
	amount decimal.Decimal
}

// settleWholePlan pays every unpaid installment of plan with the given portions, one payment each.
// Payments are plan-level: they carry no installment number.
func (e *Engine) settleWholePlan(ctx context.Context, tx store.Store, plan *models.PaymentPlan, portions []portion, invoiced bool) error {
	total := decimal.Zero
	var (
		lead    *models.Payment
		allCard = true
	)
	for _, p := range portions {
		if !p.amount.IsPositive() {
			continue
		}
		payment, err := e.newPayment(ctx, plan, nil, p.amount, p.method, plan.CashRegisterId, invoiced)
		if err != nil {
			return err
		}
		if err := settle(ctx, tx, plan, payment); err != nil {
			return err
		}
		total = total.Add(payment.Amount)
		if lead == nil || payment.PaymentType == models.PaymentMethodCreditCard {
			lead = payment
		}
		allCard = allCard && payment.PaymentType == models.PaymentMethodCreditCard
	}

	paidAt := e.now()
	for i := range plan.Installments {
		inst := &plan.Installments[i]
		if inst.IsPaid {
			continue
		}
		inst.IsPaid = true
		inst.PaidAmount = inst.Amount
		inst.PaidDate = &paidAt
		inst.IsInvoiced = invoiced
		if lead != nil {
			// each installment carries its share of the plan-level charges
			inst.StampTerms(lead.ID, models.ResolvedChargeTerms{
				CommissionRate:   lead.ChargeTerms.CommissionRate,
				CommissionAmount: money.Percent(inst.Amount, lead.ChargeTerms.CommissionRate),
				VatRate:          lead.ChargeTerms.VatRate,
				VatAmount:        money.Percent(inst.Amount, lead.ChargeTerms.VatRate),
			}, allCard, invoiced)
		}
	}
	plan.PaidAmount = plan.PaidAmount.Add(total)
	plan.RefreshRemaining()
	plan.IsPendingCardCharge = false
	plan.SweepCompletion(paidAt)
	return tx.SavePlan(ctx, plan)
}

func (e *Engine) listPrice(ctx context.Context, input CreatePlanInput) (decimal.Decimal, error) {
	if input.TotalAmount != nil {
		if input.TotalAmount.IsNegative() {
			return decimal.Zero, invalid("totalAmount", "must not be negative")
		}
		return money.Round2(*input.TotalAmount), nil
	}
	if input.DiscountedAmount != nil {
		return money.Round2(*input.DiscountedAmount), nil
	}
	if e.enrollments == nil {
		return decimal.Zero, invalid("totalAmount", "required when no enrollment pricing is available")
	}
	quote, err := e.enrollments.Quote(ctx, input.StudentId, input.CourseId, input.SeasonId)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	discounting := input.DiscountType == models.DiscountTypePercentage || input.DiscountType == models.DiscountTypeFixed ||
		input.DiscountType == models.DiscountTypeScholarship
	if discounting && !quote.DiscountEligible {
		return decimal.Zero, invalid("discountType", "enrollment is not eligible for a discount")
	}
	if quote.Price.IsNegative() {
		return decimal.Zero, invalid("totalAmount", "enrollment price is negative")
	}
	return money.Round2(quote.Price), nil
}

func discountedAmount(total decimal.Decimal, input CreatePlanInput) (decimal.Decimal, error) {
	if input.DiscountType == models.DiscountTypeScholarship {
		return decimal.Zero, nil
	}
	if input.DiscountedAmount != nil {
		d := money.Round2(*input.DiscountedAmount)
		if d.IsNegative() || d.GreaterThan(total) {
			return decimal.Zero, invalid("discountedAmount", "must be between 0 and the total amount")
		}
		return d, nil
	}
	switch input.DiscountType {
	case models.DiscountTypePercentage:
		if input.DiscountValue.IsNegative() || input.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return decimal.Zero, invalid("discountValue", "percentage must be between 0 and 100")
		}
		return money.Round2(total.Sub(money.Percent(total, input.DiscountValue))), nil
	case models.DiscountTypeFixed:
		if input.DiscountValue.IsNegative() || input.DiscountValue.GreaterThan(total) {
			return decimal.Zero, invalid("discountValue", "fixed discount must be between 0 and the total amount")
		}
		return money.Round2(total.Sub(input.DiscountValue)), nil
	default:
		return total, nil
	}
}

func validateRates(input CreatePlanInput) error {
	for field, rate := range map[string]*decimal.Decimal{"commissionRate": input.CommissionRate, "vatRate": input.VatRate} {
		if rate != nil && (rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100))) {
			return invalid(field, "must be between 0 and 100")
		}
	}
	return nil
}

// splitSettlement returns the card and cash portions of a same-day settlement.
func splitSettlement(discounted decimal.Decimal, input CreatePlanInput) (card, cash decimal.Decimal, err error) {
	if input.PaymentType == models.PaymentTypeCreditCard {
		return discounted, decimal.Zero, nil
	}
	switch {
	case input.CardAmount != nil && input.CashAmount != nil:
		card, cash = money.Round2(*input.CardAmount), money.Round2(*input.CashAmount)
	case input.CardAmount != nil:
		card = money.Round2(*input.CardAmount)
		cash = discounted.Sub(card)
	case input.CashAmount != nil:
		cash = money.Round2(*input.CashAmount)
		card = discounted.Sub(cash)
	default:
		return card, cash, invalid("cardAmount", "mixed settlement needs a card or cash amount")
	}
	if card.IsNegative() || cash.IsNegative() {
		return card, cash, invalid("cardAmount", "portions must not be negative")
	}
	if !card.Add(cash).Equal(discounted) {
		return card, cash, invalid("cardAmount", fmt.Sprintf("card and cash portions must sum to %s", discounted))
	}
	return card, cash, nil
}
