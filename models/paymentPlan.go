package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentPlan is the billing schedule of one enrollment.
type PaymentPlan struct {
	ID                  int                 `gorm:"primary_key" json:"id"`
	StudentId           int                 `gorm:"index;not null" json:"student_id"`
	CourseId            int                 `gorm:"index" json:"course_id"`
	SeasonId            int                 `gorm:"index" json:"season_id"`
	InstitutionId       int                 `gorm:"index" json:"institution_id"`
	CashRegisterId      int                 `json:"cash_register_id"`
	PaymentType         PaymentType         `gorm:"size:20;not null" json:"payment_type"`
	TotalAmount         decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	DiscountType        DiscountType        `gorm:"size:20" json:"discount_type"`
	DiscountValue       decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"discount_value"`
	DiscountedAmount    decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"discounted_amount"`
	PaidAmount          decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	RemainingAmount     decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"remaining_amount"`
	IsCompleted         bool                `gorm:"not null;default:false" json:"is_completed"`
	CommissionRate      *decimal.Decimal    `gorm:"type:decimal(10,4)" json:"commission_rate"`
	VatRate             *decimal.Decimal    `gorm:"type:decimal(10,4)" json:"vat_rate"`
	IsInvoiced          bool                `gorm:"not null;default:false" json:"is_invoiced"`
	CardChargeDate      *time.Time          `json:"card_charge_date"`
	IsPendingCardCharge bool                `gorm:"index;not null;default:false" json:"is_pending_card_charge"`
	Installments        []Installment       `gorm:"foreignKey:PlanId" json:"installments"`
	Amendments          []ScheduleAmendment `gorm:"foreignKey:PlanId" json:"amendments"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// Installment is one scheduled charge of a plan.
// Amount may be rewritten by overpayment redistribution; BaseAmount keeps the contracted value.
type Installment struct {
	ID             int              `gorm:"primary_key" json:"id"`
	PlanId         int              `gorm:"index:idx_plan_number,unique;not null" json:"plan_id"`
	Number         int              `gorm:"index:idx_plan_number,unique;not null" json:"number"`
	Amount         decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"amount"`
	BaseAmount     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"base_amount"`
	PaidAmount     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	IsPaid         bool             `gorm:"not null;default:false" json:"is_paid"`
	PaidDate       *time.Time       `json:"paid_date"`
	DueDate        *time.Time       `json:"due_date"`
	PaymentMethod  *PaymentMethod   `gorm:"size:20" json:"payment_method"`
	Commission     *decimal.Decimal `gorm:"type:decimal(20,4)" json:"commission"`
	CommissionRate *decimal.Decimal `gorm:"type:decimal(10,4)" json:"commission_rate"`
	Vat            *decimal.Decimal `gorm:"type:decimal(20,4)" json:"vat"`
	VatRate        *decimal.Decimal `gorm:"type:decimal(10,4)" json:"vat_rate"`
	// TermsPaymentId is set when the charge fields above were filled from that payment's
	// resolved terms rather than configured up front. Refunding the payment clears them.
	TermsPaymentId *int `json:"terms_payment_id,omitempty"`
	IsInvoiced     bool `gorm:"not null;default:false" json:"is_invoiced"`
}

// HasConfiguredTerms reports whether the installment carries commission or VAT terms of its own.
func (i Installment) HasConfiguredTerms() bool {
	return i.TermsPaymentId == nil && (i.Commission != nil || i.CommissionRate != nil || i.Vat != nil || i.VatRate != nil)
}

// StampTerms records the terms payment paymentId settled under, unless the installment has its own.
func (i *Installment) StampTerms(paymentId int, terms ResolvedChargeTerms, card, invoiced bool) {
	if i.HasConfiguredTerms() {
		return
	}
	i.Commission, i.CommissionRate, i.Vat, i.VatRate = nil, nil, nil, nil
	if card {
		rate, amount := terms.CommissionRate, terms.CommissionAmount
		i.CommissionRate, i.Commission = &rate, &amount
	}
	if invoiced {
		rate, amount := terms.VatRate, terms.VatAmount
		i.VatRate, i.Vat = &rate, &amount
	}
	id := paymentId
	i.TermsPaymentId = &id
}

// ClearStampedTerms drops terms stamped from paymentId. Configured terms are left alone.
func (i *Installment) ClearStampedTerms(paymentId int) {
	if i.TermsPaymentId == nil || *i.TermsPaymentId != paymentId {
		return
	}
	i.Commission, i.CommissionRate, i.Vat, i.VatRate = nil, nil, nil, nil
	i.TermsPaymentId = nil
}

func (Installment) TableName() string {
	return "plan_installments"
}

// ScheduleAmendment records one overpayment-driven rewrite of an installment amount.
// Rows are append-only so the original schedule can always be reconstructed.
type ScheduleAmendment struct {
	ID                      int                 `gorm:"primary_key" json:"id"`
	PlanId                  int                 `gorm:"index;not null" json:"plan_id"`
	InstallmentNumber       int                 `gorm:"not null" json:"installment_number"`
	PreviousAmount          decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"previous_amount"`
	NewAmount               decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"new_amount"`
	SourceInstallmentNumber int                 `json:"source_installment_number"`
	SourcePaymentId         int                 `gorm:"index" json:"source_payment_id"`
	Mode                    OverpaymentHandling `gorm:"size:20" json:"mode"`
	CreatedAt               time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

// InstallmentByNumber returns a pointer into plan.Installments so callers can mutate in place.
func (p *PaymentPlan) InstallmentByNumber(number int) *Installment {
	for i := range p.Installments {
		if p.Installments[i].Number == number {
			return &p.Installments[i]
		}
	}
	return nil
}

// SortInstallments orders the schedule by installment number.
func (p *PaymentPlan) SortInstallments() {
	sort.SliceStable(p.Installments, func(i, j int) bool {
		return p.Installments[i].Number < p.Installments[j].Number
	})
}

// UnpaidInstallments returns the unpaid installments other than exclude, lowest number first.
func (p *PaymentPlan) UnpaidInstallments(exclude int) []*Installment {
	var out []*Installment
	for i := range p.Installments {
		inst := &p.Installments[i]
		if inst.IsPaid || inst.Number == exclude {
			continue
		}
		out = append(out, inst)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// PaidInstallmentsTotal is the sum of paidAmount over paid installments.
func (p *PaymentPlan) PaidInstallmentsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range p.Installments {
		if inst.IsPaid {
			total = total.Add(inst.PaidAmount)
		}
	}
	return total
}

func (p *PaymentPlan) RefreshRemaining() {
	p.RemainingAmount = p.DiscountedAmount.Sub(p.PaidAmount)
}

// SweepCompletion marks the plan completed once every installment is paid or has nothing left to pay.
// Zero-amount leftovers are flipped to paid so they do not dangle.
func (p *PaymentPlan) SweepCompletion(now time.Time) bool {
	if len(p.Installments) == 0 {
		return false
	}
	for _, inst := range p.Installments {
		if !inst.IsPaid && inst.Amount.IsPositive() {
			return false
		}
	}
	for i := range p.Installments {
		inst := &p.Installments[i]
		if !inst.IsPaid {
			inst.IsPaid = true
			inst.PaidAmount = decimal.Zero
			paidAt := now
			inst.PaidDate = &paidAt
		}
	}
	p.IsCompleted = true
	return true
}

// EffectiveMethod resolves the collection method of an installment from the override,
// the installment and the plan, in that order.
func (p *PaymentPlan) EffectiveMethod(inst *Installment, override *PaymentMethod) PaymentMethod {
	if override != nil && *override == PaymentMethodCreditCard {
		return PaymentMethodCreditCard
	}
	if inst != nil && inst.PaymentMethod != nil && *inst.PaymentMethod == PaymentMethodCreditCard {
		return PaymentMethodCreditCard
	}
	if p.PaymentType == PaymentTypeCreditCard {
		return PaymentMethodCreditCard
	}
	return PaymentMethodCash
}
