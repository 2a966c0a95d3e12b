package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResolvedChargeTerms are the commission and VAT figures decided at settlement time.
// They are stored on the Payment and never re-derived afterwards.
type ResolvedChargeTerms struct {
	CommissionRate   decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"commission_rate"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"commission_amount"`
	VatRate          decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"vat_rate"`
	VatAmount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"vat_amount"`
}

// Payment is the append-only movement log. Only the refund fields change after creation.
type Payment struct {
	ID                int                 `gorm:"primary_key" json:"id"`
	PlanId            *int                `gorm:"index" json:"plan_id"`
	StudentId         int                 `gorm:"index;not null" json:"student_id"`
	CashRegisterId    int                 `gorm:"index;not null" json:"cash_register_id"`
	Amount            decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"amount"`
	InstallmentNumber *int                `json:"installment_number"`
	PaymentType       PaymentMethod       `gorm:"size:20;not null" json:"payment_type"`
	Status            PaymentStatus       `gorm:"size:20;not null" json:"status"`
	IsRefunded        bool                `gorm:"not null;default:false" json:"is_refunded"`
	RefundAmount      decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"refund_amount"`
	RefundDate        *time.Time          `json:"refund_date"`
	RefundReason      string              `gorm:"size:255" json:"refund_reason"`
	IdempotencyKey    *string             `gorm:"size:100;uniqueIndex" json:"idempotency_key,omitempty"`
	ChargeTerms       ResolvedChargeTerms `gorm:"embedded;embeddedPrefix:charge_" json:"charge_terms"`
	PaymentDate       time.Time           `gorm:"not null" json:"payment_date"`
	CreatedAt         time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// Counts reports whether the payment still contributes to its plan's paid total.
func (p Payment) Counts() bool {
	return !p.IsRefunded && p.Status != PaymentStatusRefunded
}

// AuxiliaryExpense is a system-generated entry tied to a payment: commission, VAT or refund audit.
type AuxiliaryExpense struct {
	ID               int             `gorm:"primary_key" json:"id"`
	Category         ExpenseCategory `gorm:"size:20;not null" json:"category"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	CashRegisterId   int             `gorm:"index;not null" json:"cash_register_id"`
	RelatedPaymentId int             `gorm:"index;not null" json:"related_payment_id"`
	PlanId           *int            `gorm:"index" json:"plan_id"`
	IsAutoGenerated  bool            `gorm:"not null" json:"is_auto_generated"`
	Description      string          `gorm:"size:255" json:"description"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
