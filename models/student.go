package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Student carries the outstanding debt of one learner.
// Positive balance means the student owes money, negative means credit.
type Student struct {
	ID            int             `gorm:"primary_key" json:"id"`
	InstitutionId int             `gorm:"index" json:"institution_id"`
	Name          string          `gorm:"size:255;not null" json:"name"`
	Balance       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CashRegister is money physically held by the institution.
// Its balance is only ever moved by increments.
type CashRegister struct {
	ID            int             `gorm:"primary_key" json:"id"`
	InstitutionId int             `gorm:"index" json:"institution_id"`
	Name          string          `gorm:"size:100;not null" json:"name"`
	Balance       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
