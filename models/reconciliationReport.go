package models

import "time"

const (
	CheckTypePaymentInstallmentSync = "PAYMENT_INSTALLMENT_SYNC"
	CheckTypeInstallmentRepair      = "INSTALLMENT_REPAIR"
)

// ReconciliationReport is one row of drift output written by the repair pass.
type ReconciliationReport struct {
	ID            int       `gorm:"primary_key" json:"id"`
	InstitutionId int       `gorm:"index" json:"institution_id"`
	CheckType     string    `gorm:"size:50;index;not null" json:"check_type"`  // e.g. INSTALLMENT_REPAIR
	EntityType    string    `gorm:"size:50;index;not null" json:"entity_type"` // e.g. PaymentPlan
	EntityId      int       `gorm:"index;not null" json:"entity_id"`
	Details       string    `gorm:"type:text" json:"details"` // human-readable change summary
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
