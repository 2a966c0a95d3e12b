package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates every table the ledger owns.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Student{}, &CashRegister{},
		&PaymentPlan{}, &Installment{}, &ScheduleAmendment{},
		&Payment{}, &AuxiliaryExpense{},
		&ActivityLog{}, &ReconciliationReport{},
	)
}
