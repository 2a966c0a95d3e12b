// Package store is the persistence boundary of the ledger.
// Every multi-entity mutation goes through Transaction so it applies or reverts as a unit.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// PlanFilter narrows ListPlans. Zero value lists every plan.
type PlanFilter struct {
	StudentId int
	// PendingCardChargeDue selects credit-card plans awaiting a charge whose date is at or before the value.
	PendingCardChargeDue *time.Time
}

type Store interface {
	// Transaction runs fn against a transactional view of the store.
	// Returning an error from fn discards every write fn made.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	CreateStudent(ctx context.Context, student *models.Student) error
	GetStudent(ctx context.Context, id int) (*models.Student, error)
	AdjustStudentBalance(ctx context.Context, id int, delta decimal.Decimal) error

	CreateCashRegister(ctx context.Context, register *models.CashRegister) error
	GetCashRegister(ctx context.Context, id int) (*models.CashRegister, error)
	AdjustCashRegisterBalance(ctx context.Context, id int, delta decimal.Decimal) error

	// CreatePlan persists the plan with its installments.
	CreatePlan(ctx context.Context, plan *models.PaymentPlan) error
	// GetPlan loads the plan with installments and amendments. Inside a transaction the plan row is locked.
	GetPlan(ctx context.Context, id int) (*models.PaymentPlan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]*models.PaymentPlan, error)
	// SavePlan writes the plan, its installments and any amendment with a zero ID.
	SavePlan(ctx context.Context, plan *models.PaymentPlan) error
	DeletePlan(ctx context.Context, id int) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id int) (*models.Payment, error)
	FindPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	ListPaymentsByPlan(ctx context.Context, planId int) ([]*models.Payment, error)
	// ListPlanPayments returns every payment linked to some plan.
	ListPlanPayments(ctx context.Context) ([]*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	DeletePayment(ctx context.Context, id int) error

	CreateExpense(ctx context.Context, expense *models.AuxiliaryExpense) error
	ListExpensesByPayment(ctx context.Context, paymentId int) ([]*models.AuxiliaryExpense, error)
	DeleteExpense(ctx context.Context, id int) error

	CreateReconciliationReport(ctx context.Context, report *models.ReconciliationReport) error
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
