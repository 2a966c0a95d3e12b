// Package gormstore is the MySQL-backed Store.
// Balances move through atomic "balance = balance + ?" updates; plans are row-locked inside transactions.
package gormstore

import (
	"context"
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db   *gorm.DB
	inTx bool
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the ledger tables.
func (s *Store) Migrate() error {
	return models.MigrateTable(s.db)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	case isDuplicateKeyErr(err):
		return fmt.Errorf("%s: %w", what, store.ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, inTx: true})
	})
}

func (s *Store) CreateStudent(ctx context.Context, student *models.Student) error {
	return translate(s.db.WithContext(ctx).Create(student).Error, "create student")
}

func (s *Store) GetStudent(ctx context.Context, id int) (*models.Student, error) {
	var student models.Student
	if err := s.db.WithContext(ctx).First(&student, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("student %d", id))
	}
	return &student, nil
}

func (s *Store) AdjustStudentBalance(ctx context.Context, id int, delta decimal.Decimal) error {
	return s.increment(ctx, &models.Student{}, id, delta, "student")
}

func (s *Store) CreateCashRegister(ctx context.Context, register *models.CashRegister) error {
	return translate(s.db.WithContext(ctx).Create(register).Error, "create cash register")
}

func (s *Store) GetCashRegister(ctx context.Context, id int) (*models.CashRegister, error) {
	var register models.CashRegister
	if err := s.db.WithContext(ctx).First(&register, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("cash register %d", id))
	}
	return &register, nil
}

func (s *Store) AdjustCashRegisterBalance(ctx context.Context, id int, delta decimal.Decimal) error {
	return s.increment(ctx, &models.CashRegister{}, id, delta, "cash register")
}

// increment never reads the balance back, so concurrent writers cannot lose updates.
func (s *Store) increment(ctx context.Context, model interface{}, id int, delta decimal.Decimal, what string) error {
	if delta.IsZero() {
		var count int64
		if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			return translate(err, what)
		}
		if count == 0 {
			return fmt.Errorf("%s %d: %w", what, id, store.ErrNotFound)
		}
		return nil
	}
	result := s.db.WithContext(ctx).Model(model).Where("id = ?", id).
		Update("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return translate(result.Error, what)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", what, id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CreatePlan(ctx context.Context, plan *models.PaymentPlan) error {
	return translate(s.db.WithContext(ctx).Create(plan).Error, "create payment plan")
}

func (s *Store) planQuery(ctx context.Context) *gorm.DB {
	q := s.db.WithContext(ctx).
		Preload("Installments", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("Amendments", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
	return q
}

func (s *Store) GetPlan(ctx context.Context, id int) (*models.PaymentPlan, error) {
	q := s.planQuery(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var plan models.PaymentPlan
	if err := q.First(&plan, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("payment plan %d", id))
	}
	return &plan, nil
}

func (s *Store) ListPlans(ctx context.Context, filter store.PlanFilter) ([]*models.PaymentPlan, error) {
	q := s.planQuery(ctx)
	if filter.StudentId != 0 {
		q = q.Where("student_id = ?", filter.StudentId)
	}
	if filter.PendingCardChargeDue != nil {
		q = q.Where("is_pending_card_charge = ? AND card_charge_date IS NOT NULL AND card_charge_date <= ?", true, *filter.PendingCardChargeDue)
	}
	var plans []*models.PaymentPlan
	if err := q.Order("id ASC").Find(&plans).Error; err != nil {
		return nil, translate(err, "list payment plans")
	}
	return plans, nil
}

func (s *Store) SavePlan(ctx context.Context, plan *models.PaymentPlan) error {
	db := s.db.WithContext(ctx)
	result := db.Model(plan).Select("*").Omit(clause.Associations, "CreatedAt").Updates(plan)
	if result.Error != nil {
		return translate(result.Error, "save payment plan")
	}
	for i := range plan.Installments {
		inst := &plan.Installments[i]
		inst.PlanId = plan.ID
		if err := db.Save(inst).Error; err != nil {
			return translate(err, fmt.Sprintf("save installment %d", inst.Number))
		}
	}
	for i := range plan.Amendments {
		am := &plan.Amendments[i]
		if am.ID != 0 {
			continue
		}
		am.PlanId = plan.ID
		if err := db.Create(am).Error; err != nil {
			return translate(err, "create schedule amendment")
		}
	}
	return nil
}

func (s *Store) DeletePlan(ctx context.Context, id int) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("plan_id = ?", id).Delete(&models.Installment{}).Error; err != nil {
		return translate(err, "delete installments")
	}
	if err := db.Where("plan_id = ?", id).Delete(&models.ScheduleAmendment{}).Error; err != nil {
		return translate(err, "delete schedule amendments")
	}
	result := db.Delete(&models.PaymentPlan{}, id)
	if result.Error != nil {
		return translate(result.Error, "delete payment plan")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payment plan %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return translate(s.db.WithContext(ctx).Create(payment).Error, "create payment")
}

func (s *Store) GetPayment(ctx context.Context, id int) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("payment %d", id))
	}
	return &payment, nil
}

func (s *Store) FindPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&payment).Error; err != nil {
		return nil, translate(err, "payment by idempotency key")
	}
	return &payment, nil
}

func (s *Store) ListPaymentsByPlan(ctx context.Context, planId int) ([]*models.Payment, error) {
	var payments []*models.Payment
	if err := s.db.WithContext(ctx).Where("plan_id = ?", planId).Order("id ASC").Find(&payments).Error; err != nil {
		return nil, translate(err, "list payments")
	}
	return payments, nil
}

func (s *Store) ListPlanPayments(ctx context.Context) ([]*models.Payment, error) {
	var payments []*models.Payment
	if err := s.db.WithContext(ctx).Where("plan_id IS NOT NULL").Order("id ASC").Find(&payments).Error; err != nil {
		return nil, translate(err, "list plan payments")
	}
	return payments, nil
}

func (s *Store) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	result := s.db.WithContext(ctx).Model(payment).Select("*").Omit("CreatedAt").Updates(payment)
	if result.Error != nil {
		return translate(result.Error, "update payment")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payment %d: %w", payment.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeletePayment(ctx context.Context, id int) error {
	result := s.db.WithContext(ctx).Delete(&models.Payment{}, id)
	if result.Error != nil {
		return translate(result.Error, "delete payment")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payment %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateExpense(ctx context.Context, expense *models.AuxiliaryExpense) error {
	return translate(s.db.WithContext(ctx).Create(expense).Error, "create expense")
}

func (s *Store) ListExpensesByPayment(ctx context.Context, paymentId int) ([]*models.AuxiliaryExpense, error) {
	var expenses []*models.AuxiliaryExpense
	if err := s.db.WithContext(ctx).Where("related_payment_id = ?", paymentId).Order("id ASC").Find(&expenses).Error; err != nil {
		return nil, translate(err, "list expenses")
	}
	return expenses, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id int) error {
	result := s.db.WithContext(ctx).Delete(&models.AuxiliaryExpense{}, id)
	if result.Error != nil {
		return translate(result.Error, "delete expense")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("expense %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateReconciliationReport(ctx context.Context, report *models.ReconciliationReport) error {
	return translate(s.db.WithContext(ctx).Create(report).Error, "create reconciliation report")
}
