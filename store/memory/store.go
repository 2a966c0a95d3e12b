// Package memory is an in-process Store used by tests and local runs.
// Transactions work on a deep copy of the data that replaces the live copy on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
)

type data struct {
	students  map[int]*models.Student
	registers map[int]*models.CashRegister
	plans     map[int]*models.PaymentPlan
	payments  map[int]*models.Payment
	expenses  map[int]*models.AuxiliaryExpense
	reports   []*models.ReconciliationReport
	seq       map[string]int
}

func newData() *data {
	return &data{
		students:  make(map[int]*models.Student),
		registers: make(map[int]*models.CashRegister),
		plans:     make(map[int]*models.PaymentPlan),
		payments:  make(map[int]*models.Payment),
		expenses:  make(map[int]*models.AuxiliaryExpense),
		seq:       make(map[string]int),
	}
}

func (d *data) next(kind string) int {
	d.seq[kind]++
	return d.seq[kind]
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.students {
		cp := *v
		c.students[k] = &cp
	}
	for k, v := range d.registers {
		cp := *v
		c.registers[k] = &cp
	}
	for k, v := range d.plans {
		c.plans[k] = clonePlan(v)
	}
	for k, v := range d.payments {
		cp := *v
		c.payments[k] = &cp
	}
	for k, v := range d.expenses {
		cp := *v
		c.expenses[k] = &cp
	}
	c.reports = append(c.reports, d.reports...)
	for k, v := range d.seq {
		c.seq[k] = v
	}
	return c
}

func clonePlan(p *models.PaymentPlan) *models.PaymentPlan {
	cp := *p
	cp.Installments = append([]models.Installment(nil), p.Installments...)
	cp.Amendments = append([]models.ScheduleAmendment(nil), p.Amendments...)
	return &cp
}

type Store struct {
	mu  sync.RWMutex
	d   *data
	tx  bool
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{d: newData(), now: time.Now}
}

func (s *Store) rlock() func() {
	if s.tx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if s.tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Transaction holds the write lock for its whole duration, so transactions are serialized.
func (s *Store) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	if s.tx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	txStore := &Store{d: s.d.clone(), tx: true, now: s.now}
	if err := fn(txStore); err != nil {
		return err
	}
	s.d = txStore.d
	return nil
}

func (s *Store) CreateStudent(_ context.Context, student *models.Student) error {
	defer s.lock()()
	if student.ID == 0 {
		student.ID = s.d.next("student")
	} else if _, exists := s.d.students[student.ID]; exists {
		return store.ErrDuplicate
	}
	now := s.now()
	student.CreatedAt, student.UpdatedAt = now, now
	cp := *student
	s.d.students[student.ID] = &cp
	return nil
}

func (s *Store) GetStudent(_ context.Context, id int) (*models.Student, error) {
	defer s.rlock()()
	v, ok := s.d.students[id]
	if !ok {
		return nil, fmt.Errorf("student %d: %w", id, store.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (s *Store) AdjustStudentBalance(_ context.Context, id int, delta decimal.Decimal) error {
	defer s.lock()()
	v, ok := s.d.students[id]
	if !ok {
		return fmt.Errorf("student %d: %w", id, store.ErrNotFound)
	}
	v.Balance = v.Balance.Add(delta)
	v.UpdatedAt = s.now()
	return nil
}

func (s *Store) CreateCashRegister(_ context.Context, register *models.CashRegister) error {
	defer s.lock()()
	if register.ID == 0 {
		register.ID = s.d.next("register")
	} else if _, exists := s.d.registers[register.ID]; exists {
		return store.ErrDuplicate
	}
	now := s.now()
	register.CreatedAt, register.UpdatedAt = now, now
	cp := *register
	s.d.registers[register.ID] = &cp
	return nil
}

func (s *Store) GetCashRegister(_ context.Context, id int) (*models.CashRegister, error) {
	defer s.rlock()()
	v, ok := s.d.registers[id]
	if !ok {
		return nil, fmt.Errorf("cash register %d: %w", id, store.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (s *Store) AdjustCashRegisterBalance(_ context.Context, id int, delta decimal.Decimal) error {
	defer s.lock()()
	v, ok := s.d.registers[id]
	if !ok {
		return fmt.Errorf("cash register %d: %w", id, store.ErrNotFound)
	}
	v.Balance = v.Balance.Add(delta)
	v.UpdatedAt = s.now()
	return nil
}

func (s *Store) CreatePlan(_ context.Context, plan *models.PaymentPlan) error {
	defer s.lock()()
	if plan.ID == 0 {
		plan.ID = s.d.next("plan")
	} else if _, exists := s.d.plans[plan.ID]; exists {
		return store.ErrDuplicate
	}
	now := s.now()
	plan.CreatedAt, plan.UpdatedAt = now, now
	s.assignChildIDs(plan)
	s.d.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (s *Store) assignChildIDs(plan *models.PaymentPlan) {
	for i := range plan.Installments {
		plan.Installments[i].PlanId = plan.ID
		if plan.Installments[i].ID == 0 {
			plan.Installments[i].ID = s.d.next("installment")
		}
	}
	for i := range plan.Amendments {
		plan.Amendments[i].PlanId = plan.ID
		if plan.Amendments[i].ID == 0 {
			plan.Amendments[i].ID = s.d.next("amendment")
			plan.Amendments[i].CreatedAt = s.now()
		}
	}
}

func (s *Store) GetPlan(_ context.Context, id int) (*models.PaymentPlan, error) {
	defer s.rlock()()
	v, ok := s.d.plans[id]
	if !ok {
		return nil, fmt.Errorf("payment plan %d: %w", id, store.ErrNotFound)
	}
	cp := clonePlan(v)
	cp.SortInstallments()
	return cp, nil
}

func (s *Store) ListPlans(_ context.Context, filter store.PlanFilter) ([]*models.PaymentPlan, error) {
	defer s.rlock()()
	out := make([]*models.PaymentPlan, 0, len(s.d.plans))
	for _, p := range s.d.plans {
		if filter.StudentId != 0 && p.StudentId != filter.StudentId {
			continue
		}
		if filter.PendingCardChargeDue != nil {
			if !p.IsPendingCardCharge || p.CardChargeDate == nil || p.CardChargeDate.After(*filter.PendingCardChargeDue) {
				continue
			}
		}
		cp := clonePlan(p)
		cp.SortInstallments()
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SavePlan(_ context.Context, plan *models.PaymentPlan) error {
	defer s.lock()()
	if _, ok := s.d.plans[plan.ID]; !ok {
		return fmt.Errorf("payment plan %d: %w", plan.ID, store.ErrNotFound)
	}
	plan.UpdatedAt = s.now()
	s.assignChildIDs(plan)
	s.d.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (s *Store) DeletePlan(_ context.Context, id int) error {
	defer s.lock()()
	if _, ok := s.d.plans[id]; !ok {
		return fmt.Errorf("payment plan %d: %w", id, store.ErrNotFound)
	}
	delete(s.d.plans, id)
	return nil
}

func (s *Store) CreatePayment(_ context.Context, payment *models.Payment) error {
	defer s.lock()()
	if payment.IdempotencyKey != nil && *payment.IdempotencyKey != "" {
		for _, p := range s.d.payments {
			if p.IdempotencyKey != nil && *p.IdempotencyKey == *payment.IdempotencyKey {
				return store.ErrDuplicate
			}
		}
	}
	payment.ID = s.d.next("payment")
	now := s.now()
	payment.CreatedAt, payment.UpdatedAt = now, now
	cp := *payment
	s.d.payments[payment.ID] = &cp
	return nil
}

func (s *Store) GetPayment(_ context.Context, id int) (*models.Payment, error) {
	defer s.rlock()()
	v, ok := s.d.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %d: %w", id, store.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (s *Store) FindPaymentByIdempotencyKey(_ context.Context, key string) (*models.Payment, error) {
	defer s.rlock()()
	for _, p := range s.d.payments {
		if p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment with idempotency key %q: %w", key, store.ErrNotFound)
}

func (s *Store) ListPaymentsByPlan(_ context.Context, planId int) ([]*models.Payment, error) {
	defer s.rlock()()
	return s.collectPayments(func(p *models.Payment) bool {
		return p.PlanId != nil && *p.PlanId == planId
	}), nil
}

func (s *Store) ListPlanPayments(_ context.Context) ([]*models.Payment, error) {
	defer s.rlock()()
	return s.collectPayments(func(p *models.Payment) bool { return p.PlanId != nil }), nil
}

func (s *Store) collectPayments(keep func(*models.Payment) bool) []*models.Payment {
	var out []*models.Payment
	for _, p := range s.d.payments {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) UpdatePayment(_ context.Context, payment *models.Payment) error {
	defer s.lock()()
	if _, ok := s.d.payments[payment.ID]; !ok {
		return fmt.Errorf("payment %d: %w", payment.ID, store.ErrNotFound)
	}
	payment.UpdatedAt = s.now()
	cp := *payment
	s.d.payments[payment.ID] = &cp
	return nil
}

func (s *Store) DeletePayment(_ context.Context, id int) error {
	defer s.lock()()
	if _, ok := s.d.payments[id]; !ok {
		return fmt.Errorf("payment %d: %w", id, store.ErrNotFound)
	}
	delete(s.d.payments, id)
	return nil
}

func (s *Store) CreateExpense(_ context.Context, expense *models.AuxiliaryExpense) error {
	defer s.lock()()
	expense.ID = s.d.next("expense")
	expense.CreatedAt = s.now()
	cp := *expense
	s.d.expenses[expense.ID] = &cp
	return nil
}

func (s *Store) ListExpensesByPayment(_ context.Context, paymentId int) ([]*models.AuxiliaryExpense, error) {
	defer s.rlock()()
	var out []*models.AuxiliaryExpense
	for _, e := range s.d.expenses {
		if e.RelatedPaymentId == paymentId {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteExpense(_ context.Context, id int) error {
	defer s.lock()()
	if _, ok := s.d.expenses[id]; !ok {
		return fmt.Errorf("expense %d: %w", id, store.ErrNotFound)
	}
	delete(s.d.expenses, id)
	return nil
}

func (s *Store) CreateReconciliationReport(_ context.Context, report *models.ReconciliationReport) error {
	defer s.lock()()
	report.ID = s.d.next("report")
	report.CreatedAt = s.now()
	cp := *report
	s.d.reports = append(s.d.reports, &cp)
	return nil
}

// Reports returns the reconciliation rows written so far.
func (s *Store) Reports() []models.ReconciliationReport {
	defer s.rlock()()
	out := make([]models.ReconciliationReport, 0, len(s.d.reports))
	for _, r := range s.d.reports {
		out = append(out, *r)
	}
	return out
}

// Expenses returns every stored expense ordered by id.
func (s *Store) Expenses() []models.AuxiliaryExpense {
	defer s.rlock()()
	out := make([]models.AuxiliaryExpense, 0, len(s.d.expenses))
	for _, e := range s.d.expenses {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
