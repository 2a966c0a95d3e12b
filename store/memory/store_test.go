package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
)

func seed(t *testing.T) (*Store, *models.Student, *models.PaymentPlan) {
	t.Helper()
	ctx := context.Background()
	s := New()
	student := &models.Student{Name: "Su"}
	if err := s.CreateStudent(ctx, student); err != nil {
		t.Fatalf("CreateStudent: %v", err)
	}
	plan := &models.PaymentPlan{
		StudentId:        student.ID,
		PaymentType:      models.PaymentTypeCashInstallment,
		DiscountedAmount: decimal.NewFromInt(200),
		Installments: []models.Installment{
			{Number: 2, Amount: decimal.NewFromInt(100)},
			{Number: 1, Amount: decimal.NewFromInt(100)},
		},
	}
	if err := s.CreatePlan(ctx, plan); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	return s, student, plan
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s, student, plan := seed(t)
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx store.Store) error {
		if err := tx.AdjustStudentBalance(ctx, student.ID, decimal.NewFromInt(50)); err != nil {
			return err
		}
		if err := tx.DeletePlan(ctx, plan.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetStudent(ctx, student.ID)
	if err != nil {
		t.Fatalf("GetStudent: %v", err)
	}
	if !got.Balance.IsZero() {
		t.Fatalf("balance should be untouched, got %s", got.Balance)
	}
	if _, err := s.GetPlan(ctx, plan.ID); err != nil {
		t.Fatalf("plan should survive the rollback: %v", err)
	}
}

func TestTransactionCommits(t *testing.T) {
	ctx := context.Background()
	s, student, _ := seed(t)
	err := s.Transaction(ctx, func(tx store.Store) error {
		return tx.AdjustStudentBalance(ctx, student.ID, decimal.NewFromInt(75))
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	got, _ := s.GetStudent(ctx, student.ID)
	if !got.Balance.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("balance = %s, want 75", got.Balance)
	}
}

func TestGetPlanReturnsSortedCopy(t *testing.T) {
	ctx := context.Background()
	s, _, plan := seed(t)

	got, err := s.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.Installments[0].Number != 1 || got.Installments[1].Number != 2 {
		t.Fatalf("installments not sorted: %+v", got.Installments)
	}
	got.Installments[0].IsPaid = true

	again, _ := s.GetPlan(ctx, plan.ID)
	if again.Installments[0].IsPaid {
		t.Fatalf("mutating a returned plan must not touch the store")
	}
}

func TestNotFoundAndDuplicate(t *testing.T) {
	ctx := context.Background()
	s, student, plan := seed(t)

	if _, err := s.GetPlan(ctx, 42); !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.AdjustCashRegisterBalance(ctx, 42, decimal.NewFromInt(1)); !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	key := "k-1"
	first := &models.Payment{PlanId: &plan.ID, StudentId: student.ID, Amount: decimal.NewFromInt(10), IdempotencyKey: &key}
	if err := s.CreatePayment(ctx, first); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	second := &models.Payment{PlanId: &plan.ID, StudentId: student.ID, Amount: decimal.NewFromInt(10), IdempotencyKey: &key}
	if err := s.CreatePayment(ctx, second); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	found, err := s.FindPaymentByIdempotencyKey(ctx, key)
	if err != nil || found.ID != first.ID {
		t.Fatalf("FindPaymentByIdempotencyKey = %v, %v", found, err)
	}
}

func TestListPlansFilter(t *testing.T) {
	ctx := context.Background()
	s, student, _ := seed(t)
	due := pendingPlan(student.ID, "2024-05-01")
	later := pendingPlan(student.ID, "2024-07-01")
	for _, p := range []*models.PaymentPlan{due, later} {
		if err := s.CreatePlan(ctx, p); err != nil {
			t.Fatalf("CreatePlan: %v", err)
		}
	}

	cutoff := mustDate("2024-06-01")
	got, err := s.ListPlans(ctx, store.PlanFilter{PendingCardChargeDue: &cutoff})
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("expected only the due plan, got %d plans", len(got))
	}

	all, _ := s.ListPlans(ctx, store.PlanFilter{StudentId: student.ID})
	if len(all) != 3 {
		t.Fatalf("expected 3 plans for the student, got %d", len(all))
	}
}

func pendingPlan(studentId int, chargeDate string) *models.PaymentPlan {
	at := mustDate(chargeDate)
	return &models.PaymentPlan{
		StudentId:           studentId,
		PaymentType:         models.PaymentTypeCreditCard,
		CardChargeDate:      &at,
		IsPendingCardCharge: true,
	}
}

func mustDate(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}
