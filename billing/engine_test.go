package billing

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/settings"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/mmdatafocus/tuition_backend/store/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var testNow = time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	engine   *Engine
	audit    *audit.Recorder
	student  int
	register int
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	student := &models.Student{Name: "Aye Aye", InstitutionId: 1}
	if err := st.CreateStudent(ctx, student); err != nil {
		t.Fatalf("create student: %v", err)
	}
	register := &models.CashRegister{Name: "Front desk", InstitutionId: 1}
	if err := st.CreateCashRegister(ctx, register); err != nil {
		t.Fatalf("create register: %v", err)
	}
	rec := &audit.Recorder{}
	base := []Option{
		WithAudit(rec),
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return testNow }),
		WithSettings(settings.Static{}),
	}
	return &fixture{
		ctx:      ctx,
		store:    st,
		engine:   New(st, append(base, opts...)...),
		audit:    rec,
		student:  student.ID,
		register: register.ID,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func methodPtr(m models.PaymentMethod) *models.PaymentMethod { return &m }

func (f *fixture) studentBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	s, err := f.store.GetStudent(f.ctx, f.student)
	if err != nil {
		t.Fatalf("get student: %v", err)
	}
	return s.Balance
}

func (f *fixture) registerBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	r, err := f.store.GetCashRegister(f.ctx, f.register)
	if err != nil {
		t.Fatalf("get register: %v", err)
	}
	return r.Balance
}

func (f *fixture) plan(t *testing.T, id int) *models.PaymentPlan {
	t.Helper()
	p, err := f.store.GetPlan(f.ctx, id)
	if err != nil {
		t.Fatalf("get plan %d: %v", id, err)
	}
	return p
}

func (f *fixture) payments(t *testing.T, planId int) []*models.Payment {
	t.Helper()
	ps, err := f.store.ListPaymentsByPlan(f.ctx, planId)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	return ps
}

// installmentPlan creates a cashInstallment plan of total split into n.
func (f *fixture) installmentPlan(t *testing.T, total string, n int) *models.PaymentPlan {
	t.Helper()
	first := testNow
	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:        f.student,
		CashRegisterId:   f.register,
		InstitutionId:    1,
		PaymentType:      models.PaymentTypeCashInstallment,
		TotalAmount:      decPtr(total),
		InstallmentCount: n,
		FirstDueDate:     &first,
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", name, got.String(), want)
	}
}

func assertKind(t *testing.T, err error, want error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", want)
	}
	if Kind(err) != want {
		t.Fatalf("expected kind %v, got %v (%v)", want, Kind(err), err)
	}
}

// failingStore breaks one store call so rollback can be observed.
type failingStore struct {
	store.Store
	failExpense models.ExpenseCategory
}

var errInjected = errors.New("injected failure")

func (s *failingStore) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	return s.Store.Transaction(ctx, func(tx store.Store) error {
		return fn(&failingStore{Store: tx, failExpense: s.failExpense})
	})
}

func (s *failingStore) CreateExpense(ctx context.Context, e *models.AuxiliaryExpense) error {
	if e.Category == s.failExpense {
		return errInjected
	}
	return s.Store.CreateExpense(ctx, e)
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"validation", invalid("amount", "bad"), ErrValidation},
		{"not found", notFound("payment plan", 3), ErrNotFound},
		{"invalid state", invalidState("plan %d done", 3), ErrInvalidState},
		{"store not found", classify(store.ErrNotFound), ErrNotFound},
		{"unknown", classify(errors.New("boom")), ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Fatalf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}

	var verr *ValidationError
	if !errors.As(invalid("amount", "bad"), &verr) || verr.Field != "amount" {
		t.Fatalf("expected ValidationError with field amount")
	}
	if !errors.Is(classify(errors.New("boom")), ErrInternal) {
		t.Fatalf("classified error must wrap ErrInternal")
	}
}
