package billing

import (
	"testing"

	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/store"
)

func TestDeletePlanUnwindsEverything(t *testing.T) {
	f := newFixture(t)
	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:        f.student,
		CashRegisterId:   f.register,
		PaymentType:      models.PaymentTypeCashInstallment,
		TotalAmount:      decPtr("1000"),
		InstallmentCount: 2,
		CommissionRate:   decPtr("2"),
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	card := models.PaymentMethodCreditCard
	if _, err := f.engine.PayInstallment(f.ctx, PayInstallmentInput{
		PlanId: plan.ID, InstallmentNumber: 1, Amount: dec("500"), CashRegisterId: f.register, PaymentMethod: &card,
	}); err != nil {
		t.Fatalf("PayInstallment: %v", err)
	}
	f.pay(t, plan.ID, 2, "500", models.OverpaymentNone)
	if _, err := f.engine.RefundInstallment(f.ctx, plan.ID, 2, "moved away"); err != nil {
		t.Fatalf("RefundInstallment: %v", err)
	}
	assertDec(t, "student before delete", f.studentBalance(t), "500")
	assertDec(t, "register before delete", f.registerBalance(t), "490")

	result, err := f.engine.DeletePlan(f.ctx, plan.ID)
	if err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	if result.ReversedPayments != 1 || result.DeletedPayments != 2 || result.DeletedExpenses != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	assertDec(t, "student delta", result.StudentDelta, "-500")
	assertDec(t, "student after delete", f.studentBalance(t), "0")
	assertDec(t, "register after delete", f.registerBalance(t), "0")

	if _, err := f.store.GetPlan(f.ctx, plan.ID); !store.IsNotFound(err) {
		t.Fatalf("plan should be gone, got %v", err)
	}
	if ps := f.payments(t, plan.ID); len(ps) != 0 {
		t.Fatalf("payments should be gone, got %d", len(ps))
	}
	if n := len(f.store.Expenses()); n != 0 {
		t.Fatalf("expenses should be gone, got %d", n)
	}

	_, err = f.engine.DeletePlan(f.ctx, plan.ID)
	assertKind(t, err, ErrNotFound)
}

func TestDeletePlanRestoresStartingState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) int
	}{
		{"untouched", func(t *testing.T, f *fixture) int {
			return f.installmentPlan(t, "750", 3).ID
		}},
		{"partly paid with overpayment", func(t *testing.T, f *fixture) int {
			id := f.installmentPlan(t, "900", 3).ID
			f.pay(t, id, 1, "450", models.OverpaymentDistribute)
			return id
		}},
		{"scholarship", func(t *testing.T, f *fixture) int {
			p, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
				StudentId: f.student, CashRegisterId: f.register, PaymentType: models.PaymentTypeCashFull,
				TotalAmount: decPtr("400"), DiscountType: models.DiscountTypeScholarship,
			})
			if err != nil {
				t.Fatalf("CreatePlan: %v", err)
			}
			return p.ID
		}},
		{"settled on creation", func(t *testing.T, f *fixture) int {
			p, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
				StudentId: f.student, CashRegisterId: f.register, PaymentType: models.PaymentTypeCreditCard,
				TotalAmount: decPtr("600"), InstallmentCount: 2, SettleToday: true, IsInvoiced: true,
				CommissionRate: decPtr("3"), VatRate: decPtr("5"),
			})
			if err != nil {
				t.Fatalf("CreatePlan: %v", err)
			}
			return p.ID
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := tt.setup(t, f)
			if _, err := f.engine.DeletePlan(f.ctx, id); err != nil {
				t.Fatalf("DeletePlan: %v", err)
			}
			assertDec(t, "student balance", f.studentBalance(t), "0")
			assertDec(t, "register balance", f.registerBalance(t), "0")
		})
	}
}
