package billing

import (
	"testing"

	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/settings"
	"github.com/shopspring/decimal"
)

func TestRefundInstallmentRestoresBalances(t *testing.T) {
	f := newFixture(t, WithSettings(settings.Static{
		Vat:        dec("5"),
		Commission: map[int]decimal.Decimal{2: dec("2")},
	}))
	plan := f.installmentPlan(t, "1000", 2)

	card := models.PaymentMethodCreditCard
	if _, err := f.engine.PayInstallment(f.ctx, PayInstallmentInput{
		PlanId: plan.ID, InstallmentNumber: 1, Amount: dec("500"), CashRegisterId: f.register,
		IsInvoiced: true, PaymentMethod: &card,
	}); err != nil {
		t.Fatalf("PayInstallment: %v", err)
	}
	assertDec(t, "register after payment", f.registerBalance(t), "465")
	assertDec(t, "student after payment", f.studentBalance(t), "500")

	detail, err := f.engine.RefundInstallment(f.ctx, plan.ID, 1, "  dropped the course ")
	if err != nil {
		t.Fatalf("RefundInstallment: %v", err)
	}
	assertDec(t, "refunded", detail.RefundedAmount, "500")
	assertDec(t, "register after refund", f.registerBalance(t), "0")
	assertDec(t, "student after refund", f.studentBalance(t), "1000")
	if len(detail.ReversedExpenses) != 2 || len(detail.AuditExpenses) != 1 {
		t.Fatalf("reversed=%d audit=%d, want 2 and 1", len(detail.ReversedExpenses), len(detail.AuditExpenses))
	}

	expenses := f.store.Expenses()
	if len(expenses) != 1 || expenses[0].Category != models.ExpenseCategoryRefund {
		t.Fatalf("only the refund record should remain, got %+v", expenses)
	}

	ps := f.payments(t, plan.ID)
	if !ps[0].IsRefunded || ps[0].Status != models.PaymentStatusRefunded || ps[0].RefundReason != "dropped the course" {
		t.Fatalf("payment not flagged refunded: %+v", ps[0])
	}
	assertDec(t, "refund amount", ps[0].RefundAmount, "500")

	stored := f.plan(t, plan.ID)
	inst := stored.InstallmentByNumber(1)
	if inst.IsPaid || !inst.PaidAmount.IsZero() || inst.PaidDate != nil || inst.IsInvoiced {
		t.Fatalf("installment not reset: %+v", inst)
	}
	assertDec(t, "plan paid", stored.PaidAmount, "0")
	assertDec(t, "plan remaining", stored.RemainingAmount, "1000")

	entries := f.audit.Entries()
	if last := entries[len(entries)-1]; last.Action != audit.ActionRefund {
		t.Fatalf("last audit action = %s, want refund", last.Action)
	}

	// the installment can be paid again
	f.pay(t, plan.ID, 1, "500", models.OverpaymentNone)
	assertDec(t, "student after repay", f.studentBalance(t), "500")
}

func TestRefundKeepsAmendments(t *testing.T) {
	f := newFixture(t)
	plan := f.installmentPlan(t, "3000", 3)
	f.pay(t, plan.ID, 1, "1600", models.OverpaymentNext)

	detail, err := f.engine.RefundInstallment(f.ctx, plan.ID, 1, "")
	if err != nil {
		t.Fatalf("RefundInstallment: %v", err)
	}
	if len(detail.RetainedAmendments) != 1 || detail.RetainedAmendments[0].InstallmentNumber != 2 {
		t.Fatalf("expected the amendment of installment 2 to be reported, got %+v", detail.RetainedAmendments)
	}
	stored := f.plan(t, plan.ID)
	assertDec(t, "installment 2", stored.InstallmentByNumber(2).Amount, "400")
	assertDec(t, "student balance", f.studentBalance(t), "3000")
	if stored.IsCompleted {
		t.Fatalf("refunded plan cannot be completed")
	}
}

func TestRefundInstallmentErrors(t *testing.T) {
	f := newFixture(t)
	plan := f.installmentPlan(t, "3000", 3)
	// installment 2 ends up swept to paid without a payment of its own
	f.pay(t, plan.ID, 1, "2000", models.OverpaymentNext)
	f.pay(t, plan.ID, 3, "1000", models.OverpaymentNone)

	tests := []struct {
		name   string
		planId int
		number int
		want   error
	}{
		{"missing plan", 999, 1, ErrNotFound},
		{"missing installment", plan.ID, 7, ErrNotFound},
		{"bad number", plan.ID, 0, ErrValidation},
		{"no payment behind it", plan.ID, 2, ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.RefundInstallment(f.ctx, tt.planId, tt.number, "")
			assertKind(t, err, tt.want)
			assertDec(t, "register balance", f.registerBalance(t), "3000")
		})
	}

	if _, err := f.engine.RefundInstallment(f.ctx, plan.ID, 3, ""); err != nil {
		t.Fatalf("RefundInstallment: %v", err)
	}
	_, err := f.engine.RefundInstallment(f.ctx, plan.ID, 3, "")
	assertKind(t, err, ErrInvalidState)
}

func TestRefundFullPayment(t *testing.T) {
	f := newFixture(t)
	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:        f.student,
		CashRegisterId:   f.register,
		PaymentType:      models.PaymentTypeMixed,
		TotalAmount:      decPtr("1200"),
		InstallmentCount: 3,
		SettleToday:      true,
		CashAmount:       decPtr("200"),
		CommissionRate:   decPtr("2"),
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	assertDec(t, "register after settle", f.registerBalance(t), "1180")

	detail, err := f.engine.RefundFullPayment(f.ctx, plan.ID, "duplicate enrollment")
	if err != nil {
		t.Fatalf("RefundFullPayment: %v", err)
	}
	if len(detail.Payments) != 2 {
		t.Fatalf("expected both portions refunded, got %d", len(detail.Payments))
	}
	assertDec(t, "refunded", detail.RefundedAmount, "1200")
	assertDec(t, "register after refund", f.registerBalance(t), "0")
	assertDec(t, "student after refund", f.studentBalance(t), "1200")

	stored := f.plan(t, plan.ID)
	for _, inst := range stored.Installments {
		if inst.IsPaid {
			t.Fatalf("installment %d should be open again", inst.Number)
		}
	}
	if stored.IsCompleted {
		t.Fatalf("plan should be open again")
	}

	_, err = f.engine.RefundFullPayment(f.ctx, plan.ID, "")
	assertKind(t, err, ErrInvalidState)
}
