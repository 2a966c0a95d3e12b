package billing

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/settings"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
)

func TestCreatePlanSplitsInstallments(t *testing.T) {
	f := newFixture(t)
	plan := f.installmentPlan(t, "1000", 3)

	if len(plan.Installments) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(plan.Installments))
	}
	for i, want := range []string{"333.34", "333.33", "333.33"} {
		assertDec(t, "installment amount", plan.Installments[i].Amount, want)
		assertDec(t, "installment base amount", plan.Installments[i].BaseAmount, want)
		if plan.Installments[i].IsPaid {
			t.Fatalf("installment %d should be unpaid", i+1)
		}
	}
	assertDec(t, "remaining", plan.RemainingAmount, "1000")
	assertDec(t, "paid", plan.PaidAmount, "0")
	assertDec(t, "student balance", f.studentBalance(t), "1000")
	assertDec(t, "register balance", f.registerBalance(t), "0")
	if plan.IsCompleted {
		t.Fatalf("new plan must not be completed")
	}

	entries := f.audit.Entries()
	if len(entries) != 1 || entries[0].Action != audit.ActionCreate || entries[0].EntityId != plan.ID {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}

func TestCreatePlanDiscounts(t *testing.T) {
	tests := []struct {
		name      string
		input     CreatePlanInput
		wantOwed  string
		completed bool
	}{
		{
			name:     "percentage",
			input:    CreatePlanInput{DiscountType: models.DiscountTypePercentage, DiscountValue: dec("10")},
			wantOwed: "900",
		},
		{
			name:     "fixed",
			input:    CreatePlanInput{DiscountType: models.DiscountTypeFixed, DiscountValue: dec("250.50")},
			wantOwed: "749.5",
		},
		{
			name:     "explicit discounted amount",
			input:    CreatePlanInput{DiscountedAmount: decPtr("800")},
			wantOwed: "800",
		},
		{
			name:      "scholarship",
			input:     CreatePlanInput{DiscountType: models.DiscountTypeScholarship},
			wantOwed:  "0",
			completed: true,
		},
		{
			name:      "full percentage",
			input:     CreatePlanInput{DiscountType: models.DiscountTypePercentage, DiscountValue: dec("100")},
			wantOwed:  "0",
			completed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := tt.input
			in.StudentId = f.student
			in.CashRegisterId = f.register
			in.PaymentType = models.PaymentTypeCashInstallment
			in.TotalAmount = decPtr("1000")
			in.InstallmentCount = 2

			plan, err := f.engine.CreatePlan(f.ctx, in)
			if err != nil {
				t.Fatalf("CreatePlan: %v", err)
			}
			assertDec(t, "discounted", plan.DiscountedAmount, tt.wantOwed)
			assertDec(t, "student balance", f.studentBalance(t), tt.wantOwed)
			if plan.IsCompleted != tt.completed {
				t.Fatalf("completed = %v, want %v", plan.IsCompleted, tt.completed)
			}
			if tt.completed {
				if len(plan.Installments) != 1 || !plan.Installments[0].IsPaid || !plan.Installments[0].Amount.IsZero() {
					t.Fatalf("free plan must have one paid zero installment, got %+v", plan.Installments)
				}
				if ps := f.payments(t, plan.ID); len(ps) != 0 {
					t.Fatalf("free plan must not create payments, got %d", len(ps))
				}
			}
		})
	}
}

func TestCreatePlanSettleTodayCard(t *testing.T) {
	f := newFixture(t, WithSettings(settings.Static{
		Vat:        dec("5"),
		Commission: map[int]decimal.Decimal{1: dec("2")},
	}))

	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:        f.student,
		CashRegisterId:   f.register,
		PaymentType:      models.PaymentTypeCreditCard,
		TotalAmount:      decPtr("1000"),
		InstallmentCount: 1,
		SettleToday:      true,
		IsInvoiced:       true,
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if !plan.IsCompleted || plan.IsPendingCardCharge {
		t.Fatalf("settled plan must be completed and not pending: %+v", plan)
	}
	assertDec(t, "paid", plan.PaidAmount, "1000")
	assertDec(t, "remaining", plan.RemainingAmount, "0")
	assertDec(t, "student balance", f.studentBalance(t), "0")
	// 1000 in, 20 commission and 50 VAT out
	assertDec(t, "register balance", f.registerBalance(t), "930")

	ps := f.payments(t, plan.ID)
	if len(ps) != 1 || ps[0].PaymentType != models.PaymentMethodCreditCard || ps[0].InstallmentNumber != nil {
		t.Fatalf("expected one plan-level card payment, got %+v", ps)
	}
	assertDec(t, "commission term", ps[0].ChargeTerms.CommissionAmount, "20")
	assertDec(t, "vat term", ps[0].ChargeTerms.VatAmount, "50")
	if n := len(f.store.Expenses()); n != 2 {
		t.Fatalf("expected commission and VAT expenses, got %d", n)
	}
}

func TestCreatePlanSettleTodayMixed(t *testing.T) {
	f := newFixture(t)
	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:        f.student,
		CashRegisterId:   f.register,
		PaymentType:      models.PaymentTypeMixed,
		TotalAmount:      decPtr("1000"),
		InstallmentCount: 2,
		SettleToday:      true,
		CardAmount:       decPtr("600"),
		CommissionRate:   decPtr("3"),
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	ps := f.payments(t, plan.ID)
	if len(ps) != 2 {
		t.Fatalf("expected card and cash payments, got %d", len(ps))
	}
	assertDec(t, "card portion", ps[0].Amount, "600")
	assertDec(t, "cash portion", ps[1].Amount, "400")
	assertDec(t, "cash commission", ps[1].ChargeTerms.CommissionAmount, "0")
	assertDec(t, "register balance", f.registerBalance(t), "982")
	assertDec(t, "student balance", f.studentBalance(t), "0")
	for _, inst := range plan.Installments {
		if !inst.IsPaid {
			t.Fatalf("installment %d should be paid", inst.Number)
		}
	}
}

func TestCreatePlanSettleTodayIgnoredForCash(t *testing.T) {
	f := newFixture(t)
	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:      f.student,
		CashRegisterId: f.register,
		PaymentType:    models.PaymentTypeCashFull,
		TotalAmount:    decPtr("500"),
		SettleToday:    true,
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if plan.IsCompleted || len(f.payments(t, plan.ID)) != 0 {
		t.Fatalf("cash plans are not settled at creation")
	}
	if len(plan.Installments) != 1 {
		t.Fatalf("cashFull plan must have one installment, got %d", len(plan.Installments))
	}
}

func TestPendingCardCharge(t *testing.T) {
	clock := testNow
	f := newFixture(t, WithClock(func() time.Time { return clock }))
	chargeAt := testNow.AddDate(0, 0, 5)

	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:        f.student,
		CashRegisterId:   f.register,
		PaymentType:      models.PaymentTypeCreditCard,
		TotalAmount:      decPtr("300"),
		InstallmentCount: 3,
		CardChargeDate:   &chargeAt,
		CommissionRate:   decPtr("1.5"),
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if !plan.IsPendingCardCharge {
		t.Fatalf("plan should wait for its card charge")
	}

	_, err = f.engine.ProcessPendingCreditCardPayment(f.ctx, plan.ID)
	assertKind(t, err, ErrInvalidState)

	clock = chargeAt
	charged, err := f.engine.ProcessPendingCreditCardPayment(f.ctx, plan.ID)
	if err != nil {
		t.Fatalf("ProcessPendingCreditCardPayment: %v", err)
	}
	if charged.IsPendingCardCharge || !charged.IsCompleted {
		t.Fatalf("charged plan must be completed and no longer pending")
	}
	assertDec(t, "register balance", f.registerBalance(t), "295.5")
	assertDec(t, "student balance", f.studentBalance(t), "0")

	_, err = f.engine.ProcessPendingCreditCardPayment(f.ctx, plan.ID)
	assertKind(t, err, ErrInvalidState)
}

func TestPendingCardChargePaidByHand(t *testing.T) {
	clock := testNow
	f := newFixture(t, WithClock(func() time.Time { return clock }))
	chargeAt := testNow.AddDate(0, 0, 5)

	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:        f.student,
		CashRegisterId:   f.register,
		PaymentType:      models.PaymentTypeCreditCard,
		TotalAmount:      decPtr("300"),
		InstallmentCount: 1,
		CardChargeDate:   &chargeAt,
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	paid := f.pay(t, plan.ID, 1, "300", models.OverpaymentNone)
	if !paid.IsCompleted || paid.IsPendingCardCharge {
		t.Fatalf("paid-off plan must be completed and no longer pending: completed=%v pending=%v",
			paid.IsCompleted, paid.IsPendingCardCharge)
	}

	clock = chargeAt
	summary, err := f.engine.SettleDueCardCharges(f.ctx)
	if err != nil {
		t.Fatalf("SettleDueCardCharges: %v", err)
	}
	if summary.Due != 0 || len(summary.Charged) != 0 {
		t.Fatalf("a paid-off plan must not be charged again: %+v", summary)
	}
	_, err = f.engine.ProcessPendingCreditCardPayment(f.ctx, plan.ID)
	assertKind(t, err, ErrInvalidState)

	// rows written before the flag was cleared on completion
	f.tamper(t, plan.ID, func(p *models.PaymentPlan) { p.IsPendingCardCharge = true })
	summary, err = f.engine.SettleDueCardCharges(f.ctx)
	if err != nil {
		t.Fatalf("SettleDueCardCharges: %v", err)
	}
	if len(summary.Charged) != 0 || len(summary.Failed) != 1 {
		t.Fatalf("completed plan must be refused, got %+v", summary)
	}
	assertDec(t, "register balance", f.registerBalance(t), "300")
	if n := len(f.payments(t, plan.ID)); n != 1 {
		t.Fatalf("expected only the manual payment, got %d payments", n)
	}
}

func TestProcessPendingCardChargeWithNothingLeft(t *testing.T) {
	f := newFixture(t)
	chargeAt := testNow.AddDate(0, 0, -1)
	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:        f.student,
		CashRegisterId:   f.register,
		PaymentType:      models.PaymentTypeCreditCard,
		TotalAmount:      decPtr("200"),
		InstallmentCount: 2,
		CardChargeDate:   &chargeAt,
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	f.tamper(t, plan.ID, func(p *models.PaymentPlan) {
		for i := range p.Installments {
			p.Installments[i].Amount = dec("0")
		}
	})

	_, err = f.engine.ProcessPendingCreditCardPayment(f.ctx, plan.ID)
	assertKind(t, err, ErrInvalidState)
	if n := len(f.payments(t, plan.ID)); n != 0 {
		t.Fatalf("no zero-amount charge may be booked, got %d payments", n)
	}
}

func TestCreatePlanValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreatePlanInput)
	}{
		{"unknown payment type", func(in *CreatePlanInput) { in.PaymentType = "barter" }},
		{"negative total", func(in *CreatePlanInput) { in.TotalAmount = decPtr("-1") }},
		{"percentage over 100", func(in *CreatePlanInput) {
			in.DiscountType = models.DiscountTypePercentage
			in.DiscountValue = dec("120")
		}},
		{"fixed over price", func(in *CreatePlanInput) {
			in.DiscountType = models.DiscountTypeFixed
			in.DiscountValue = dec("1200")
		}},
		{"schedule does not add up", func(in *CreatePlanInput) {
			in.Schedule = []ScheduledInstallment{{Amount: dec("500")}, {Amount: dec("400")}}
		}},
		{"negative installment commission", func(in *CreatePlanInput) {
			in.Schedule = []ScheduledInstallment{{Amount: dec("500"), Commission: decPtr("-1")}, {Amount: dec("500")}}
		}},
		{"installment vat rate over 100", func(in *CreatePlanInput) {
			in.Schedule = []ScheduledInstallment{{Amount: dec("500")}, {Amount: dec("500"), VatRate: decPtr("120")}}
		}},
		{"mixed split does not add up", func(in *CreatePlanInput) {
			in.PaymentType = models.PaymentTypeMixed
			in.SettleToday = true
			in.CardAmount = decPtr("600")
			in.CashAmount = decPtr("300")
		}},
		{"cashFull with many installments", func(in *CreatePlanInput) {
			in.PaymentType = models.PaymentTypeCashFull
			in.InstallmentCount = 3
		}},
		{"vat rate over 100", func(in *CreatePlanInput) { in.VatRate = decPtr("101") }},
		{"bad recurrence", func(in *CreatePlanInput) { in.Recurrence = "FREQ=SOMETIMES" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := CreatePlanInput{
				StudentId:        f.student,
				CashRegisterId:   f.register,
				PaymentType:      models.PaymentTypeCashInstallment,
				TotalAmount:      decPtr("1000"),
				InstallmentCount: 2,
			}
			tt.mutate(&in)
			_, err := f.engine.CreatePlan(f.ctx, in)
			assertKind(t, err, ErrValidation)
			assertDec(t, "student balance", f.studentBalance(t), "0")
		})
	}
}

func TestCreatePlanMissingReferences(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:      999,
		CashRegisterId: f.register,
		PaymentType:    models.PaymentTypeCashFull,
		TotalAmount:    decPtr("100"),
	})
	assertKind(t, err, ErrNotFound)

	_, err = f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:      f.student,
		CashRegisterId: 999,
		PaymentType:    models.PaymentTypeCashFull,
		TotalAmount:    decPtr("100"),
	})
	assertKind(t, err, ErrNotFound)

	plans, err := f.store.ListPlans(f.ctx, store.PlanFilter{})
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(plans) != 0 {
		t.Fatalf("no plan should be persisted, got %d", len(plans))
	}
	assertDec(t, "student balance", f.studentBalance(t), "0")
}

type fakeEnrollments struct{ quote Quote }

func (f fakeEnrollments) Quote(context.Context, int, int, int) (Quote, error) {
	return f.quote, nil
}

func TestCreatePlanUsesEnrollmentQuote(t *testing.T) {
	f := newFixture(t, WithEnrollments(fakeEnrollments{Quote{Price: dec("450"), PricingMode: "monthly"}}))
	plan, err := f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:      f.student,
		CashRegisterId: f.register,
		CourseId:       7,
		PaymentType:    models.PaymentTypeCashFull,
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	assertDec(t, "total", plan.TotalAmount, "450")

	_, err = f.engine.CreatePlan(f.ctx, CreatePlanInput{
		StudentId:      f.student,
		CashRegisterId: f.register,
		PaymentType:    models.PaymentTypeCashFull,
		DiscountType:   models.DiscountTypeFixed,
		DiscountValue:  dec("50"),
	})
	assertKind(t, err, ErrValidation)
}

func TestDueDatesClampToMonthEnd(t *testing.T) {
	first := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	dates, err := dueDates(first, 4, "")
	if err != nil {
		t.Fatalf("dueDates: %v", err)
	}
	want := []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}
	for i, w := range want {
		if got := dates[i].Format("2006-01-02"); got != w {
			t.Fatalf("date %d = %s, want %s", i, got, w)
		}
	}

	weekly, err := dueDates(first, 3, "FREQ=WEEKLY;INTERVAL=2")
	if err != nil {
		t.Fatalf("dueDates weekly: %v", err)
	}
	if got := weekly[2].Format("2006-01-02"); got != "2024-02-28" {
		t.Fatalf("third fortnightly date = %s, want 2024-02-28", got)
	}
}
