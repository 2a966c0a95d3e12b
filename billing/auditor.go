package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mmdatafocus/tuition_backend/appctx"
	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/money"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type InstallmentBreakdown struct {
	Number     int             `json:"number"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	IsPaid     bool            `json:"is_paid"`
}

type PaymentBreakdown struct {
	ID                int                  `json:"id"`
	Amount            decimal.Decimal      `json:"amount"`
	InstallmentNumber *int                 `json:"installment_number"`
	PaymentType       models.PaymentMethod `json:"payment_type"`
	Status            models.PaymentStatus `json:"status"`
}

// Discrepancy is a plan whose payment log and installment schedule disagree.
type Discrepancy struct {
	PlanId            int                    `json:"plan_id"`
	StudentId         int                    `json:"student_id"`
	PaymentsTotal     decimal.Decimal        `json:"payments_total"`
	InstallmentsTotal decimal.Decimal        `json:"installments_total"`
	Difference        decimal.Decimal        `json:"difference"`
	Installments      []InstallmentBreakdown `json:"installments"`
	Payments          []PaymentBreakdown     `json:"payments"`
}

// AnalyzeDiscrepancies compares, per plan, the non-refunded payment total with the paid
// installment total. It only reads. Mismatches come back largest first.
func (e *Engine) AnalyzeDiscrepancies(ctx context.Context) (out []Discrepancy, err error) {
	ctx, span := e.startSpan(ctx, "AnalyzeDiscrepancies", 0)
	defer func() { endSpan(span, err) }()

	plans, err := e.store.ListPlans(ctx, store.PlanFilter{})
	if err != nil {
		return nil, classify(err)
	}
	payments, err := e.store.ListPlanPayments(ctx)
	if err != nil {
		return nil, classify(err)
	}
	byPlan := make(map[int][]*models.Payment)
	for _, p := range payments {
		byPlan[*p.PlanId] = append(byPlan[*p.PlanId], p)
	}

	out = []Discrepancy{}
	for _, plan := range plans {
		paymentsTotal := decimal.Zero
		var pb []PaymentBreakdown
		for _, p := range byPlan[plan.ID] {
			if p.Counts() {
				paymentsTotal = paymentsTotal.Add(p.Amount)
			}
			pb = append(pb, PaymentBreakdown{
				ID:                p.ID,
				Amount:            p.Amount,
				InstallmentNumber: p.InstallmentNumber,
				PaymentType:       p.PaymentType,
				Status:            p.Status,
			})
		}
		installmentsTotal := plan.PaidInstallmentsTotal()
		if paymentsTotal.Equal(installmentsTotal) {
			continue
		}

		ib := make([]InstallmentBreakdown, 0, len(plan.Installments))
		for _, inst := range plan.Installments {
			ib = append(ib, InstallmentBreakdown{
				Number:     inst.Number,
				Amount:     inst.Amount,
				PaidAmount: inst.PaidAmount,
				IsPaid:     inst.IsPaid,
			})
		}
		out = append(out, Discrepancy{
			PlanId:            plan.ID,
			StudentId:         plan.StudentId,
			PaymentsTotal:     paymentsTotal,
			InstallmentsTotal: installmentsTotal,
			Difference:        paymentsTotal.Sub(installmentsTotal),
			Installments:      ib,
			Payments:          pb,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].Difference.Abs(), out[j].Difference.Abs()
		if !di.Equal(dj) {
			return di.GreaterThan(dj)
		}
		return out[i].PlanId < out[j].PlanId
	})
	return out, nil
}

// PlanRepair is what the repair pass changed on one plan.
type PlanRepair struct {
	PlanId           int             `json:"plan_id"`
	ForcedPaid       []int           `json:"forced_paid"`
	RoundedFields    int             `json:"rounded_fields"`
	PaidAmountBefore decimal.Decimal `json:"paid_amount_before"`
	PaidAmountAfter  decimal.Decimal `json:"paid_amount_after"`
	CompletedBefore  bool            `json:"completed_before"`
	CompletedAfter   bool            `json:"completed_after"`
	RemainingAfter   decimal.Decimal `json:"remaining_after"`
}

type RepairSummary struct {
	PlansScanned int          `json:"plans_scanned"`
	PlansChanged int          `json:"plans_changed"`
	Plans        []PlanRepair `json:"plans"`
}

// RepairInstallmentSync heals rounding drift: installments paid to within a cent are marked
// paid, amounts are rounded to cents and plan aggregates are recomputed from the installments.
// It does not touch payments, balances or expenses.
func (e *Engine) RepairInstallmentSync(ctx context.Context) (summary *RepairSummary, err error) {
	ctx, span := e.startSpan(ctx, "RepairInstallmentSync", 0)
	defer func() { endSpan(span, err) }()

	plans, err := e.store.ListPlans(ctx, store.PlanFilter{})
	if err != nil {
		return nil, classify(err)
	}

	summary = &RepairSummary{Plans: []PlanRepair{}}
	for _, listed := range plans {
		summary.PlansScanned++

		var (
			repair  PlanRepair
			changed bool
			fixed   *models.PaymentPlan
		)
		err := e.withPlan(ctx, listed.ID, func(tx store.Store, plan *models.PaymentPlan) error {
			fixed = plan
			repair, changed = e.repairPlan(plan)
			if !changed {
				return nil
			}
			if err := tx.SavePlan(ctx, plan); err != nil {
				return err
			}
			details, _ := json.Marshal(repair)
			correlationId, _ := appctx.GetCorrelationId(ctx)
			return tx.CreateReconciliationReport(ctx, &models.ReconciliationReport{
				InstitutionId: plan.InstitutionId,
				CheckType:     models.CheckTypeInstallmentRepair,
				EntityType:    entityPaymentPlan,
				EntityId:      plan.ID,
				Details:       string(details),
				CorrelationId: correlationId,
			})
		})
		if err != nil {
			if Kind(err) == ErrNotFound {
				// deleted since listing
				continue
			}
			e.logFailure("RepairInstallmentSync", listed.ID, err)
			return summary, err
		}
		if !changed {
			continue
		}
		summary.PlansChanged++
		summary.Plans = append(summary.Plans, repair)
		e.record(ctx, fixed, audit.ActionRepair,
			fmt.Sprintf("Installment sync repaired: paid amount %s -> %s", repair.PaidAmountBefore.StringFixed(2), repair.PaidAmountAfter.StringFixed(2)))
	}

	e.logger.WithFields(logrus.Fields{
		"field":         "billing",
		"plans_scanned": summary.PlansScanned,
		"plans_changed": summary.PlansChanged,
	}).Info("installment sync repair finished")
	return summary, nil
}

func (e *Engine) repairPlan(plan *models.PaymentPlan) (PlanRepair, bool) {
	repair := PlanRepair{
		PlanId:           plan.ID,
		ForcedPaid:       []int{},
		PaidAmountBefore: plan.PaidAmount,
		CompletedBefore:  plan.IsCompleted,
	}
	round := func(d *decimal.Decimal) {
		r := money.Round2(*d)
		if !r.Equal(*d) {
			*d = r
			repair.RoundedFields++
		}
	}

	now := e.now()
	for i := range plan.Installments {
		inst := &plan.Installments[i]
		round(&inst.Amount)
		round(&inst.PaidAmount)
		if !inst.IsPaid && inst.PaidAmount.IsPositive() && money.WithinEpsilon(inst.PaidAmount, inst.Amount, money.Epsilon) {
			inst.IsPaid = true
			if inst.PaidDate == nil {
				paidAt := now
				inst.PaidDate = &paidAt
			}
			repair.ForcedPaid = append(repair.ForcedPaid, inst.Number)
		}
	}
	round(&plan.DiscountedAmount)

	remainingBefore := plan.RemainingAmount
	plan.PaidAmount = plan.PaidInstallmentsTotal()
	plan.RefreshRemaining()
	plan.IsCompleted = false
	plan.SweepCompletion(now)

	repair.PaidAmountAfter = plan.PaidAmount
	repair.CompletedAfter = plan.IsCompleted
	repair.RemainingAfter = plan.RemainingAmount

	changed := repair.RoundedFields > 0 || len(repair.ForcedPaid) > 0 ||
		!repair.PaidAmountBefore.Equal(repair.PaidAmountAfter) ||
		!remainingBefore.Equal(plan.RemainingAmount) ||
		repair.CompletedBefore != repair.CompletedAfter
	return repair, changed
}
