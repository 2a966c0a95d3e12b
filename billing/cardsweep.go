package billing

import (
	"context"

	"github.com/mmdatafocus/tuition_backend/config"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/sirupsen/logrus"
)

type CardSweepSummary struct {
	Due     int   `json:"due"`
	Charged []int `json:"charged"`
	Failed  []int `json:"failed"`
}

// SettleDueCardCharges runs ProcessPendingCreditCardPayment for every plan whose card charge date
// has arrived. One plan failing does not stop the others; an error is returned only when the
// due plans cannot be listed.
func (e *Engine) SettleDueCardCharges(ctx context.Context) (*CardSweepSummary, error) {
	now := e.now()
	due, err := e.store.ListPlans(ctx, store.PlanFilter{PendingCardChargeDue: &now})
	if err != nil {
		return nil, classify(err)
	}

	summary := &CardSweepSummary{Due: len(due)}
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return summary, classify(err)
		}
		if _, err := e.ProcessPendingCreditCardPayment(ctx, p.ID); err != nil {
			// another instance may have charged it between the listing and the lock
			if Kind(err) != ErrInvalidState {
				config.LogError(e.logger, "billing", "SettleDueCardCharges", "ProcessPendingCreditCardPayment", p.ID, err)
			}
			summary.Failed = append(summary.Failed, p.ID)
			continue
		}
		summary.Charged = append(summary.Charged, p.ID)
	}

	e.logger.WithFields(logrus.Fields{
		"field":   "billing",
		"due":     summary.Due,
		"charged": len(summary.Charged),
		"failed":  len(summary.Failed),
	}).Info("card charge sweep finished")
	return summary, nil
}
