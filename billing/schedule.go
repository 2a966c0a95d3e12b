package billing

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/money"
	"github.com/shopspring/decimal"
	"github.com/teambition/rrule-go"
)

// ScheduledInstallment is one caller-supplied line of an explicit schedule.
// The optional charge terms take priority over the plan's rates when the line is settled.
type ScheduledInstallment struct {
	Amount         decimal.Decimal       `json:"amount"`
	DueDate        *time.Time            `json:"due_date"`
	PaymentMethod  *models.PaymentMethod `json:"payment_method"`
	Commission     *decimal.Decimal      `json:"commission"`
	CommissionRate *decimal.Decimal      `json:"commission_rate"`
	Vat            *decimal.Decimal      `json:"vat"`
	VatRate        *decimal.Decimal      `json:"vat_rate"`
}

func (l ScheduledInstallment) validateTerms(i int) error {
	for name, v := range map[string]*decimal.Decimal{"commission": l.Commission, "vat": l.Vat} {
		if v != nil && v.IsNegative() {
			return invalid(fmt.Sprintf("schedule[%d].%s", i, name), "must not be negative")
		}
	}
	for name, v := range map[string]*decimal.Decimal{"commissionRate": l.CommissionRate, "vatRate": l.VatRate} {
		if v != nil && (v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100))) {
			return invalid(fmt.Sprintf("schedule[%d].%s", i, name), "must be between 0 and 100")
		}
	}
	return nil
}

func roundedPtr(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	r := money.Round2(*v)
	return &r
}

func copyPtr(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// dueDates returns n due dates starting at first. recurrence is an optional RFC 5545 RRULE;
// without it dates fall monthly on first's day, clamped to the month's last day.
func dueDates(first time.Time, n int, recurrence string) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	var (
		rule *rrule.RRule
		err  error
	)
	if recurrence != "" {
		opt, perr := rrule.StrToROption(recurrence)
		if perr != nil {
			return nil, invalid("recurrence", perr.Error())
		}
		opt.Dtstart = first
		opt.Count = n
		rule, err = rrule.NewRRule(*opt)
	} else {
		opt := rrule.ROption{Freq: rrule.MONTHLY, Dtstart: first, Count: n}
		if day := first.Day(); day > 28 {
			// 28..day with BYSETPOS=-1 picks the requested day or the month's last day when shorter
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
		rule, err = rrule.NewRRule(opt)
	}
	if err != nil {
		return nil, invalid("recurrence", err.Error())
	}
	dates := rule.All()
	if len(dates) < n {
		return nil, invalid("recurrence", fmt.Sprintf("yields %d dates, need %d", len(dates), n))
	}
	return dates[:n], nil
}

// buildInstallments lays out the schedule of a plan owing discounted.
func buildInstallments(discounted decimal.Decimal, count int, first time.Time, recurrence string, explicit []ScheduledInstallment) ([]models.Installment, error) {
	if len(explicit) > 0 {
		total := decimal.Zero
		out := make([]models.Installment, 0, len(explicit))
		for i, line := range explicit {
			if line.Amount.IsNegative() {
				return nil, invalid(fmt.Sprintf("schedule[%d].amount", i), "must not be negative")
			}
			if line.PaymentMethod != nil && !line.PaymentMethod.IsValid() {
				return nil, invalid(fmt.Sprintf("schedule[%d].paymentMethod", i), "invalid payment method")
			}
			if err := line.validateTerms(i); err != nil {
				return nil, err
			}
			amount := money.Round2(line.Amount)
			total = total.Add(amount)
			out = append(out, models.Installment{
				Number:         i + 1,
				Amount:         amount,
				BaseAmount:     amount,
				DueDate:        line.DueDate,
				PaymentMethod:  line.PaymentMethod,
				Commission:     roundedPtr(line.Commission),
				CommissionRate: copyPtr(line.CommissionRate),
				Vat:            roundedPtr(line.Vat),
				VatRate:        copyPtr(line.VatRate),
			})
		}
		if !total.Equal(discounted) {
			return nil, invalid("schedule", fmt.Sprintf("installments sum to %s, expected %s", total, discounted))
		}
		return out, nil
	}

	if count <= 0 {
		count = 1
	}
	dates, err := dueDates(first, count, recurrence)
	if err != nil {
		return nil, err
	}
	parts := money.SplitEven(discounted, count)
	out := make([]models.Installment, count)
	for i := range parts {
		due := dates[i]
		out[i] = models.Installment{
			Number:     i + 1,
			Amount:     parts[i],
			BaseAmount: parts[i],
			DueDate:    &due,
		}
	}
	return out, nil
}
