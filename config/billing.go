package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Billing holds the ledger knobs read from the environment.
//
// Env:
// - DEFAULT_VAT_RATE=18
// - CARD_COMMISSION_RATES="1:1.5,3:2.9,6:4" (installment count : percent)
// - PLAN_LOCK_TTL_SECONDS=30
// - SETTINGS_CACHE_SECONDS=300
// - CARD_SETTLEMENT_CRON="0 6 * * *"
// - PLAN_LOCK_BACKEND=redis|local
type Billing struct {
	DefaultVatRate     decimal.Decimal
	CommissionTable    string
	PlanLockTTL        time.Duration
	SettingsCacheTTL   time.Duration
	CardSettlementCron string
	UseRedisPlanLock   bool
}

func LoadBilling() (Billing, error) {
	b := Billing{
		DefaultVatRate:     decimal.Zero,
		CommissionTable:    strings.TrimSpace(os.Getenv("CARD_COMMISSION_RATES")),
		PlanLockTTL:        time.Duration(intFromEnv("PLAN_LOCK_TTL_SECONDS", 30)) * time.Second,
		SettingsCacheTTL:   time.Duration(intFromEnv("SETTINGS_CACHE_SECONDS", 300)) * time.Second,
		CardSettlementCron: strings.TrimSpace(os.Getenv("CARD_SETTLEMENT_CRON")),
		UseRedisPlanLock:   !strings.EqualFold(strings.TrimSpace(os.Getenv("PLAN_LOCK_BACKEND")), "local"),
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_VAT_RATE")); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil || rate.IsNegative() {
			return b, fmt.Errorf("invalid DEFAULT_VAT_RATE %q", v)
		}
		b.DefaultVatRate = rate
	}
	if b.CardSettlementCron == "" {
		b.CardSettlementCron = "0 6 * * *"
	}
	return b, nil
}

// SkipMigrations lets deployments run AutoMigrate as a separate job.
func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}
