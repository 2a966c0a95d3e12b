// Package bootstrap assembles the billing engine from the connected config globals.
// Shared by the HTTP server and the operator tools.
package bootstrap

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/billing"
	"github.com/mmdatafocus/tuition_backend/config"
	"github.com/mmdatafocus/tuition_backend/planlock"
	"github.com/mmdatafocus/tuition_backend/settings"
	"github.com/mmdatafocus/tuition_backend/store/gormstore"
	"github.com/sirupsen/logrus"
)

type Runtime struct {
	Engine  *billing.Engine
	Store   *gormstore.Store
	Billing config.Billing

	audit *audit.Async
	topic *pubsub.Topic
}

// Connect opens the database and Redis, waiting until both answer or ctx ends.
func Connect(ctx context.Context) error {
	if err := config.ConnectDatabaseWithRetry(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := config.ConnectRedisWithRetry(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Build wires the engine. Connect must have succeeded. migrate runs AutoMigrate first.
func Build(ctx context.Context, logger *logrus.Logger, migrate bool) (*Runtime, error) {
	cfg, err := config.LoadBilling()
	if err != nil {
		return nil, err
	}
	st := gormstore.New(config.GetDB())
	if migrate {
		if err := st.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	commissions, err := settings.ParseCommissionTable(cfg.CommissionTable)
	if err != nil {
		return nil, err
	}
	provider := settings.NewCached(
		settings.Static{Vat: cfg.DefaultVatRate, Commission: commissions},
		config.GetRedisDB(),
		cfg.SettingsCacheTTL,
	)

	var locker planlock.Locker = planlock.NewLocal()
	if cfg.UseRedisPlanLock && config.GetRedisLock() != nil {
		locker = planlock.NewRedis(config.GetRedisLock(), cfg.PlanLockTTL, logger)
	}

	sinks := audit.Multi{audit.LogSink{Logger: logger}, audit.NewHistorySink(config.GetDB())}
	topic, ok, err := config.AuditTopic(ctx)
	if err != nil {
		// activity history still lands in the table
		config.LogError(logger, "bootstrap", "Build", "AuditTopic", nil, err)
	} else if ok {
		sinks = append(sinks, audit.NewPubSubSink(topic))
	}
	async := audit.NewAsync(sinks, logger)

	engine := billing.New(st,
		billing.WithLocker(locker),
		billing.WithSettings(provider),
		billing.WithAudit(async),
		billing.WithLogger(logger),
	)
	return &Runtime{Engine: engine, Store: st, Billing: cfg, audit: async, topic: topic}, nil
}

// Close drains pending audit entries before releasing connections.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	r.audit.Wait()
	config.ClosePubSub(r.topic)
	config.CloseRedis()
	if db := config.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
