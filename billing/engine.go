// Package billing keeps student debt, cash registers, installment schedules and
// auto-generated expenses moving together. Every mutating operation runs under a
// per-plan lock inside one store transaction, so it either fully applies or leaves
// nothing behind.
package billing

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/tuition_backend/audit"
	"github.com/mmdatafocus/tuition_backend/config"
	"github.com/mmdatafocus/tuition_backend/models"
	"github.com/mmdatafocus/tuition_backend/planlock"
	"github.com/mmdatafocus/tuition_backend/settings"
	"github.com/mmdatafocus/tuition_backend/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const entityPaymentPlan = "PaymentPlan"

// Quote is what the enrollment side knows about a student's course in a season.
type Quote struct {
	Price            decimal.Decimal
	DiscountEligible bool
	PricingMode      string // e.g. "monthly", "perLesson"
}

// EnrollmentLookup prices an enrollment when the caller does not pass an explicit amount.
type EnrollmentLookup interface {
	Quote(ctx context.Context, studentId, courseId, seasonId int) (Quote, error)
}

type Engine struct {
	store       store.Store
	locker      planlock.Locker
	audit       audit.Sink
	settings    settings.Provider
	enrollments EnrollmentLookup
	logger      *logrus.Logger
	validate    *validator.Validate
	now         func() time.Time
	tracer      trace.Tracer
}

type Option func(*Engine)

func WithLocker(l planlock.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithAudit sets the sink entries go to after commit. Wrap slow sinks in audit.Async.
func WithAudit(s audit.Sink) Option { return func(e *Engine) { e.audit = s } }

func WithSettings(p settings.Provider) Option { return func(e *Engine) { e.settings = p } }

func WithEnrollments(l EnrollmentLookup) Option { return func(e *Engine) { e.enrollments = l } }

func WithLogger(l *logrus.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		locker:   planlock.NewLocal(),
		audit:    audit.Nop{},
		settings: settings.Static{},
		logger:   config.GetLogger(),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   otel.Tracer("github.com/mmdatafocus/tuition_backend/billing"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) startSpan(ctx context.Context, name string, planId int) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "billing."+name, trace.WithAttributes(attribute.Int("plan.id", planId)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// withPlan locks the plan, loads it inside a transaction and hands it to fn.
// fn's error rolls the whole transaction back.
func (e *Engine) withPlan(ctx context.Context, planId int, fn func(tx store.Store, plan *models.PaymentPlan) error) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	unlock, err := e.locker.Lock(ctx, planId)
	if err != nil {
		return classify(err)
	}
	defer unlock()

	err = e.store.Transaction(ctx, func(tx store.Store) error {
		plan, err := tx.GetPlan(ctx, planId)
		if err != nil {
			if store.IsNotFound(err) {
				return notFound("payment plan", planId)
			}
			return err
		}
		return fn(tx, plan)
	})
	return classify(err)
}

// record hands an entry to the audit sink. Sink failures are logged, never returned.
func (e *Engine) record(ctx context.Context, plan *models.PaymentPlan, action, description string) {
	entry := audit.Entry{
		Action:        action,
		Entity:        entityPaymentPlan,
		EntityId:      plan.ID,
		Description:   description,
		InstitutionId: plan.InstitutionId,
		SeasonId:      plan.SeasonId,
	}
	if err := e.audit.Record(ctx, audit.Stamp(ctx, entry)); err != nil {
		config.LogError(e.logger, "billing", "record", action, entry, err)
	}
}

func (e *Engine) logFailure(funcName string, data any, err error) {
	if err == nil || Kind(err) != ErrInternal {
		return
	}
	config.LogError(e.logger, "billing", funcName, "operation rolled back", data, err)
}

// adjustBalances applies the student and register side of a settlement or reversal.
func adjustBalances(ctx context.Context, tx store.Store, studentId int, studentDelta decimal.Decimal, registerId int, registerDelta decimal.Decimal) error {
	if err := tx.AdjustCashRegisterBalance(ctx, registerId, registerDelta); err != nil {
		return err
	}
	return tx.AdjustStudentBalance(ctx, studentId, studentDelta)
}

func intPtr(v int) *int { return &v }
