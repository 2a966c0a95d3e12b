// Package audit records who did what to the ledger.
// Sinks are best-effort: a failing sink never fails the financial operation that produced the entry.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/tuition_backend/appctx"
	"github.com/mmdatafocus/tuition_backend/config"
	"github.com/sirupsen/logrus"
)

const (
	ActionCreate     = "create"
	ActionPay        = "pay"
	ActionRefund     = "refund"
	ActionDelete     = "delete"
	ActionCardCharge = "card_charge"
	ActionRepair     = "repair"
)

type Entry struct {
	ID            string    `json:"id"`
	UserId        int       `json:"user_id"`
	UserName      string    `json:"user_name"`
	Action        string    `json:"action"`
	Entity        string    `json:"entity"`
	EntityId      int       `json:"entity_id"`
	Description   string    `json:"description"`
	InstitutionId int       `json:"institution_id"`
	SeasonId      int       `json:"season_id"`
	CorrelationId string    `json:"correlation_id"`
	At            time.Time `json:"at"`
}

type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Stamp fills identity fields from ctx that the caller left empty.
func Stamp(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.UserId == 0 {
		e.UserId, _ = appctx.GetUserId(ctx)
	}
	if e.UserName == "" {
		e.UserName, _ = appctx.GetUserName(ctx)
	}
	if e.CorrelationId == "" {
		e.CorrelationId, _ = appctx.GetCorrelationId(ctx)
	}
	return e
}

// Async hands entries to the wrapped sink on a goroutine and logs failures.
type Async struct {
	next    Sink
	logger  *logrus.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(next Sink, logger *logrus.Logger) *Async {
	return &Async{next: next, logger: logger, timeout: 10 * time.Second}
}

func (a *Async) Record(ctx context.Context, entry Entry) error {
	entry = Stamp(ctx, entry)
	// the request context is usually gone by the time the sink runs
	detached := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sinkCtx, cancel := context.WithTimeout(detached, a.timeout)
		defer cancel()
		if err := a.next.Record(sinkCtx, entry); err != nil && a.logger != nil {
			config.LogError(a.logger, "audit", "Record", entry.Action, entry, err)
		}
	}()
	return nil
}

// Wait blocks until every in-flight entry has been handed to the wrapped sink.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Multi fans an entry out to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, entry Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes entries to logrus.
type LogSink struct {
	Logger *logrus.Logger
}

func (s LogSink) Record(_ context.Context, e Entry) error {
	s.Logger.WithFields(logrus.Fields{
		"field":          "audit",
		"action":         e.Action,
		"entity":         e.Entity,
		"entity_id":      e.EntityId,
		"user_id":        e.UserId,
		"institution_id": e.InstitutionId,
		"season_id":      e.SeasonId,
		"correlation_id": e.CorrelationId,
	}).Info(e.Description)
	return nil
}

// Nop drops every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// Recorder keeps entries in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}
