package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"caseline/internal/calendar"
	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/metrics"
	"caseline/internal/notify"
	"caseline/internal/repo"
)

// ChecklistSource supplies the per-item completion summary consumed by the determine gate.
type ChecklistSource interface {
	ChecklistSummary(ctx context.Context, q repo.Querier, caseID string) (map[string]bool, error)
}

// Engine runs every case and validation-request operation. Each call is one
// transaction that appends exactly one audit entry; calls against the same case
// are serialized.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Config    *config.Config
	Calendar  *calendar.Calendar
	Notifier  notify.Dispatcher
	Checklist ChecklistSource
	Documents DocumentResolver
	Effects   map[string]CloseEffect
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time

	locks *caseLocks
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cal, err := cfg.BusinessCalendar()
	if err != nil {
		return Engine{}, err
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Config:    cfg,
		Calendar:  cal,
		Notifier:  notify.Discard{},
		Checklist: r,
		Documents: OpaqueDocuments{},
		Effects:   DefaultEffects(),
		Logger:    slog.Default(),
		Now:       time.Now,
		locks:     newCaseLocks(),
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) audit() events.Writer {
	return events.Writer{Now: e.now}
}

// unit is the state of one operation against one case.
type unit struct {
	tx       *sql.Tx
	c        domain.Case
	now      time.Time
	ts       string
	entry    *events.Entry
	intents  []notify.Intent
	resolved [][2]string
}

func (u *unit) record(entry events.Entry) {
	u.entry = &entry
}

func (u *unit) notify(event, requestID string, data map[string]any) {
	u.intents = append(u.intents, notify.Intent{Event: event, RequestID: requestID, Data: data})
}

func (u *unit) resolvedRequest(kind, state string) {
	u.resolved = append(u.resolved, [2]string{kind, state})
}

// withCase loads the case under its lock, runs fn, persists the case, appends the
// audit entry fn recorded and commits. Notifications are queued after commit.
func (e Engine) withCase(ctx context.Context, op, caseID string, expectedVersion int, fn func(u *unit) error) (_ domain.Case, err error) {
	defer func() { e.Metrics.IncrementOperation(op, outcome(err)) }()
	if e.locks == nil {
		return domain.Case{}, errors.New("engine not initialised; use engine.New")
	}
	unlock := e.locks.lock(caseID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	cur, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, notFound(err, "case", caseID)
	}
	if expectedVersion > 0 && cur.Version != expectedVersion {
		return domain.Case{}, stale(caseID, expectedVersion, cur.Version)
	}
	now := e.now()
	u := &unit{tx: tx, c: cur, now: now, ts: now.UTC().Format(time.RFC3339)}
	if err := fn(u); err != nil {
		return domain.Case{}, err
	}
	if u.entry == nil {
		return domain.Case{}, fmt.Errorf("%s: no audit entry recorded", op)
	}
	if err := requireActor(u.entry.ActorID); err != nil {
		return domain.Case{}, err
	}
	u.c.UpdatedAt = u.ts
	updated, err := e.Repo.UpdateCase(ctx, tx, u.c)
	if err != nil {
		if errors.Is(err, repo.ErrVersionMismatch) {
			return domain.Case{}, stale(caseID, cur.Version, -1)
		}
		return domain.Case{}, err
	}
	u.entry.CaseID = caseID
	if _, err := e.audit().Append(ctx, tx, *u.entry); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	for _, r := range u.resolved {
		e.Metrics.IncrementResolved(r[0], r[1])
	}
	e.dispatch(updated, u.ts, u.intents)
	return updated, nil
}

func (e Engine) dispatch(c domain.Case, ts string, intents []notify.Intent) {
	if e.Notifier == nil || len(intents) == 0 {
		return
	}
	if c.ApplicantEmail == "" {
		e.logger().Debug("no applicant email; notifications skipped", "case_id", c.ID, "count", len(intents))
		return
	}
	for _, in := range intents {
		in.CaseID = c.ID
		in.Reference = c.Reference
		in.Recipient = c.ApplicantEmail
		in.OccurredAt = ts
		e.Notifier.Dispatch(in)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := domain.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

func notFound(err error, what, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.WithMetadata(domain.CodeNotFound, fmt.Sprintf("%s %s not found", what, id), map[string]string{what + "_id": id})
	}
	return err
}

func stale(caseID string, expected, actual int) error {
	md := map[string]string{"case_id": caseID, "expected_version": fmt.Sprint(expected)}
	if actual >= 0 {
		md["actual_version"] = fmt.Sprint(actual)
	}
	return domain.WithMetadata(domain.CodeStaleState, fmt.Sprintf("case %s was modified concurrently; reload and retry", caseID), md)
}

func requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return domain.NewError(domain.CodeInvalidInput, "actor id is required")
	}
	return nil
}

func requireReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return domain.ErrReasonRequired
	}
	return nil
}
