// Package dashboard holds the state behind the finance dashboard: the last
// snapshot read from the finance API, the entry form draft and the selected
// month. It is safe for concurrent use by HTTP handlers.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"finboard/internal/cache"
	"finboard/internal/core"
	applog "finboard/internal/log"
)

// API is the remote finance API.
type API interface {
	ListTransactions(ctx context.Context) ([]core.Transaction, error)
	Summary(ctx context.Context) (core.Summary, error)
	CreateTransaction(ctx context.Context, p core.Payload) error
	BudgetStatus(ctx context.Context) ([]core.BudgetStatus, error)
}

// SnapshotStore keeps the last good snapshot and the submission log.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s core.Snapshot) error
	LoadSnapshot(ctx context.Context) (core.Snapshot, bool, error)
	RecordSubmission(ctx context.Context, s core.Submission) error
}

// EventPublisher announces created transactions.
type EventPublisher interface {
	PublishTransactionCreated(ctx context.Context, p core.Payload) error
}

// SubmitResult reports how far a submission got.
type SubmitResult struct {
	Created   bool
	Refreshed bool
}

// Source tells where the current snapshot came from.
type Source string

const (
	SourceNone     Source = ""
	SourceRemote   Source = "remote"
	SourceSnapshot Source = "snapshot"
)

const (
	viewCacheSize      = 64
	viewCacheTTL       = 10 * time.Minute
	defaultLoadTimeout = 7 * time.Second
)

type Dashboard struct {
	api         API
	store       SnapshotStore
	events      EventPublisher
	loc         *time.Location
	now         func() time.Time
	logger      *applog.Logger
	slog        *applog.StructuredLogger
	views       *cache.LRUCache[monthView]
	loads       singleflight.Group
	loadTimeout time.Duration

	mu         sync.RWMutex
	snap       core.Snapshot
	source     Source
	generation uint64
	draft      core.Draft
	month      int
	notice     string
	// startedLoads numbers fetches in start order; appliedLoad is the number
	// of the fetch behind snap. An older fetch never replaces a newer one.
	startedLoads uint64
	appliedLoad  uint64

	saveMu    sync.Mutex
	savedLoad uint64
}

// Option configures a Dashboard.
type Option func(*Dashboard)

func WithSnapshotStore(s SnapshotStore) Option { return func(d *Dashboard) { d.store = s } }

func WithEventPublisher(p EventPublisher) Option { return func(d *Dashboard) { d.events = p } }

// WithLocation sets the zone used to decide a transaction's month.
func WithLocation(loc *time.Location) Option { return func(d *Dashboard) { d.loc = loc } }

func WithClock(now func() time.Time) Option { return func(d *Dashboard) { d.now = now } }

func WithLogger(l *applog.Logger) Option { return func(d *Dashboard) { d.logger = l } }

// WithLoadTimeout bounds a shared Load, which runs detached from the
// cancellation of the callers waiting on it.
func WithLoadTimeout(t time.Duration) Option {
	return func(d *Dashboard) {
		if t > 0 {
			d.loadTimeout = t
		}
	}
}

// New builds a dashboard with an empty snapshot, an empty draft and the
// current month selected.
func New(api API, opts ...Option) *Dashboard {
	d := &Dashboard{
		api:         api,
		loc:         time.Local,
		now:         time.Now,
		logger:      applog.Discard(),
		draft:       core.EmptyDraft(),
		views:       cache.NewLRUCache[monthView](viewCacheSize, viewCacheTTL),
		loadTimeout: defaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent(applog.ComponentDashboard)
	d.slog = applog.NewStructuredLogger(d.logger)
	d.month = int(d.now().In(d.loc).Month()) - 1
	d.snap.Transactions = []core.Transaction{}
	return d
}

// ViewCache exposes the view memo so it can be registered for cleanup.
func (d *Dashboard) ViewCache() cache.Cleaner {
	return d.views
}

// ViewCacheStats reports hits, misses and current entries of the view memo.
func (d *Dashboard) ViewCacheStats() (hits, misses uint64, size int) {
	hits, misses = d.views.Stats()
	return hits, misses, d.views.Size()
}

// Restore seeds the dashboard from the snapshot store when nothing has been
// loaded yet. It reports whether a snapshot was applied.
func (d *Dashboard) Restore(ctx context.Context) (bool, error) {
	if d.store == nil {
		return false, nil
	}
	snap, ok, err := d.store.LoadSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("restore snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}

	d.mu.Lock()
	if d.source != SourceNone {
		d.mu.Unlock()
		return false, nil
	}
	d.swap(snap, SourceSnapshot)
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "Snapshot restored",
		applog.FieldTxCount, len(snap.Transactions),
		"loaded_at", snap.LoadedAt)
	return true, nil
}

// Load fetches the transactions and then the summary and replaces the
// snapshot with both. Concurrent calls share one fetch, bounded by the load
// timeout rather than by any caller's context; each caller stops waiting
// when its own ctx ends. On failure the previous snapshot is kept and the
// error becomes the page notice.
func (d *Dashboard) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return d.loadFailed(ctx, d.beginLoad(), err)
	}
	ch := d.loads.DoChan("load", func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.loadTimeout)
		defer cancel()
		return nil, d.load(lctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dashboard) beginLoad() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startedLoads++
	return d.startedLoads
}

// load runs one fetch under ctx without joining any fetch in flight.
func (d *Dashboard) load(ctx context.Context) error {
	seq := d.beginLoad()
	start := d.now()

	txs, err := d.api.ListTransactions(ctx)
	if err != nil {
		return d.loadFailed(ctx, seq, fmt.Errorf("list transactions: %w", err))
	}
	summary, err := d.api.Summary(ctx)
	if err != nil {
		return d.loadFailed(ctx, seq, fmt.Errorf("fetch summary: %w", err))
	}
	budgets, err := d.api.BudgetStatus(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "Budget status unavailable", applog.FieldError, err)
		budgets = nil
	}

	snap := core.Snapshot{Transactions: txs, Summary: summary, Budgets: budgets, LoadedAt: d.now()}

	d.mu.Lock()
	if seq < d.appliedLoad {
		d.mu.Unlock()
		d.logger.DebugContext(ctx, "Discarding fetch overtaken by a newer one", applog.FieldOperation, applog.OpLoad)
		return nil
	}
	d.appliedLoad = seq
	d.swap(snap, SourceRemote)
	d.notice = ""
	gen := d.generation
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "Dashboard loaded",
		applog.FieldOperation, applog.OpLoad,
		applog.FieldTxCount, len(txs),
		applog.FieldGeneration, gen,
		applog.FieldDuration, d.now().Sub(start).Milliseconds())

	d.persist(ctx, seq, snap)
	return nil
}

func (d *Dashboard) persist(ctx context.Context, seq uint64, snap core.Snapshot) {
	if d.store == nil {
		return
	}
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	if seq < d.savedLoad {
		return
	}
	d.savedLoad = seq
	if err := d.store.SaveSnapshot(ctx, snap); err != nil {
		d.slog.LogError(ctx, "Failed to persist snapshot", err, applog.ComponentStorage, applog.OpPersist, nil)
	}
}

// loadFailed leaves the notice alone when a newer fetch already succeeded.
func (d *Dashboard) loadFailed(ctx context.Context, seq uint64, err error) error {
	d.mu.Lock()
	if seq > d.appliedLoad {
		d.notice = noticeFor("Could not load data", err)
	}
	d.mu.Unlock()
	d.slog.LogError(ctx, "Dashboard load failed", err, applog.ComponentDashboard, applog.OpLoad, nil)
	return err
}

// swap must be called with mu held.
func (d *Dashboard) swap(snap core.Snapshot, src Source) {
	if snap.Transactions == nil {
		snap.Transactions = []core.Transaction{}
	}
	d.snap = snap
	d.source = src
	d.generation++
	d.views.Purge()
}

// SetField updates one draft field by its form name.
func (d *Dashboard) SetField(name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, err := d.draft.Set(name, value)
	if err != nil {
		return err
	}
	d.draft = next
	return nil
}

// applyLocked sets several fields at once; nothing changes if any fails.
// It must be called with mu held.
func (d *Dashboard) applyLocked(values map[string]string) (core.Draft, error) {
	next := d.draft
	for name, value := range values {
		var err error
		if next, err = next.Set(name, value); err != nil {
			return d.draft, err
		}
	}
	d.draft = next
	return next, nil
}

// Submit creates the current draft as a transaction.
func (d *Dashboard) Submit(ctx context.Context) (SubmitResult, error) {
	return d.SubmitDraft(ctx, nil)
}

// SubmitDraft applies values to the draft and creates the result as a
// transaction, then refetches everything. Applying and capturing the draft
// happen under one lock, so concurrent submissions each send their own.
// A failed create keeps the draft. After a successful create the draft is
// cleared unless it was edited meanwhile, and a failed refetch is returned.
func (d *Dashboard) SubmitDraft(ctx context.Context, values map[string]string) (SubmitResult, error) {
	d.mu.Lock()
	draft, err := d.applyLocked(values)
	d.mu.Unlock()
	if err != nil {
		return SubmitResult{}, err
	}

	payload := draft.Payload(d.now())
	err = d.api.CreateTransaction(ctx, payload)
	d.record(ctx, payload, err)
	d.slog.LogSubmission(ctx, string(payload.Type), payload.Category, payload.Description, float64(payload.Amount), err)
	if err != nil {
		d.setNotice(noticeFor("Could not save transaction", err))
		return SubmitResult{}, fmt.Errorf("create transaction: %w", err)
	}

	d.mu.Lock()
	if d.draft == draft {
		d.draft = core.EmptyDraft()
	}
	d.mu.Unlock()

	if d.events != nil {
		if err := d.events.PublishTransactionCreated(ctx, payload); err != nil {
			d.slog.LogError(ctx, "Failed to publish transaction event", err, applog.ComponentAMQP, applog.OpPublish, nil)
		}
	}

	// A fetch already in flight may predate the create, so never join it.
	if err := d.load(ctx); err != nil {
		return SubmitResult{Created: true}, fmt.Errorf("refresh after create: %w", err)
	}
	return SubmitResult{Created: true, Refreshed: true}, nil
}

func (d *Dashboard) record(ctx context.Context, p core.Payload, err error) {
	if d.store == nil {
		return
	}
	sub := core.Submission{Payload: p, Created: err == nil, SubmittedAt: d.now()}
	if err != nil {
		sub.Error = err.Error()
	}
	if rerr := d.store.RecordSubmission(ctx, sub); rerr != nil {
		d.slog.LogError(ctx, "Failed to record submission", rerr, applog.ComponentStorage, applog.OpPersist, nil)
	}
}

// SelectMonth changes the selected month (0 = January).
func (d *Dashboard) SelectMonth(m int) error {
	if m < 0 || m > 11 {
		return fmt.Errorf("%w: %d", core.ErrInvalidMonth, m)
	}
	d.mu.Lock()
	d.month = m
	d.mu.Unlock()
	return nil
}

// Month returns the selected month.
func (d *Dashboard) Month() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.month
}

// Draft returns a copy of the form draft.
func (d *Dashboard) Draft() core.Draft {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.draft
}

// Snapshot returns the current snapshot and its generation.
func (d *Dashboard) Snapshot() (core.Snapshot, uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap, d.generation
}

// Ready reports whether any snapshot, remote or restored, is available.
func (d *Dashboard) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.source != SourceNone
}

// Source reports where the current snapshot came from.
func (d *Dashboard) Source() Source {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.source
}

// Notice returns the message of the last failed operation, if any.
func (d *Dashboard) Notice() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.notice
}

// DismissNotice clears the notice.
func (d *Dashboard) DismissNotice() {
	d.setNotice("")
}

func (d *Dashboard) setNotice(msg string) {
	d.mu.Lock()
	d.notice = msg
	d.mu.Unlock()
}

func noticeFor(prefix string, err error) string {
	var coder interface{ StatusCode() int }
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return prefix + ": the finance API did not answer in time."
	case errors.Is(err, context.Canceled):
		return prefix + ": the request was cancelled."
	case errors.As(err, &coder):
		return prefix + ": the finance API answered " + strconv.Itoa(coder.StatusCode()) + "."
	default:
		return prefix + ": the finance API is unreachable."
	}
}
