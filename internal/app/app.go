// Package app wires all telling subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the entry loop and background workers, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSharedDocs,
// WithUplink, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vogelwacht/telling/internal/alias"
	"github.com/vogelwacht/telling/internal/aliasstore"
	"github.com/vogelwacht/telling/internal/config"
	"github.com/vogelwacht/telling/internal/health"
	"github.com/vogelwacht/telling/internal/interpret"
	"github.com/vogelwacht/telling/internal/match"
	"github.com/vogelwacht/telling/internal/notify"
	"github.com/vogelwacht/telling/internal/observation"
	"github.com/vogelwacht/telling/internal/observe"
	"github.com/vogelwacht/telling/pkg/docstore"
	"github.com/vogelwacht/telling/pkg/speech"
	"github.com/vogelwacht/telling/pkg/uplink"
)

// bufferName is the observation database file inside the private data dir.
const bufferName = "observations.db"

// recentLimit caps the recency list used for scoring bonuses.
const recentLimit = 10

// App owns all subsystem lifetimes: the alias persistence layer, the
// matcher, the interpreter, the observation buffer, and the service
// endpoint.
type App struct {
	cfg *config.Config

	shared  docstore.Store
	private docstore.Store
	source  speech.Source
	client  uplink.Client
	metrics *observe.Metrics

	broadcaster *notify.Broadcaster
	store       *aliasstore.Store
	matcher     *match.Matcher
	interp      *interpret.Interpreter
	buffer      *observation.Buffer
	worker      *observation.Worker
	watcher     *aliasstore.Watcher
	httpSrv     *http.Server

	// interpCtx is the current interpretation context, rebuilt after every
	// index reload.
	interpCtx atomic.Pointer[interpret.Context]

	// recents are recently confirmed species ids, most recent first.
	recentMu sync.Mutex
	recents  []string

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSharedDocs injects the shared document store instead of creating a
// filesystem store from config.
func WithSharedDocs(s docstore.Store) Option {
	return func(a *App) { a.shared = s }
}

// WithPrivateDocs injects the private document store.
func WithPrivateDocs(s docstore.Store) Option {
	return func(a *App) { a.private = s }
}

// WithSource injects the recognition source driving the entry loop.
func WithSource(s speech.Source) Option {
	return func(a *App) { a.source = s }
}

// WithUplink injects the counting-server client used by the upload worker.
// Without one, observations accumulate in the local buffer.
func WithUplink(c uplink.Client) Option {
	return func(a *App) { a.client = c }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous apart from the first index load, which the matcher performs in
// the background so the entry loop is responsive immediately.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initDocs(); err != nil {
		return nil, fmt.Errorf("app: init document stores: %w", err)
	}
	a.initAliases()
	if err := a.initBuffer(ctx); err != nil {
		return nil, fmt.Errorf("app: init observation buffer: %w", err)
	}
	a.initHTTP()

	if err := a.refreshContext(ctx); err != nil {
		slog.Warn("app: initial species context unavailable", "err", err)
	}
	go a.matcher.EnsureLoaded(context.WithoutCancel(ctx))

	return a, nil
}

// OpenDocStores opens the private and shared filesystem document stores from
// config. Shared by the application and the one-shot maintenance commands.
func OpenDocStores(cfg *config.Config) (private, shared docstore.Store, err error) {
	p, err := docstore.NewFSStore(cfg.Data.PrivateDir)
	if err != nil {
		return nil, nil, err
	}
	s, err := docstore.NewFSStore(cfg.Data.SharedDir)
	if err != nil {
		return nil, nil, err
	}
	return p, s, nil
}

// initDocs creates the filesystem document stores unless doubles were
// injected.
func (a *App) initDocs() error {
	if a.shared == nil {
		s, err := docstore.NewFSStore(a.cfg.Data.SharedDir)
		if err != nil {
			return err
		}
		a.shared = s
	}
	if a.private == nil {
		s, err := docstore.NewFSStore(a.cfg.Data.PrivateDir)
		if err != nil {
			return err
		}
		a.private = s
	}
	return nil
}

// initAliases wires the persistence layer, the matcher, the interpreter, and
// the master-list watcher.
func (a *App) initAliases() {
	a.broadcaster = &notify.Broadcaster{}

	var storeOpts []aliasstore.Option
	if d := a.cfg.Rebuild.Debounce(); d > 0 {
		storeOpts = append(storeOpts, aliasstore.WithDebounce(d))
	}
	storeOpts = append(storeOpts,
		aliasstore.WithBroadcaster(a.broadcaster),
		aliasstore.WithMetrics(a.metrics),
	)
	a.store = aliasstore.New(a.private, a.shared, storeOpts...)

	a.matcher = match.New(a.store.LoadIndex)

	var interpOpts []interpret.Option
	m := a.cfg.Matching
	if m.FuzzyThreshold > 0 {
		interpOpts = append(interpOpts, interpret.WithFuzzyThreshold(m.FuzzyThreshold))
	}
	if m.AcceptThreshold > 0 {
		interpOpts = append(interpOpts, interpret.WithAcceptThreshold(m.AcceptThreshold))
	}
	if m.AmbiguityGap > 0 {
		interpOpts = append(interpOpts, interpret.WithAmbiguityGap(m.AmbiguityGap))
	}
	if m.TopN > 0 {
		interpOpts = append(interpOpts, interpret.WithTopN(m.TopN))
	}
	if m.HypothesisWeight > 0 {
		interpOpts = append(interpOpts, interpret.WithHypothesisWeight(m.HypothesisWeight))
	}
	if m.LeadingPrefix != "" {
		interpOpts = append(interpOpts, interpret.WithLeadingPrefix(m.LeadingPrefix))
	}
	a.interp = interpret.New(a.matcher, interpOpts...)

	var watchOpts []aliasstore.WatcherOption
	if d := a.cfg.Rebuild.WatchInterval(); d > 0 {
		watchOpts = append(watchOpts, aliasstore.WithInterval(d))
	}
	// The store's own saves already scheduled their debounced rebuild; the
	// filter keeps them from short-circuiting the quiet period as fake
	// external edits.
	watchOpts = append(watchOpts, aliasstore.WithSelfWriteFilter(a.store.WroteMaster))
	a.watcher = aliasstore.NewWatcher(a.shared, func() {
		a.store.RequestRebuild(true)
	}, watchOpts...)
	a.closers = append(a.closers, func() error {
		a.watcher.Stop()
		return nil
	})
}

// initBuffer opens the SQLite observation buffer and, when an uplink client
// is present and uploads are enabled, the drain worker.
func (a *App) initBuffer(ctx context.Context) error {
	buf, err := observation.Open(filepath.Join(a.cfg.Data.PrivateDir, bufferName))
	if err != nil {
		return err
	}
	a.buffer = buf
	a.closers = append(a.closers, buf.Close)

	if pending, _, err := buf.Counts(ctx); err == nil {
		a.metrics.PendingObservations.Add(ctx, int64(pending))
		if pending > 0 {
			slog.Info("observations pending from previous session", "count", pending)
		}
	}

	switch {
	case a.client == nil:
		slog.Info("no uplink client configured; observations stay buffered locally")
	case !a.cfg.Upload.Enabled:
		slog.Info("upload disabled; observations stay buffered locally")
	default:
		wopts := []observation.WorkerOption{observation.WithMetrics(a.metrics)}
		if d := a.cfg.Upload.Interval(); d > 0 {
			wopts = append(wopts, observation.WithInterval(d))
		}
		if a.cfg.Upload.BatchSize > 0 {
			wopts = append(wopts, observation.WithBatchSize(a.cfg.Upload.BatchSize))
		}
		a.worker = observation.NewWorker(buf, a.client, wopts...)
	}
	return nil
}

// initHTTP builds the metrics/health endpoint when a listen address is
// configured.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Checker{Name: "index", Check: a.matcher.EnsureLoaded},
		health.Checker{Name: "buffer", Check: func(ctx context.Context) error {
			_, _, err := a.buffer.Counts(ctx)
			return err
		}},
	).Register(mux)

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background workers and the entry loop, blocking until ctx
// is cancelled or the recognition source closes.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		g.Go(func() error {
			slog.Info("service endpoint listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		})
	}

	if a.worker != nil {
		g.Go(func() error {
			err := a.worker.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		a.watchReloads(ctx)
		return nil
	})

	if a.source != nil {
		g.Go(func() error {
			a.entryLoop(ctx)
			return nil
		})
	}

	slog.Info("app running")
	return g.Wait()
}

// watchReloads reacts to index rebuild notifications: a completed rebuild
// swaps the matcher snapshot and refreshes the species context.
func (a *App) watchReloads(ctx context.Context) {
	events, unsubscribe := a.broadcaster.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != notify.ReloadCompleted || !ev.Success {
				continue
			}
			a.matcher.Reload()
			if err := a.refreshContext(ctx); err != nil {
				slog.Warn("species context refresh failed", "err", err)
			}
		}
	}
}

// entryLoop consumes recognition cycles and applies the interpretation
// outcome.
func (a *App) entryLoop(ctx context.Context) {
	cycles := a.source.Cycles()
	for {
		select {
		case <-ctx.Done():
			return
		case cycle, ok := <-cycles:
			if !ok {
				return
			}
			a.handleCycle(ctx, cycle)
		}
	}
}

// handleCycle interprets one recognition cycle and records accepted counts.
func (a *App) handleCycle(ctx context.Context, cycle speech.Cycle) {
	heard := cycle.Partial
	if len(cycle.Hypotheses) > 0 {
		heard = cycle.Hypotheses[0].Text
	}

	start := time.Now()
	res := a.interp.Interpret(cycle, a.contextSnapshot())
	a.metrics.MatchDuration.Record(ctx, time.Since(start).Seconds())

	switch r := res.(type) {
	case interpret.AutoAccept:
		a.metrics.RecordInterpretation(ctx, "auto_accept")
		a.record(ctx, r.Candidate, r.Amount, heard)

	case interpret.AutoAcceptAddPopup:
		// The species is not active at this site view; recording still
		// proceeds, the display layer owns the confirmation.
		a.metrics.RecordInterpretation(ctx, "add_popup")
		slog.Info("species not on active tiles, recording anyway",
			"species", r.Candidate.SpeciesID, "name", r.Candidate.Name)
		a.record(ctx, r.Candidate, r.Amount, heard)

	case interpret.MultiMatch:
		a.metrics.RecordInterpretation(ctx, "multi_match")
		for _, m := range r.Matches {
			a.record(ctx, m.Candidate, m.Amount, heard)
		}

	case interpret.SuggestionList:
		a.metrics.RecordInterpretation(ctx, "suggestions")
		names := make([]string, 0, len(r.Candidates))
		for _, c := range r.Candidates {
			names = append(names, fmt.Sprintf("%s (%.2f)", c.Name, c.Score))
		}
		slog.Info("ambiguous utterance", "heard", r.Hypothesis, "suggestions", names)

	case interpret.NoMatch:
		a.metrics.RecordInterpretation(ctx, "no_match")
		if r.Hypothesis != "" {
			slog.Info("no species matched", "heard", r.Hypothesis)
		}
	}
}

// record appends one accepted observation to the buffer.
func (a *App) record(ctx context.Context, c interpret.Candidate, amount int, heard string) {
	id, err := a.buffer.Append(ctx, observation.Observation{
		SpeciesID: c.SpeciesID,
		Name:      c.Name,
		Amount:    amount,
		Heard:     heard,
	})
	if err != nil {
		slog.Error("failed to buffer observation", "species", c.SpeciesID, "err", err)
		return
	}
	a.metrics.PendingObservations.Add(ctx, 1)
	a.pushRecent(c.SpeciesID)
	slog.Info("observation recorded",
		"id", id, "species", c.SpeciesID, "name", c.Name, "amount", amount)
}

// ConfirmSuggestion records a user-confirmed disambiguation: the heard text
// becomes a field-trained alias of the chosen species, matchable immediately
// via hot-patch and durable through the master document, and the observation
// itself is buffered. The debounced cache rebuild follows from the alias
// write.
func (a *App) ConfirmSuggestion(ctx context.Context, speciesID, heard string, amount int) error {
	ic := a.contextSnapshot()
	name := ic.DisplayName(speciesID, heard)

	if _, err := a.matcher.AddAliasHotpatch(speciesID, heard, name, ""); err != nil {
		return fmt.Errorf("app: confirm suggestion: %w", err)
	}
	if _, err := a.store.AddAlias(ctx, speciesID, name, "", heard, alias.SourceFieldTraining); err != nil {
		// The hot-patch already made the alias matchable for this session;
		// only durability is lost, which the next confirmation retries.
		slog.Warn("field-trained alias not persisted", "species", speciesID, "err", err)
	}
	a.metrics.RecordInterpretation(ctx, "confirmed")

	a.record(ctx, interpret.Candidate{SpeciesID: speciesID, Name: name}, amount, heard)
	return nil
}

// ─── Interpretation context ──────────────────────────────────────────────────

// refreshContext rebuilds the interpretation context from the master list
// and the configured site restrictions.
func (a *App) refreshContext(ctx context.Context) error {
	master, err := a.store.LoadMaster(ctx)
	if err != nil {
		return err
	}

	ic := interpret.Context{
		TileSpeciesIDs: make(map[string]struct{}, len(master.Species)),
		SpeciesByID:    make(map[string]interpret.Species, len(master.Species)),
	}
	for _, sp := range master.Species {
		ic.TileSpeciesIDs[sp.SpeciesID] = struct{}{}
		ic.SpeciesByID[sp.SpeciesID] = interpret.Species{
			Canonical: sp.Canonical,
			Short:     sp.TileName,
		}
	}
	if ids := a.cfg.Site.AllowedSpeciesIDs; len(ids) > 0 {
		ic.SiteAllowedIDs = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			ic.SiteAllowedIDs[id] = struct{}{}
		}
	}

	a.recentMu.Lock()
	ic.RecentIDs = append([]string(nil), a.recents...)
	a.recentMu.Unlock()

	a.interpCtx.Store(&ic)
	return nil
}

// contextSnapshot returns the current interpretation context with a fresh
// recency list.
func (a *App) contextSnapshot() interpret.Context {
	p := a.interpCtx.Load()
	if p == nil {
		return interpret.Context{}
	}
	ic := *p
	a.recentMu.Lock()
	ic.RecentIDs = append([]string(nil), a.recents...)
	a.recentMu.Unlock()
	return ic
}

// pushRecent moves id to the front of the recency list.
func (a *App) pushRecent(id string) {
	a.recentMu.Lock()
	defer a.recentMu.Unlock()

	out := make([]string, 0, len(a.recents)+1)
	out = append(out, id)
	for _, r := range a.recents {
		if r != id {
			out = append(out, r)
		}
	}
	if len(out) > recentLimit {
		out = out[:recentLimit]
	}
	a.recents = out
}

// ─── Accessors for the command layer ─────────────────────────────────────────

// Store exposes the alias persistence layer (seed import, forced rebuilds).
func (a *App) Store() *aliasstore.Store { return a.store }

// Matcher exposes the alias matcher (hot-patching new aliases).
func (a *App) Matcher() *match.Matcher { return a.matcher }

// Buffer exposes the observation buffer.
func (a *App) Buffer() *observation.Buffer { return a.buffer }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Flush a pending debounced rebuild so the shared cache is current
		// for the next session.
		if a.store.RebuildPending() {
			if err := a.store.RebuildNow(ctx); err != nil {
				slog.Warn("final rebuild failed", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
