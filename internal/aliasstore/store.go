// Package aliasstore persists the alias index across three tiers: the
// human-editable master document (the durable source of truth), a compressed
// binary cache for fast loading, and a private fallback copy of that cache.
// It also owns the debounced, single-flight rebuild of the derived cache.
package aliasstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vogelwacht/telling/internal/alias"
	"github.com/vogelwacht/telling/internal/notify"
	"github.com/vogelwacht/telling/internal/observe"
	"github.com/vogelwacht/telling/pkg/docstore"
)

// Blob names within the alias directory.
const (
	aliasDir   = "aliases"
	cacheName  = "index.bin"
	masterName = "master.yaml"
	legacyName = "aliases.yaml"
)

// DefaultDebounce is the quiet period a cache rebuild waits for after the
// last edit. Rapid successive edits coalesce into one rebuild.
const DefaultDebounce = 30 * time.Second

// Option is a functional option for configuring a [Store].
type Option func(*Store)

// WithDebounce overrides the rebuild debounce window. Default: 30s.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithBroadcaster attaches a lifecycle broadcaster that receives reload
// started/completed signals. Optional; nil disables signalling.
func WithBroadcaster(b *notify.Broadcaster) Option {
	return func(s *Store) {
		s.broadcaster = b
	}
}

// WithMetrics overrides the metrics instance recording rebuilds and index
// loads. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Store loads and persists the alias index.
//
// Load order (first success wins): private binary cache, shared binary
// cache, master document, legacy flat wrapper. Failure at any tier falls
// through to the next with a logged warning; total failure yields an empty
// index, never an error — the matcher then simply matches nothing.
//
// All methods are safe for concurrent use.
type Store struct {
	private docstore.Store
	shared  docstore.Store

	debounce    time.Duration
	broadcaster *notify.Broadcaster
	metrics     *observe.Metrics

	// masterMu serializes the load-modify-save round trips on the master
	// document so concurrent edits cannot overwrite each other.
	masterMu sync.Mutex

	// savedMu guards the hash of the last master document this process
	// wrote, letting the watcher tell self-writes from external edits.
	savedMu   sync.Mutex
	savedHash [sha256.Size]byte
	hasSaved  bool

	// stateMu guards the Idle/Debouncing/Running bookkeeping below.
	// A request while Debouncing restarts the timer; a request while
	// Running queues exactly one follow-up rebuild.
	stateMu sync.Mutex
	timer   *time.Timer
	running bool
	pending bool

	// execMu makes rebuild execution mutually exclusive, including the
	// synchronous RebuildNow path.
	execMu sync.Mutex
}

// New creates a Store over a private and a shared blob store. The private
// store only ever holds the fallback cache copy; documents live in shared.
func New(private, shared docstore.Store, opts ...Option) *Store {
	s := &Store{
		private:  private,
		shared:   shared,
		debounce: DefaultDebounce,
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadIndex loads the alias records from the best available tier. Only a
// cancelled context produces an error; data problems degrade to the next
// tier and, in the worst case, to an empty result.
func (s *Store) LoadIndex(ctx context.Context) ([]alias.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type tier struct {
		name string
		load func(context.Context) ([]alias.Record, error)
	}
	tiers := []tier{
		{"private cache", func(ctx context.Context) ([]alias.Record, error) { return s.loadCache(ctx, s.private) }},
		{"shared cache", func(ctx context.Context) ([]alias.Record, error) { return s.loadCache(ctx, s.shared) }},
		{"master document", s.loadFromMaster},
		{"legacy document", s.loadFromLegacy},
	}

	for _, t := range tiers {
		records, err := t.load(ctx)
		if err == nil {
			slog.Debug("aliasstore: index loaded", "tier", t.name, "records", len(records))
			s.metrics.RecordIndexLoad(ctx, t.name, "ok")
			return records, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, docstore.ErrNotFound) {
			slog.Debug("aliasstore: tier empty", "tier", t.name)
		} else {
			// Corrupt artifacts are never authoritative, but they are also
			// not deleted: left in place for inspection.
			slog.Warn("aliasstore: tier unusable, falling through", "tier", t.name, "err", err)
			s.metrics.RecordIndexLoad(ctx, t.name, "error")
		}
	}

	slog.Warn("aliasstore: no alias data found in any tier, starting empty")
	s.metrics.RecordIndexLoad(ctx, "none", "empty")
	return nil, nil
}

func (s *Store) loadCache(ctx context.Context, from docstore.Store) ([]alias.Record, error) {
	if from == nil {
		return nil, docstore.ErrNotFound
	}
	data, err := from.Read(ctx, aliasDir, cacheName)
	if err != nil {
		return nil, err
	}
	return decodeContainer(data)
}

func (s *Store) loadFromMaster(ctx context.Context) ([]alias.Record, error) {
	m, err := s.readMaster(ctx)
	if err != nil {
		return nil, err
	}
	return m.ToIndex(), nil
}

func (s *Store) loadFromLegacy(ctx context.Context) ([]alias.Record, error) {
	m, err := s.readLegacy(ctx)
	if err != nil {
		return nil, err
	}
	return m.ToIndex(), nil
}

// LoadMaster returns the current master document, converting the legacy flat
// wrapper when that is the only copy. A store with no documents at all
// yields an empty master.
func (s *Store) LoadMaster(ctx context.Context) (*alias.Master, error) {
	m, err := s.readMaster(ctx)
	if err == nil {
		return m, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		slog.Warn("aliasstore: master document unusable", "err", err)
	}

	m, err = s.readLegacy(ctx)
	if err == nil {
		return m, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &alias.Master{}, nil
}

func (s *Store) readMaster(ctx context.Context) (*alias.Master, error) {
	data, err := s.shared.Read(ctx, aliasDir, masterName)
	if err != nil {
		return nil, err
	}
	var m alias.Master
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("aliasstore: decode master document: %w", err)
	}
	return &m, nil
}

// legacyFile is the pre-master flat wrapper format, kept readable so old
// installations upgrade without losing field-trained aliases.
type legacyFile struct {
	Aliases []struct {
		SpeciesID string  `yaml:"species_id"`
		Canonical string  `yaml:"canonical"`
		TileName  string  `yaml:"tile_name"`
		Alias     string  `yaml:"alias"`
		Phonemes  string  `yaml:"phonemes"`
		Weight    float64 `yaml:"weight"`
		Source    string  `yaml:"source"`
	} `yaml:"aliases"`
}

func (s *Store) readLegacy(ctx context.Context) (*alias.Master, error) {
	data, err := s.shared.Read(ctx, aliasDir, legacyName)
	if err != nil {
		return nil, err
	}
	var lf legacyFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("aliasstore: decode legacy document: %w", err)
	}

	m := &alias.Master{}
	for _, a := range lf.Aliases {
		src := a.Source
		if src == "" {
			src = alias.SourceSeedImport
		}
		m.Upsert(a.SpeciesID, a.Canonical, a.TileName, a.Alias, src)
	}
	return m, nil
}

// SaveMaster atomically replaces the master document. The write goes through
// the store's temp-then-replace discipline, so a crash mid-write leaves the
// previous document intact. Callers follow up with [Store.RequestRebuild].
func (s *Store) SaveMaster(ctx context.Context, m *alias.Master) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("aliasstore: encode master document: %w", err)
	}
	if err := s.shared.Write(ctx, aliasDir, masterName, data); err != nil {
		return fmt.Errorf("aliasstore: save master document: %w", err)
	}

	s.savedMu.Lock()
	s.savedHash = sha256.Sum256(data)
	s.hasSaved = true
	s.savedMu.Unlock()
	return nil
}

// WroteMaster reports whether hash matches the last master document this
// store wrote. The watcher uses it to skip change notifications for the
// process's own saves, which already scheduled their debounced rebuild.
func (s *Store) WroteMaster(hash [sha256.Size]byte) bool {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()
	return s.hasSaved && hash == s.savedHash
}

// AddAlias durably records a learned alias: master first (source of truth),
// then a debounced rebuild of the derived cache. Returns true when the alias
// was new.
func (s *Store) AddAlias(ctx context.Context, speciesID, canonical, tileName, text, source string) (bool, error) {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()

	m, err := s.LoadMaster(ctx)
	if err != nil {
		return false, err
	}
	if !m.Upsert(speciesID, canonical, tileName, text, source) {
		return false, nil
	}
	if err := s.SaveMaster(ctx, m); err != nil {
		return false, err
	}
	s.RequestRebuild(false)
	return true, nil
}

// ImportSeed merges a seed document (master YAML layout) into the current
// master: every seed alias plus each species' canonical and tile names are
// upserted with the seed-import source. Returns the number of newly added
// aliases and the total after the merge. The caller rebuilds the cache.
func (s *Store) ImportSeed(ctx context.Context, data []byte) (added, total int, err error) {
	var seed alias.Master
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, 0, fmt.Errorf("aliasstore: decode seed document: %w", err)
	}

	s.masterMu.Lock()
	defer s.masterMu.Unlock()

	m, err := s.LoadMaster(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, sp := range seed.Species {
		if sp.SpeciesID == "" || sp.Canonical == "" {
			return 0, 0, fmt.Errorf("aliasstore: seed species %q: species_id and canonical are required", sp.SpeciesID)
		}
		if m.Upsert(sp.SpeciesID, sp.Canonical, sp.TileName, sp.Canonical, alias.SourceSeedImport) {
			added++
		}
		if sp.TileName != "" && m.Upsert(sp.SpeciesID, sp.Canonical, sp.TileName, sp.TileName, alias.SourceSeedImport) {
			added++
		}
		for _, al := range sp.Aliases {
			if m.Upsert(sp.SpeciesID, sp.Canonical, sp.TileName, al.Text, alias.SourceSeedImport) {
				added++
			}
		}
	}

	if err := s.SaveMaster(ctx, m); err != nil {
		return 0, 0, err
	}
	for _, sp := range m.Species {
		total += len(sp.Aliases)
	}
	return added, total, nil
}

// RequestRebuild schedules a rebuild of the derived binary cache.
//
// Debounced (force=false): the pending timer, if any, restarts, so a burst
// of edits yields exactly one rebuild after the quiet period. Forced: any
// timer is cancelled and the rebuild starts immediately; when one is already
// executing, exactly one follow-up runs after it.
func (s *Store) RequestRebuild(force bool) {
	s.stateMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if force {
		s.stateMu.Unlock()
		s.startRebuild()
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.stateMu.Lock()
		s.timer = nil
		s.stateMu.Unlock()
		s.startRebuild()
	})
	s.stateMu.Unlock()
}

// RebuildNow rebuilds synchronously, waiting for any in-flight rebuild
// first. Used at install/import time where the caller needs the result.
func (s *Store) RebuildNow(ctx context.Context) error {
	s.stateMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.stateMu.Unlock()
	return s.executeRebuild(ctx)
}

// RebuildPending reports whether a debounced or queued rebuild has not run
// yet. Callers shutting down use this to decide whether to flush.
func (s *Store) RebuildPending() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.timer != nil || s.running || s.pending
}

// startRebuild transitions to Running, coalescing with a rebuild already in
// progress by queueing exactly one follow-up.
func (s *Store) startRebuild() {
	s.stateMu.Lock()
	if s.running {
		s.pending = true
		s.stateMu.Unlock()
		return
	}
	s.running = true
	s.stateMu.Unlock()

	go func() {
		for {
			_ = s.executeRebuild(context.Background())

			s.stateMu.Lock()
			if s.pending {
				s.pending = false
				s.stateMu.Unlock()
				continue
			}
			s.running = false
			s.stateMu.Unlock()
			return
		}
	}()
}

// executeRebuild performs one rebuild under the execution mutex and emits
// the lifecycle signals. A failure leaves the existing cache untouched.
func (s *Store) executeRebuild(ctx context.Context) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.broadcaster.PublishReloadStarted()
	start := time.Now()
	err := s.rebuildOnce(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		slog.Warn("aliasstore: cache rebuild failed, previous cache stays valid", "err", err)
	} else {
		slog.Info("aliasstore: cache rebuilt", "took", time.Since(start))
	}
	s.metrics.RecordRebuild(ctx, time.Since(start).Seconds(), status)
	s.broadcaster.PublishReloadCompleted(err == nil)
	return err
}

func (s *Store) rebuildOnce(ctx context.Context) error {
	m, err := s.LoadMaster(ctx)
	if err != nil {
		return err
	}
	records := m.ToIndex()

	blob, err := encodeContainer(records)
	if err != nil {
		return err
	}
	if err := s.shared.Write(ctx, aliasDir, cacheName, blob); err != nil {
		return fmt.Errorf("aliasstore: write shared cache: %w", err)
	}
	if s.private != nil {
		if err := s.private.Write(ctx, aliasDir, cacheName, blob); err != nil {
			// The shared cache is already current; the private fallback
			// copy catching up on the next rebuild is acceptable.
			slog.Warn("aliasstore: write private cache copy failed", "err", err)
		}
	}
	slog.Debug("aliasstore: cache written", "records", len(records), "bytes", len(blob))
	return nil
}
