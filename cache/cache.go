// Package cache holds the authoritative in-memory content tree and the
// synchronization discipline around it.
//
// Readers fetch the current tree through an atomic pointer and never block.
// All mutations happen under one process-wide write lock and follow
// copy-on-write: clone, splice, swap — an in-flight reader observes either
// the entire prior tree or the entire new one, never a partial mutation.
// Full relational loads are serialized by their own lock so concurrent
// cold-cache detection does not stampede the database. Snapshot I/O has its
// own scope inside the snapshot package, distinct from the tree lock.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pubtree/notify"
	"github.com/hazyhaar/pubtree/snapshot"
	"github.com/hazyhaar/pubtree/store"
	"github.com/hazyhaar/pubtree/tree"
)

// Cache is the tree cache. Create with New, seed with Init, then run the
// background workers via Run.
type Cache struct {
	cfg    Config
	store  *store.Store
	snaps  *snapshot.Store
	writer *snapshot.Writer
	logger *slog.Logger

	cur atomic.Pointer[tree.Tree]

	// writeMu serializes all tree mutations (single writer).
	writeMu sync.Mutex
	// loadMu serializes full loads so that multiple goroutines detecting a
	// stale cache concurrently issue one load, not N.
	loadMu sync.Mutex

	// lastLoad is the unix-nano time of the last successful load; the
	// staleness check compares it to the snapshot mtime.
	lastLoad atomic.Int64
	// lastCheck throttles the staleness check to once per PollInterval.
	lastCheck atomic.Int64

	onChange []func()

	reloads     atomic.Int64
	splices     atomic.Int64
	removes     atomic.Int64
	orphans     atomic.Int64
	staleChecks atomic.Int64
	errs        atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Nodes           int                   `json:"nodes"`
	Reloads         int64                 `json:"reloads"`
	Splices         int64                 `json:"splices"`
	Removes         int64                 `json:"removes"`
	Orphans         int64                 `json:"orphans"`
	StalenessChecks int64                 `json:"staleness_checks"`
	Errors          int64                 `json:"errors"`
	Writer          *snapshot.WriterStats `json:"writer,omitempty"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache over the relational store. cfg is validated; the
// write-back + poll-disk combination refuses to initialize.
func New(st *store.Store, cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{cfg: cfg, store: st, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if cfg.SnapshotPath != "" {
		c.snaps = snapshot.New(cfg.SnapshotPath, snapshot.WithLogger(c.logger))
	}
	if cfg.WriteBack {
		c.writer = snapshot.NewWriter(c.snaps, c.Get, snapshot.WriterOptions{
			Debounce: cfg.Debounce,
			Logger:   c.logger,
		})
	}
	c.cur.Store(tree.New())
	return c, nil
}

// Snapshot returns the snapshot store, or nil when disabled.
func (c *Cache) Snapshot() *snapshot.Store { return c.snaps }

// OnChange registers a callback invoked after every tree swap. Dependent
// derived caches hook their invalidation here. Not safe to call after Run.
func (c *Cache) OnChange(fn func()) {
	c.onChange = append(c.onChange, fn)
}

// Init seeds the tree: snapshot first when a snapshot store is enabled and
// a non-empty file exists, relational otherwise. A corrupt snapshot is
// deleted and the relational path takes over; a relational failure leaves
// the empty tree in place and is logged, never raised — callers must always
// get a servable (possibly empty) tree.
func (c *Cache) Init(ctx context.Context) {
	if c.snaps != nil && c.snaps.Exists() {
		t, err := c.snaps.Load()
		if err != nil {
			c.logger.Warn("cache: snapshot load failed, falling back to store", "error", err)
		} else if t != nil {
			c.set(t)
			c.logger.Info("cache: initialized from snapshot", "nodes", t.Len())
			return
		}
	}
	if err := c.Reload(ctx); err != nil {
		c.logger.Error("cache: initial load failed, serving empty tree", "error", err)
	}
}

// Get returns the current tree reference. Never nil. When disk polling is
// enabled a cheap staleness check runs first, at most once per
// PollInterval, reloading if the snapshot changed underneath us.
func (c *Cache) Get() *tree.Tree {
	if c.cfg.PollDisk {
		c.maybeReloadStale()
	}
	return c.cur.Load()
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Nodes:           c.cur.Load().Len(),
		Reloads:         c.reloads.Load(),
		Splices:         c.splices.Load(),
		Removes:         c.removes.Load(),
		Orphans:         c.orphans.Load(),
		StalenessChecks: c.staleChecks.Load(),
		Errors:          c.errs.Load(),
	}
	if c.writer != nil {
		ws := c.writer.Stats()
		s.Writer = &ws
	}
	return s
}

// set publishes a new tree: atomic swap, change-time stamp, derived-cache
// invalidation hooks, then the snapshot write path when write-back is on.
func (c *Cache) set(t *tree.Tree) {
	c.cur.Store(t)
	c.lastLoad.Store(time.Now().UnixNano())
	for _, fn := range c.onChange {
		fn()
	}
	if c.writer != nil {
		c.writer.Touch()
	}
}

func (c *Cache) maybeReloadStale() {
	now := time.Now().UnixNano()
	last := c.lastCheck.Load()
	if now-last < int64(c.cfg.PollInterval) {
		return
	}
	if !c.lastCheck.CompareAndSwap(last, now) {
		return // another reader is checking
	}
	c.staleChecks.Add(1)

	mtime, ok := c.snaps.ModTime()
	if !ok || mtime.UnixNano() <= c.lastLoad.Load() {
		return
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	// Re-check under the lock: a concurrent reader may have reloaded.
	if mtime.UnixNano() <= c.lastLoad.Load() {
		return
	}
	t, err := c.snaps.Load()
	if err != nil || t == nil {
		c.logger.Warn("cache: stale snapshot reload failed", "error", err)
		return
	}
	c.writeMu.Lock()
	c.set(t)
	c.writeMu.Unlock()
	c.reloads.Add(1)
	c.logger.Info("cache: reloaded from changed snapshot", "nodes", t.Len())
}

// Reload replaces the whole tree from the relational store. The previous
// tree stays published on failure.
func (c *Cache) Reload(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	t, err := c.store.LoadTree(ctx)
	if err != nil {
		c.errs.Add(1)
		return fmt.Errorf("cache: reload: %w", err)
	}
	c.writeMu.Lock()
	c.set(t)
	c.writeMu.Unlock()
	c.reloads.Add(1)
	return nil
}

// Refresh applies one entity's canonical published form to the tree. An
// unpublished or trashed entity is a no-op; so is an entity whose target
// parent has not arrived yet (out-of-order delivery). A fragment whose
// id/parent disagree with the entity is a contract bug and returns an
// error.
func (c *Cache) Refresh(e *store.Entity) error {
	if e == nil || !e.Published || e.Trashed {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.cur.Load().Clone()
	if err := c.spliceOne(next, e); err != nil {
		return err
	}
	c.set(next)
	return nil
}

// RefreshMany applies a batch of entities in one clone-and-swap, so the
// snapshot writer sees one logical change.
func (c *Cache) RefreshMany(entities []*store.Entity) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.cur.Load().Clone()
	touched := false
	for _, e := range entities {
		if e == nil || !e.Published || e.Trashed {
			continue
		}
		if err := c.spliceOne(next, e); err != nil {
			return err
		}
		touched = true
	}
	if touched {
		c.set(next)
	}
	return nil
}

func (c *Cache) spliceOne(t *tree.Tree, e *store.Entity) error {
	err := t.Splice(e.Fragment(), e.ID, e.ParentID)
	switch {
	case errors.Is(err, tree.ErrParentNotFound):
		c.orphans.Add(1)
		c.logger.Debug("cache: parent not yet present, dropping refresh",
			"id", e.ID, "parent", e.ParentID)
		return nil
	case err != nil:
		c.errs.Add(1)
		c.logger.Error("cache: splice rejected", "id", e.ID, "error", err)
		return err
	}
	c.splices.Add(1)
	return nil
}

// Remove drops the node and its whole subtree. Absent ids are a no-op.
func (c *Cache) Remove(id int64) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cur.Load().Get(id) == nil {
		return
	}
	next := c.cur.Load().Clone()
	next.Remove(id)
	c.set(next)
	c.removes.Add(1)
}

// RefreshTypes rebuilds the denormalized rows for the given content types
// and every descendant type. The in-memory tree is untouched; the rebuilt
// rows are picked up on the next full reload.
func (c *Cache) RefreshTypes(ctx context.Context, tags []string) error {
	expanded, err := c.store.ContentTypeDescendants(ctx, tags)
	if err != nil {
		return err
	}
	if len(expanded) == 0 {
		return nil
	}
	return c.store.Rebuild(ctx, c.cfg.RebuildPageSize, expanded...)
}

// SaveSnapshot flushes the current tree to disk synchronously. Use this
// when no enclosing lifecycle guarantees a later flush.
func (c *Cache) SaveSnapshot() error {
	if c.snaps == nil {
		return nil
	}
	if c.writer != nil {
		return c.writer.Flush()
	}
	return c.snaps.Save(c.Get())
}

// SaveSnapshotAsync marks write intent; the background writer coalesces
// bursts into one write. Falls back to a synchronous save when write-back
// is disabled.
func (c *Cache) SaveSnapshotAsync() {
	if c.writer != nil {
		c.writer.Touch()
		return
	}
	if c.snaps != nil {
		if err := c.snaps.Save(c.Get()); err != nil {
			c.logger.Error("cache: snapshot save failed", "error", err)
		}
	}
}

// Run wires the cache to the change bus and runs the background snapshot
// writer. It blocks until ctx is cancelled, then deregisters from the bus.
// The returned error is fatal: an unsupported notification kind signals an
// upstream contract violation.
func (c *Cache) Run(ctx context.Context, bus *notify.Bus) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 1)
	unsubscribe := bus.Subscribe(func(batch []notify.Payload) error {
		if err := c.dispatch(runCtx, batch); err != nil {
			select {
			case fatal <- err:
			default:
			}
			return err
		}
		return nil
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	if c.writer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.writer.Run(runCtx)
		}()
	}

	var err error
	select {
	case <-runCtx.Done():
	case err = <-fatal:
	}
	cancel()
	wg.Wait()
	return err
}
