package snapshot

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pubtree/tree"
)

// WriterOptions tunes the debounced writer.
type WriterOptions struct {
	// Debounce is the quiet period after a touch before the write fires.
	// More touches during the window reset the timer. Default: 5s.
	Debounce time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *WriterOptions) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Writer coalesces bursts of write intents into single snapshot writes.
//
// Touch marks intent and returns immediately; the background worker started
// by Run waits out the debounce window and then writes once. Callers with
// no enclosing lifecycle that guarantees a later flush should call Flush
// instead — one flush per logical change, either now or via the background
// path, never zero and never two.
type Writer struct {
	store  *Store
	source func() *tree.Tree
	opts   WriterOptions

	touchCh chan struct{}

	touches   atomic.Int64
	writes    atomic.Int64
	coalesced atomic.Int64
	errors    atomic.Int64
}

// WriterStats are point-in-time counters.
type WriterStats struct {
	Touches   int64 `json:"touches"`
	Writes    int64 `json:"writes"`
	Coalesced int64 `json:"coalesced"`
	Errors    int64 `json:"errors"`
}

// NewWriter creates a Writer that snapshots the tree returned by source.
func NewWriter(store *Store, source func() *tree.Tree, opts WriterOptions) *Writer {
	opts.defaults()
	return &Writer{
		store:   store,
		source:  source,
		opts:    opts,
		touchCh: make(chan struct{}, 1),
	}
}

// Stats returns the current counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Touches:   w.touches.Load(),
		Writes:    w.writes.Load(),
		Coalesced: w.coalesced.Load(),
		Errors:    w.errors.Load(),
	}
}

// Touch marks write intent. Never blocks; a pending touch absorbs new ones.
func (w *Writer) Touch() {
	w.touches.Add(1)
	select {
	case w.touchCh <- struct{}{}:
	default:
		w.coalesced.Add(1)
	}
}

// Flush writes the snapshot synchronously, immediately.
func (w *Writer) Flush() error {
	w.writes.Add(1)
	if err := w.store.Save(w.source()); err != nil {
		w.errors.Add(1)
		return err
	}
	return nil
}

// Run is the background worker: it blocks until ctx is cancelled, turning
// bursts of touches into single writes after the debounce window. A touch
// still pending at shutdown is flushed before Run returns.
func (w *Writer) Run(ctx context.Context) {
	log := w.opts.Logger
	log.Info("snapshot: writer started", "path", w.store.Path(), "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("snapshot: writer stopped")
			return

		case <-w.touchCh:
			timer := time.NewTimer(w.opts.Debounce)
		quiet:
			for {
				select {
				case <-w.touchCh:
					w.coalesced.Add(1)
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(w.opts.Debounce)
				case <-timer.C:
					break quiet
				case <-ctx.Done():
					timer.Stop()
					// Don't lose the pending change on shutdown.
					if err := w.Flush(); err != nil {
						log.Error("snapshot: final flush failed", "error", err)
					}
					log.Info("snapshot: writer stopped")
					return
				}
			}
			if err := w.Flush(); err != nil {
				log.Error("snapshot: write failed", "error", err)
			} else {
				log.Debug("snapshot: written after debounce")
			}
		}
	}
}
