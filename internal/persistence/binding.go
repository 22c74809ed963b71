// Package persistence keeps a shared document durable in a local update log.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"blueprint-sync/internal/crdt"
	"blueprint-sync/internal/middleware"
	"blueprint-sync/internal/models"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: OFFLINE-FIRST DURABILITY

  open   → replay every stored update into the doc → WhenSynced() returns
  edit   → doc emits an update → append it to the log
  later  → the log grows past TrimSize → replace it with one merged update

Replayed updates are applied with the binding itself as origin, so the
write-through handler can recognize and skip them.
*/

// DefaultTrimSize is the log length that triggers compaction
const DefaultTrimSize = 500

// UpdateStore is the append-only log a Binding writes to
type UpdateStore interface {
	StoreUpdate(ctx context.Context, documentID string, update []byte, clientID string) error
	GetAllUpdates(ctx context.Context, documentID string) ([]*models.DocumentUpdate, error)
	ReplaceUpdates(ctx context.Context, documentID string, merged []byte, clientID string) error
}

// Options tunes a Binding
type Options struct {
	TrimSize int
}

// Binding mirrors one document into an UpdateStore
type Binding struct {
	store UpdateStore
	name  string
	doc   *crdt.Doc
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc

	unsubscribe func()
	synced      chan struct{}
	done        sync.WaitGroup

	mu        sync.Mutex
	count     int64
	ready     bool
	err       error
	destroyed bool
}

// Bind starts replaying the stored log of name into doc and returns at once.
// Updates the doc emits from now on are appended to the log.
func Bind(ctx context.Context, store UpdateStore, name string, doc *crdt.Doc, opts Options) *Binding {
	if opts.TrimSize <= 0 {
		opts.TrimSize = DefaultTrimSize
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Binding{
		store:  store,
		name:   name,
		doc:    doc,
		opts:   opts,
		ctx:    bctx,
		cancel: cancel,
		synced: make(chan struct{}),
	}

	// Subscribe before replay so edits made while loading are not lost
	b.unsubscribe = doc.OnUpdate(b.handleUpdate)

	b.done.Add(1)
	go func() {
		defer b.done.Done()
		defer close(b.synced)
		b.replay(b.ctx)
	}()

	return b
}

func (b *Binding) replay(ctx context.Context) {
	ctx, span := middleware.StartSpan(ctx, "persistence.Replay",
		attribute.String("document.id", b.name),
	)
	defer span.End()

	updates, err := b.store.GetAllUpdates(ctx, b.name)
	if err != nil {
		if ctx.Err() != nil {
			// destroyed while loading
			return
		}
		middleware.AddSpanError(ctx, err)
		b.setErr(fmt.Errorf("failed to load %s: %w", b.name, err))
		log.Warn().Err(err).Str("document", b.name).Msg("⚠️  Local store unavailable, continuing in memory")
		return
	}

	for _, u := range updates {
		if ctx.Err() != nil {
			return
		}
		if err := b.doc.ApplyUpdate(u.Update, b); err != nil {
			if errors.Is(err, crdt.ErrDestroyed) {
				return
			}
			// one corrupt row must not hide the rest of the log
			log.Warn().Err(err).Str("document", b.name).Str("update", u.ID).Msg("⚠️  Skipping unreadable update")
			continue
		}
	}

	b.mu.Lock()
	b.count += int64(len(updates))
	b.ready = true
	compact := b.count >= int64(b.opts.TrimSize)
	b.mu.Unlock()

	span.SetAttributes(attribute.Int("updates.replayed", len(updates)))
	log.Debug().Str("document", b.name).Int("updates", len(updates)).Msg("replayed local updates")

	if compact {
		b.mu.Lock()
		b.compactLocked()
		b.mu.Unlock()
	}
}

func (b *Binding) handleUpdate(update []byte, origin any) {
	if origin == b {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}

	if err := b.store.StoreUpdate(b.ctx, b.name, update, b.doc.ClientID()); err != nil {
		b.err = fmt.Errorf("failed to persist update for %s: %w", b.name, err)
		log.Warn().Err(err).Str("document", b.name).Msg("⚠️  Failed to persist update")
		return
	}
	b.count++

	// Compacting before replay finished would drop rows not yet in the doc
	if b.ready && b.count >= int64(b.opts.TrimSize) {
		b.compactLocked()
	}
}

// compactLocked replaces the log with the document's full state. b.mu is held.
func (b *Binding) compactLocked() {
	merged, err := b.doc.EncodeStateAsUpdate(nil)
	if err != nil {
		log.Warn().Err(err).Str("document", b.name).Msg("⚠️  Failed to encode state for compaction")
		return
	}
	if err := b.store.ReplaceUpdates(b.ctx, b.name, merged, b.doc.ClientID()); err != nil {
		log.Warn().Err(err).Str("document", b.name).Msg("⚠️  Failed to compact update log")
		return
	}
	log.Debug().Str("document", b.name).Int64("from", b.count).Msg("compacted update log")
	b.count = 1
}

func (b *Binding) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Name returns the document name this binding stores under
func (b *Binding) Name() string {
	return b.name
}

// WhenSynced blocks until replay finished or ctx is done
func (b *Binding) WhenSynced(ctx context.Context) error {
	select {
	case <-b.synced:
		return b.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err reports the most recent load or write failure.
// A non-nil value means the local copy may be behind the in-memory doc.
func (b *Binding) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Destroy stops mirroring the doc. Updates emitted afterwards are not stored.
func (b *Binding) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.mu.Unlock()

	b.unsubscribe()
	b.cancel()
	b.done.Wait()
}
