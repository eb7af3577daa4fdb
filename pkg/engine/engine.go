// Package engine owns the reconciliation loop between a local editing
// surface and the replicated canvas document store: when a local mutation is
// persisted, when a remote notification is applied, and when either must be
// suppressed to keep a client's own writes from echoing back around the loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/sketchsync/pkg/board"
	"github.com/astromechza/sketchsync/pkg/scene"
)

// Status is the session-level signal a view reflects to the user. Store I/O
// failures collapse into LoadError/SaveError; nothing propagates as an
// uncaught failure.
type Status string

const (
	StatusLoading   Status = "loading"
	StatusReady     Status = "ready"
	StatusSaving    Status = "saving"
	StatusSaved     Status = "saved"
	StatusUpdated   Status = "updated"
	StatusLoadError Status = "load error"
	StatusSaveError Status = "save error"
)

// DefaultDebounce batches bursts of rapid edits into a single write, at the
// cost of up to this much replication latency.
const DefaultDebounce = 300 * time.Millisecond

// state is the reconciliation state machine. At most one of the two special
// states can hold at a time, which is exactly the point of not keeping them
// as independent booleans.
type state int

const (
	stateIdle state = iota
	// stateApplyingRemote: a remote blob is being loaded into the surface;
	// outbound persistence is suppressed so the load is not echoed back as a
	// new local write.
	stateApplyingRemote
	// stateAddingLocal: a freshly-created object is being added and persisted
	// via the immediate path; the generic debounced path is suppressed so the
	// object is saved exactly once.
	stateAddingLocal
)

// Engine reconciles one open canvas with the store. It is created per view
// and discarded when the view closes; nothing is shared across canvas ids.
type Engine struct {
	store    board.Store
	debounce time.Duration
	onStatus func(Status)

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	id             string
	viewOnly       bool
	surface        Surface
	state          state
	lastWritten    string
	pendingRemote  string
	hasPending     bool
	saveTimer      *time.Timer
	unwatch        func()
	unwatchSurface func()
	closed         bool
}

func New(store board.Store) *Engine {
	return &Engine{store: store, debounce: DefaultDebounce}
}

// SetStatusFunc registers the status observer. Must be called before Open.
func (e *Engine) SetStatusFunc(fn func(Status)) {
	e.onStatus = fn
}

// SetDebounce overrides the save debounce. Must be called before Open.
func (e *Engine) SetDebounce(d time.Duration) {
	e.debounce = d
}

func (e *Engine) status(s Status) {
	if e.onStatus != nil {
		e.onStatus(s)
	}
}

// Open fetches the document for id, creating it with an empty scene when
// absent, applies (or buffers) its contents, and subscribes to future
// changes. viewOnly disables all persistence for this session; it is a
// session flag, deliberately independent of the stored ViewOnly field.
func (e *Engine) Open(ctx context.Context, id string, viewOnly bool) error {
	e.mu.Lock()
	e.id = id
	e.viewOnly = viewOnly
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	e.status(StatusLoading)
	doc, err := e.store.Get(ctx, id)
	switch {
	case errors.Is(err, board.ErrNotFound):
		// Create-if-absent, not an upsert: racing creators are left to the
		// store's own last-write-wins. Arm the echo check before the write
		// can possibly be observed back.
		blob := scene.EmptyBlob()
		e.mu.Lock()
		e.lastWritten = blob
		e.mu.Unlock()
		if _, err := e.store.Create(ctx, board.Document{ID: id, Data: blob, ViewOnly: viewOnly}); err != nil {
			e.status(StatusLoadError)
			return fmt.Errorf("failed to create canvas: %w", err)
		}
	case err != nil:
		e.status(StatusLoadError)
		return fmt.Errorf("failed to load canvas: %w", err)
	case doc.Data != "":
		e.applyOrBuffer(doc.Data)
	}

	unwatch, err := e.store.Watch(e.ctx, id, e.onRemoteChange)
	if err != nil {
		e.status(StatusLoadError)
		return fmt.Errorf("failed to watch canvas: %w", err)
	}
	e.mu.Lock()
	e.unwatch = unwatch
	e.mu.Unlock()
	e.status(StatusReady)
	return nil
}

// AttachSurface hands the engine its editing surface. Surface construction is
// asynchronous relative to Open, so a remote blob that arrived first has been
// buffered; it is applied exactly once here.
func (e *Engine) AttachSurface(s Surface) {
	e.mu.Lock()
	e.surface = s
	e.unwatchSurface = s.OnMutation(e.NoteMutation)
	pending, ok := e.pendingRemote, e.hasPending
	e.pendingRemote, e.hasPending = "", false
	e.mu.Unlock()
	if ok {
		e.apply(pending)
	}
}

// onRemoteChange handles every store notification, including the echo of this
// client's own writes.
func (e *Engine) onRemoteChange(doc board.Document) {
	if doc.Data == "" {
		// A document without a usable payload is a valid transient state,
		// not an error.
		return
	}
	e.applyOrBuffer(doc.Data)
}

// applyOrBuffer routes a remote blob to the surface, or buffers it while the
// surface does not exist yet. Only the latest buffered blob matters.
func (e *Engine) applyOrBuffer(blob string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.surface == nil {
		e.pendingRemote = blob
		e.hasPending = true
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.apply(blob)
}

// apply loads blob into the surface unless it is this client's own write
// echoing back, or already identical to the surface state. Reapplying an echo
// causes a visible flicker and can retrigger change events that loop back
// into another save, so both checks are load-bearing.
func (e *Engine) apply(blob string) {
	e.mu.Lock()
	if e.closed || e.surface == nil {
		e.mu.Unlock()
		return
	}
	if blob == e.lastWritten {
		e.mu.Unlock()
		return
	}
	if current, err := e.surface.Serialize(); err == nil && current == blob {
		e.mu.Unlock()
		return
	}
	e.state = stateApplyingRemote
	surface := e.surface
	e.mu.Unlock()

	// Mutation events fired by the load itself are delivered before
	// ReplaceAll returns (see Surface), and are swallowed while the state is
	// ApplyingRemote.
	err := surface.ReplaceAll(blob)

	e.mu.Lock()
	if e.state == stateApplyingRemote {
		e.state = stateIdle
	}
	e.mu.Unlock()

	if err != nil {
		slog.Error("failed to apply remote change", "canvas", e.id, "err", err)
		return
	}
	e.status(StatusUpdated)
}

// NoteMutation is invoked on every mutation event from the surface: object
// added, modified, removed, or stroke completed. It schedules a debounced
// save; a burst of events produces a single write of the final state.
func (e *Engine) NoteMutation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.viewOnly || e.state != stateIdle {
		return
	}
	if e.saveTimer != nil {
		e.saveTimer.Stop()
	}
	e.saveTimer = time.AfterFunc(e.debounce, func() {
		if err := e.persist(); err != nil {
			slog.Error("failed to save canvas", "canvas", e.id, "err", err)
		}
	})
}

// persist serializes the surface and writes the document. The in-memory
// surface state is authoritative: a failed write surfaces SaveError and keeps
// local edits, and the next mutation retries naturally.
func (e *Engine) persist() error {
	e.mu.Lock()
	// A debounce timer can elapse in the gap before a remote apply sets the
	// state; the write must not fire inside that window.
	if e.closed || e.state == stateApplyingRemote || e.surface == nil {
		e.mu.Unlock()
		return nil
	}
	blob, err := e.surface.Serialize()
	if err != nil {
		e.mu.Unlock()
		e.status(StatusSaveError)
		return fmt.Errorf("failed to serialize surface: %w", err)
	}
	// Record before issuing the write, so the echo check is armed before the
	// write can be observed by our own subscription.
	e.lastWritten = blob
	ctx, id := e.ctx, e.id
	e.mu.Unlock()

	e.status(StatusSaving)
	if _, err := e.store.Put(ctx, id, blob); err != nil {
		e.status(StatusSaveError)
		return fmt.Errorf("failed to write canvas: %w", err)
	}
	e.status(StatusSaved)
	return nil
}

// AddObject is the immediate-add path for toolbar shape creation: insert,
// select, and persist without the debounce so a newly drawn shape replicates
// without visible delay. The generic save path is suppressed until the
// persist completes, success or failure, so the shape saves exactly once.
func (e *Engine) AddObject(obj scene.Object) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("canvas is closed")
	}
	if e.viewOnly {
		e.mu.Unlock()
		return fmt.Errorf("canvas is view-only")
	}
	if e.surface == nil {
		e.mu.Unlock()
		return fmt.Errorf("no surface attached")
	}
	e.state = stateAddingLocal
	surface := e.surface
	e.mu.Unlock()

	surface.Add(obj)
	surface.Select(obj.ID)
	err := e.persist()

	e.mu.Lock()
	if e.state == stateAddingLocal {
		e.state = stateIdle
	}
	e.mu.Unlock()
	return err
}

// Close tears down the subscription and timers. It does not await or cancel
// an in-flight write.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	timer := e.saveTimer
	unwatch := e.unwatch
	unwatchSurface := e.unwatchSurface
	cancel := e.cancel
	e.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if unwatchSurface != nil {
		unwatchSurface()
	}
	if unwatch != nil {
		unwatch()
	}
	if cancel != nil {
		cancel()
	}
}
