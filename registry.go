package sagaflow

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/btree"
)

// DefaultRetention is how long a finished saga stays queryable.
const DefaultRetention = 5 * time.Minute

// ErrRegistryClosed is returned when a saga is started against a closed Registry.
var ErrRegistryClosed = errors.New("saga registry is closed")

// Registry is a table of in-flight and recently finished sagas.
//
// Entries are inserted when a saga starts and removed once the retention
// window has elapsed after the saga reached a terminal status. Every read
// returns a snapshot; callers never observe a state while it is being
// mutated. A Registry is owned by the application root and shared by any
// number of orchestrators working on the same context type.
type Registry[C any] struct {
	entries   *xsync.MapOf[string, *registryEntry[C]]
	retention time.Duration
	closed    atomic.Bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	retention time.Duration
}

// WithRetention sets how long finished sagas are kept. Zero or negative
// values keep the default.
func WithRetention(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		if d > 0 {
			o.retention = d
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry[C any](opts ...RegistryOption) *Registry[C] {
	o := registryOptions{retention: DefaultRetention}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[C]{
		entries:   xsync.NewMapOf[string, *registryEntry[C]](),
		retention: o.retention,
	}
}

// Retention returns the configured retention window.
func (r *Registry[C]) Retention() time.Duration {
	return r.retention
}

// Get returns a snapshot of the saga with the given ID.
func (r *Registry[C]) Get(id string) (*SagaState[C], bool) {
	entry, ok := r.entries.Load(id)
	if !ok {
		return nil, false
	}
	return entry.snapshot(), true
}

// ActiveSagas returns snapshots of every saga currently tracked, running
// or recently finished, ordered by start time.
func (r *Registry[C]) ActiveSagas() []*SagaState[C] {
	return r.collect(func(*SagaState[C]) bool { return true })
}

// Filter returns snapshots of the tracked sagas with the given status,
// ordered by start time.
func (r *Registry[C]) Filter(status SagaStatus) []*SagaState[C] {
	return r.collect(func(s *SagaState[C]) bool { return s.Status == status })
}

// Len returns the number of tracked sagas.
func (r *Registry[C]) Len() int {
	return r.entries.Size()
}

// Close stops all pending cleanups and drops every entry. Sagas still
// running keep their own state and finish normally, but are no longer
// queryable.
func (r *Registry[C]) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.entries.Range(func(_ string, entry *registryEntry[C]) bool {
		entry.stopTimer()
		return true
	})
	r.entries.Clear()
}

func (r *Registry[C]) collect(keep func(*SagaState[C]) bool) []*SagaState[C] {
	ordered := btree.NewBTreeG(func(a, b *SagaState[C]) bool {
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.ID < b.ID
	})
	r.entries.Range(func(_ string, entry *registryEntry[C]) bool {
		if s := entry.snapshot(); keep(s) {
			ordered.Set(s)
		}
		return true
	})

	out := make([]*SagaState[C], 0, ordered.Len())
	ordered.Scan(func(s *SagaState[C]) bool {
		out = append(out, s)
		return true
	})
	return out
}

// insert adds a new saga and returns the entry the orchestrator mutates.
func (r *Registry[C]) insert(state *SagaState[C]) (*registryEntry[C], error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	entry := &registryEntry[C]{state: state}
	if _, loaded := r.entries.LoadOrStore(state.ID, entry); loaded {
		return nil, bookkeepingError("saga id %q already registered", state.ID)
	}
	return entry, nil
}

// scheduleRemoval drops the entry once the retention window has elapsed.
func (r *Registry[C]) scheduleRemoval(id string, entry *registryEntry[C]) {
	if r.closed.Load() {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.timer != nil {
		return
	}
	entry.timer = time.AfterFunc(r.retention, func() {
		r.entries.Compute(id, func(current *registryEntry[C], loaded bool) (*registryEntry[C], bool) {
			return current, !loaded || current == entry
		})
	})
}

// registryEntry guards one saga's state. The orchestrator running the
// saga is the only writer.
type registryEntry[C any] struct {
	mu    sync.RWMutex
	state *SagaState[C]
	timer *time.Timer
}

func (e *registryEntry[C]) update(fn func(*SagaState[C]) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

func (e *registryEntry[C]) snapshot() *SagaState[C] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

func (e *registryEntry[C]) stopTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
}
