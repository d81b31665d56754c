package breaker

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("circuit breaker registry is closed")

// Registry hands out one Breaker per dependency name. Breakers are created
// on first use and share the registry's config and options.
type Registry struct {
	cfg      Config
	opts     options
	breakers *xsync.MapOf[string, *Breaker]
	closed   atomic.Bool
}

// NewRegistry validates cfg and returns an empty Registry.
func NewRegistry(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		cfg:      cfg,
		opts:     newOptions(opts),
		breakers: xsync.NewMapOf[string, *Breaker](),
	}, nil
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) (*Breaker, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	if name == "" {
		return nil, fmt.Errorf("%w: breaker name must not be empty", ErrInvalidConfig)
	}
	b, _ := r.breakers.LoadOrCompute(name, func() *Breaker {
		return newBreaker(name, r.cfg, r.opts)
	})
	return b, nil
}

// Names returns the names of the breakers created so far, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.breakers.Size())
	r.breakers.Range(func(name string, _ *Breaker) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// Stats returns the stats of every breaker, sorted by name.
func (r *Registry) Stats() []Stats {
	names := r.Names()
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		if b, ok := r.breakers.Load(name); ok {
			out = append(out, b.Stats())
		}
	}
	return out
}

// Close drops every breaker. Breakers already handed out keep working.
func (r *Registry) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.breakers.Clear()
}
