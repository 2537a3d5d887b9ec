package breaker

import "sync"

// Registry holds named breakers, one per protected dependency.
// Get lazily constructs breakers with the registry's default options.
// Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults []Option
}

// NewRegistry creates a Registry whose breakers are constructed with the
// given default options.
func NewRegistry(defaults ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Get returns the breaker with the given name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.defaults...)
		r.breakers[name] = b
	}
	return b
}

// All returns a snapshot of the registered breakers. Used by the
// observability extension to export per-breaker gauges.
func (r *Registry) All() []*Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b)
	}
	return out
}
