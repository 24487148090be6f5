package antipattern

import "iter"

// Registry is an ordered mapping from kind to module.
//
// Register is only safe during single-threaded startup. Once scanning starts
// the registry must be treated as read-only; it does no locking of its own.
type Registry struct {
	order   []Kind
	modules map[Kind]*Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[Kind]*Module)}
}

// Register inserts a module, or replaces the module already registered for
// the same kind. A replaced module keeps its original position.
func (r *Registry) Register(m *Module) {
	k := m.Kind()
	if _, ok := r.modules[k]; !ok {
		r.order = append(r.order, k)
	}
	r.modules[k] = m
}

// Get returns the module registered for k.
func (r *Registry) Get(k Kind) (*Module, bool) {
	m, ok := r.modules[k]
	return m, ok
}

// Len returns the number of registered modules.
func (r *Registry) Len() int { return len(r.order) }

// Kinds returns registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

// Modules returns registered modules in registration order.
func (r *Registry) Modules() []*Module {
	out := make([]*Module, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.modules[k])
	}
	return out
}

// All iterates over modules in registration order.
func (r *Registry) All() iter.Seq2[Kind, *Module] {
	return func(yield func(Kind, *Module) bool) {
		for _, k := range r.order {
			if !yield(k, r.modules[k]) {
				return
			}
		}
	}
}

// ScanAll scans one file against every registered module and returns one
// result per module in registration order.
func (r *Registry) ScanAll(className, source string) []Result {
	results := make([]Result, 0, len(r.order))
	for _, m := range r.All() {
		results = append(results, m.Scan(className, source))
	}
	return results
}
