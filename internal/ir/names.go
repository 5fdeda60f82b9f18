package ir

import "fmt"

// GlobalNames is the per-module name-allocation registry: given a type that
// needs a fresh symbol (a struct-cloner twin, a generated global), it hands
// out a stable, deterministic name. It generalizes the original C++
// implementation's GlobalNames singleton (patch_hostside.cpp lines 72-74)
// into a long-lived object owned by the driver and borrowed by every
// component that needs it, per spec.md §9's re-architecture note — never a
// package-level global.
type GlobalNames struct {
	counters map[string]int
	assigned map[Type]string
}

// NewGlobalNames constructs an empty registry.
func NewGlobalNames() *GlobalNames {
	return &GlobalNames{
		counters: make(map[string]int),
		assigned: make(map[Type]string),
	}
}

// GetOrCreate returns the name previously assigned to t, or allocates a new
// one derived from prefix (e.g. "struct.anon").
func (g *GlobalNames) GetOrCreate(t Type, prefix string) string {
	if name, ok := g.assigned[t]; ok {
		return name
	}
	n := g.counters[prefix]
	g.counters[prefix] = n + 1
	name := fmt.Sprintf("%s.%d", prefix, n)
	g.assigned[t] = name
	return name
}

// FreshLocal allocates a new unique local SSA name derived from prefix,
// using the same per-prefix counters GetOrCreate uses for type names. Used
// by the cloner and marshaller to name the temporaries they splice into a
// function, so that name generation stays threaded through one owned
// registry rather than a package-level counter.
func (g *GlobalNames) FreshLocal(prefix string) string {
	n := g.counters[prefix]
	g.counters[prefix] = n + 1
	return fmt.Sprintf("%s.%d", prefix, n)
}

// DumpType renders t for diagnostics. It is the Go analogue of the
// TypeDumper the original implementation threads through every error path;
// hostpatch keeps it to exactly this — a String()-shaped diagnostic helper,
// nothing that influences rewriting decisions.
func DumpType(t Type) string {
	if t == nil {
		return "<nil type>"
	}
	return t.String()
}
