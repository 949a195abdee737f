package engine

import "sort"

// ReferenceCounter counts, per parameter name, the configured properties that
// reference it. Counts never go negative and a name whose count reaches zero
// is removed. It is not safe for concurrent use; ComponentNode guards it with
// its mutation lock.
type ReferenceCounter struct {
	counts map[string]int
}

// NewReferenceCounter creates an empty counter.
func NewReferenceCounter() *ReferenceCounter {
	return &ReferenceCounter{counts: make(map[string]int)}
}

// Increment adds one reference to name.
func (r *ReferenceCounter) Increment(name string) {
	r.counts[name]++
}

// DecrementOrRemove drops one reference to name, removing the entry when it
// reaches zero. Unknown names are ignored.
func (r *ReferenceCounter) DecrementOrRemove(name string) {
	n, ok := r.counts[name]
	if !ok {
		return
	}
	if n <= 1 {
		delete(r.counts, name)
		return
	}
	r.counts[name] = n - 1
}

// Count returns the number of references to name.
func (r *ReferenceCounter) Count(name string) int {
	return r.counts[name]
}

// IsEmpty reports whether no parameter is referenced.
func (r *ReferenceCounter) IsEmpty() bool {
	return len(r.counts) == 0
}

// Names returns the referenced parameter names in sorted order.
func (r *ReferenceCounter) Names() []string {
	names := make([]string, 0, len(r.counts))
	for name := range r.counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the counts.
func (r *ReferenceCounter) Snapshot() map[string]int {
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}
