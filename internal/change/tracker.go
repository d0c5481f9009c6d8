// Package change implements the poll-based dirty-bit table that lets
// independent observers learn what changed since they last looked and who
// changed it.
//
// Marks coalesce: repeated marks of the same (observer, kind) before a pop
// collapse into a single pending flag. There is no replay of intermediate
// values.
package change

import "mixbridge/internal/domain"

// Tracker is the (observer x kind) dirty table. It is not safe for
// concurrent use; it belongs to the owner context.
type Tracker struct {
	pending    [domain.NumObservers]domain.ChangeKind
	lastWriter [domain.NumChangeKinds]domain.Observer
}

// New creates an empty tracker. Every kind starts with Host as last writer.
func New() *Tracker {
	return &Tracker{}
}

// MarkChanged flags kinds as pending for every observer and records source
// as the last writer of each kind.
func (t *Tracker) MarkChanged(source domain.Observer, kinds domain.ChangeKind) {
	kinds &= domain.ChangeAll
	if kinds == 0 || !source.Valid() {
		return
	}
	for i := range t.pending {
		t.pending[i] |= kinds
	}
	kinds.Each(func(k domain.ChangeKind) {
		t.lastWriter[k.Index()] = source
	})
}

// Peek reports whether any of kinds is pending for target without clearing it
func (t *Tracker) Peek(target domain.Observer, kinds domain.ChangeKind) bool {
	if !target.Valid() {
		return false
	}
	return t.pending[target]&kinds != 0
}

// PeekAny reports whether anything at all is pending for target
func (t *Tracker) PeekAny(target domain.Observer) bool {
	return t.Peek(target, domain.ChangeAll)
}

// Pop reports whether any of kinds is pending for target and clears those bits
func (t *Tracker) Pop(target domain.Observer, kinds domain.ChangeKind) bool {
	if !target.Valid() {
		return false
	}
	hit := t.pending[target] & kinds
	t.pending[target] &^= hit
	return hit != 0
}

// LastWriter returns the observer that most recently marked kind.
// kind must be a single bit; anything else yields Host.
func (t *Tracker) LastWriter(kind domain.ChangeKind) domain.Observer {
	idx := kind.Index()
	if idx < 0 {
		return domain.ObserverHost
	}
	return t.lastWriter[idx]
}

// Reset clears every pending flag
func (t *Tracker) Reset() {
	for i := range t.pending {
		t.pending[i] = 0
	}
}
