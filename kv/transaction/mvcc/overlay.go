package mvcc

import (
	"github.com/pingcap/errors"
)

// Entry is what a transaction knows about one key: the value it sees, whether it read the key from the store, whether
// it wrote the key, and the net effect of its writes.
type Entry[V Value[V]] struct {
	value     Versioned[V]
	present   bool
	read      bool
	written   bool
	lifecycle Lifecycle
}

// Value returns the value the transaction sees, false if the key does not exist for it.
func (e *Entry[V]) Value() (V, bool) {
	if !e.present {
		var zero V
		return zero, false
	}
	return e.value.Value()
}

// Count returns the counter of an internal key.
func (e *Entry[V]) Count() int {
	return e.value.Count()
}

// Versioned returns the staged payload, without a version.
func (e *Entry[V]) Versioned() Versioned[V] {
	return e.value
}

func (e *Entry[V]) Present() bool {
	return e.present
}

// Read reports whether the transaction depends on the upstream value of the key.
func (e *Entry[V]) Read() bool {
	return e.read
}

func (e *Entry[V]) Written() bool {
	return e.written
}

func (e *Entry[V]) Lifecycle() Lifecycle {
	return e.lifecycle
}

// Overlay is the transaction-local view layered over the shared store. Nothing in an overlay is visible to other
// transactions until commit.
type Overlay[K Hashable, V Value[V]] struct {
	entries map[Key[K]]*Entry[V]
}

func NewOverlay[K Hashable, V Value[V]]() *Overlay[K, V] {
	return &Overlay[K, V]{entries: make(map[Key[K]]*Entry[V])}
}

// Get returns the local entry for k, if the transaction has touched k.
func (o *Overlay[K, V]) Get(k Key[K]) (*Entry[V], bool) {
	e, ok := o.entries[k]
	return e, ok
}

// Load records a read of k from the store. value must already be a private copy. found is false when the store has
// no entry for k at all.
func (o *Overlay[K, V]) Load(k Key[K], value Versioned[V], found bool) *Entry[V] {
	e := &Entry[V]{
		value:   value,
		present: found && value.Exists(),
		read:    true,
	}
	o.entries[k] = e
	return e
}

// CheckOp panics with ErrIllegalOp if op contradicts what the transaction already knows about k. Keys the transaction
// has not touched can take any op; the store decides at commit.
func (o *Overlay[K, V]) CheckOp(k Key[K], op Op) {
	e, ok := o.entries[k]
	if !ok {
		return
	}
	illegal := false
	switch op {
	case OpInsert:
		illegal = e.present
	case OpUpdate, OpDelete:
		illegal = !e.present
	}
	if illegal {
		panic(errors.Annotatef(ErrIllegalOp, "%s of key %s, lifecycle %s", op, k, e.lifecycle))
	}
}

// Stage buffers a write of k and returns the change it makes to the number of keys.
func (o *Overlay[K, V]) Stage(k Key[K], op Op, value V) int {
	o.CheckOp(k, op)
	e, ok := o.entries[k]
	if !ok {
		e = &Entry[V]{}
		o.entries[k] = e
	}
	e.lifecycle = e.lifecycle.next(op)
	e.written = true
	switch op {
	case OpInsert:
		e.value, e.present = NewVersioned(0, value), true
		return 1
	case OpUpdate:
		e.value, e.present = NewVersioned(0, value), true
	case OpDelete:
		e.value, e.present = Tombstone[V](0), false
		return -1
	}
	return 0
}

// SetCount buffers a new counter value for the internal key k, which must have been read before.
func (o *Overlay[K, V]) SetCount(k Key[K], n int) {
	e, ok := o.entries[k]
	if !ok {
		panic(errors.Errorf("counter %s staged before it was read", k))
	}
	e.value, e.present = Counter[V](0, n), true
	e.written = true
	e.lifecycle = LifecycleUpdated
}

// Range calls fn for every entry until fn returns false.
func (o *Overlay[K, V]) Range(fn func(k Key[K], e *Entry[V]) bool) {
	for k, e := range o.entries {
		if !fn(k, e) {
			return
		}
	}
}

// Len returns the number of keys the transaction touched.
func (o *Overlay[K, V]) Len() int {
	return len(o.entries)
}

// MergeKeys adjusts keys, a set of user keys scanned from the store, with the transaction's own view: keys which exist
// locally and match pred are added, keys which do not exist locally are removed.
func (o *Overlay[K, V]) MergeKeys(keys map[K]struct{}, pred func(K) bool) {
	for k, e := range o.entries {
		user, ok := k.User()
		if !ok {
			continue
		}
		if e.present && pred(user) {
			keys[user] = struct{}{}
		} else {
			delete(keys, user)
		}
	}
}
