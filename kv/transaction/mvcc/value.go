package mvcc

// Value is the constraint on stored payloads. Every value crossing the boundary between a transaction and the shared
// store is cloned, so a transaction never shares mutable state with the store or with another transaction.
type Value[V any] interface {
	Clone() V
}

type payloadKind uint8

const (
	payloadValue payloadKind = iota + 1
	payloadTombstone
	payloadCounter
)

// Versioned is one version of a key: the version number of the transaction which wrote it plus its payload. The payload
// is a user value, a tombstone recording an explicit delete, or a counter (internal keys only).
type Versioned[V Value[V]] struct {
	Version uint64
	kind    payloadKind
	value   V
	count   int
}

// NewVersioned returns a versioned user value.
func NewVersioned[V Value[V]](version uint64, value V) Versioned[V] {
	return Versioned[V]{Version: version, kind: payloadValue, value: value}
}

// Tombstone returns a versioned delete marker.
func Tombstone[V Value[V]](version uint64) Versioned[V] {
	return Versioned[V]{Version: version, kind: payloadTombstone}
}

// Counter returns a versioned integer, used by the size key.
func Counter[V Value[V]](version uint64, n int) Versioned[V] {
	return Versioned[V]{Version: version, kind: payloadCounter, count: n}
}

// Value returns the user payload, false for tombstones and counters.
func (v Versioned[V]) Value() (V, bool) {
	return v.value, v.kind == payloadValue
}

// Count returns the counter payload.
func (v Versioned[V]) Count() int {
	return v.count
}

// IsTombstone reports whether v records a delete.
func (v Versioned[V]) IsTombstone() bool {
	return v.kind == payloadTombstone
}

// Exists reports whether the key is live at this version.
func (v Versioned[V]) Exists() bool {
	return v.kind == payloadValue || v.kind == payloadCounter
}

// WithVersion returns a copy of v stamped with version.
func (v Versioned[V]) WithVersion(version uint64) Versioned[V] {
	v.Version = version
	return v
}

// Clone deep copies the user payload of v.
func (v Versioned[V]) Clone() Versioned[V] {
	if v.kind == payloadValue {
		v.value = v.value.Clone()
	}
	return v
}

// String is a ready-made immutable value.
type String string

func (s String) Clone() String {
	return s
}

// Int is a ready-made integer value.
type Int int64

func (i Int) Clone() Int {
	return i
}

// Bytes is a ready-made byte slice value, copied on every clone.
type Bytes []byte

func (b Bytes) Clone() Bytes {
	if b == nil {
		return nil
	}
	return append(Bytes{}, b...)
}
