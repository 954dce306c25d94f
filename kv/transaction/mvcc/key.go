package mvcc

import (
	"encoding/binary"
	"fmt"

	"github.com/dgryski/go-farm"
)

// Hashable is the constraint on user keys. Hash picks the latch stripe of a key, so keys with equal hashes share a
// stripe but never a store entry.
type Hashable interface {
	comparable
	Hash() uint64
}

type keyKind uint8

const (
	kindUser keyKind = iota
	kindSize
)

// Key is the key type of the shared store. It is either a user key or one of the internal keys; the kind
// discriminator keeps the two apart even when a user key looks like an internal one.
type Key[K Hashable] struct {
	user K
	kind keyKind
}

// UserKey wraps a caller supplied key.
func UserKey[K Hashable](k K) Key[K] {
	return Key[K]{user: k, kind: kindUser}
}

// SizeKey is the internal key holding the number of live user keys.
func SizeKey[K Hashable]() Key[K] {
	return Key[K]{kind: kindSize}
}

// User returns the wrapped user key, or false for an internal key.
func (k Key[K]) User() (K, bool) {
	return k.user, k.kind == kindUser
}

// Internal reports whether k is one of the store's bookkeeping keys. Internal keys always map to the reserved latch
// stripe.
func (k Key[K]) Internal() bool {
	return k.kind != kindUser
}

func (k Key[K]) Hash() uint64 {
	if k.Internal() {
		return uint64(k.kind)
	}
	return k.user.Hash()
}

func (k Key[K]) String() string {
	switch k.kind {
	case kindSize:
		return "<size>"
	default:
		return fmt.Sprintf("%v", k.user)
	}
}

// StringKey is a ready-made string key hashed with farm fingerprints.
type StringKey string

func (k StringKey) Hash() uint64 {
	return farm.Fingerprint64([]byte(k))
}

// IntKey is a ready-made integer key.
type IntKey int64

func (k IntKey) Hash() uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(k))
	return farm.Fingerprint64(buf[:])
}
