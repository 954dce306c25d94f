package mvcc

import (
	"context"

	"github.com/pingcap/errors"
)

// Txn is a transaction over a transactional map. A Txn belongs to the goroutine which created it.
//
// Concurrency failures are returned as errors (see IsRetryable) and leave the transaction rolled back. Misuse, such as
// calling any method after Commit or Rollback, panics.
type Txn[K Hashable, V Value[V]] interface {
	// Read returns the value of key as seen by the transaction, and false if the key does not exist.
	Read(key K) (V, bool, error)
	// Insert stages a new key.
	Insert(key K, value V) error
	// Update stages a new value for an existing key.
	Update(key K, value V) error
	// Delete stages the removal of an existing key.
	Delete(key K) error
	// Size returns the number of keys as seen by the transaction.
	Size() (int, error)
	// Keys returns the keys, as seen by the transaction, for which pred returns true.
	Keys(pred func(K) bool) (map[K]struct{}, error)
	// Commit publishes the staged writes.
	Commit() error
	// Rollback discards the transaction.
	Rollback()
	State() State
	// Version returns the version assigned at commit. It panics unless the transaction committed.
	Version() uint64
}

// Transactor creates transactions. Both transactional maps implement it.
type Transactor[K Hashable, V Value[V]] interface {
	// Transact starts a transaction. Waits for latches made on behalf of the transaction give up when ctx is done.
	Transact(ctx context.Context) Txn[K, V]
}

// AnyKey is a predicate accepting every key.
func AnyKey[K Hashable](K) bool {
	return true
}

// CheckOpen panics with ErrNotOpen unless state is StateOpen.
func CheckOpen(state State) {
	if state != StateOpen {
		panic(errors.Annotatef(ErrNotOpen, "state %s", state))
	}
}

// CheckCommitted panics with ErrNotCommitted unless state is StateCommitted.
func CheckCommitted(state State) {
	if state != StateCommitted {
		panic(errors.Annotatef(ErrNotCommitted, "state %s", state))
	}
}

// CheckValue panics if value is a nil interface. Values of concrete types are accepted as they are.
func CheckValue[V any](value V) {
	if any(value) == nil {
		panic(ErrNilValue)
	}
}

// Stats is a point-in-time summary of a transactional map, for operational visibility only.
type Stats struct {
	Commits   uint64 `json:"commits"`
	Rollbacks uint64 `json:"rollbacks"`
	Failures  uint64 `json:"failures"`
	// Version is the latest committed version.
	Version uint64 `json:"version"`
	// SafeVersion and PurgedVersion are only maintained by maps which keep history.
	SafeVersion   uint64 `json:"safe_version,omitempty"`
	PurgedVersion uint64 `json:"purged_version,omitempty"`
	Keys          int    `json:"keys"`
	Versions      int    `json:"versions"`
}
