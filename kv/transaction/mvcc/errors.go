package mvcc

import (
	"fmt"
	"time"

	"github.com/pingcap/errors"
)

// Concurrency failures. Each of them leaves the transaction rolled back; running the transaction again on a fresh
// context may succeed.
type retryable interface {
	error
	// Kind names the failure for metrics and logs.
	Kind() string
}

// ErrMutexAcquisition is returned when a latch could not be acquired, either because the wait timed out or because the
// transaction's context was cancelled while waiting.
type ErrMutexAcquisition struct {
	Key     string
	Stripe  int
	Timeout time.Duration
	// Cause is nil for a timeout.
	Cause error
}

func (e *ErrMutexAcquisition) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("mutex acquisition interrupted, key: %s, stripe: %d: %v", e.Key, e.Stripe, e.Cause)
	}
	return fmt.Sprintf("mutex acquisition timed out, key: %s, stripe: %d, timeout: %v", e.Key, e.Stripe, e.Timeout)
}

func (e *ErrMutexAcquisition) Kind() string {
	return "mutex"
}

// ErrBrokenSnapshot is returned when the history a snapshot needs was garbage collected. Retrying the same snapshot can
// never succeed; the caller needs a new transaction.
type ErrBrokenSnapshot struct {
	Key         string
	ReadVersion uint64
	// OldestVersion is the oldest version still retained for Key.
	OldestVersion uint64
}

func (e *ErrBrokenSnapshot) Error() string {
	return fmt.Sprintf("broken snapshot, key: %s, read version: %d, oldest retained: %d", e.Key, e.ReadVersion, e.OldestVersion)
}

func (e *ErrBrokenSnapshot) Kind() string {
	return "broken_snapshot"
}

// ErrAntidependency is returned by an optimistic commit when a key the transaction read was changed by a transaction
// that committed after the snapshot was taken.
type ErrAntidependency struct {
	Key              string
	ReadVersion      uint64
	CommittedVersion uint64
}

func (e *ErrAntidependency) Error() string {
	return fmt.Sprintf("antidependency, key: %s, read version: %d, committed version: %d", e.Key, e.ReadVersion, e.CommittedVersion)
}

func (e *ErrAntidependency) Kind() string {
	return "antidependency"
}

// ErrLifecycle is returned by a commit when a staged write is illegal against the current content of the store.
type ErrLifecycle struct {
	Key    string
	Reason Reason
}

func (e *ErrLifecycle) Error() string {
	return fmt.Sprintf("lifecycle failure %s, key: %s", e.Reason, e.Key)
}

func (e *ErrLifecycle) Kind() string {
	return "lifecycle"
}

// IsRetryable reports whether err is a concurrency failure.
func IsRetryable(err error) bool {
	_, ok := errors.Cause(err).(retryable)
	return ok
}

// FailureKind returns the kind of a concurrency failure, or "" for any other error.
func FailureKind(err error) string {
	if r, ok := errors.Cause(err).(retryable); ok {
		return r.Kind()
	}
	return ""
}

// ErrNotOpen is the panic value for operations on a finished transaction.
var ErrNotOpen = errors.New("transaction not open")

// ErrNotCommitted is the panic value for reading the version of a transaction which has not committed.
var ErrNotCommitted = errors.New("transaction not committed")

// ErrIllegalOp is the panic value for writes which are illegal against the transaction's own view of a key.
var ErrIllegalOp = errors.New("illegal operation")

// ErrNilValue is the panic value for nil values.
var ErrNilValue = errors.New("nil value")
