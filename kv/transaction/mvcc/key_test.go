package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyKinds(t *testing.T) {
	k := UserKey(StringKey("a"))
	user, ok := k.User()
	assert.True(t, ok)
	assert.Equal(t, StringKey("a"), user)
	assert.False(t, k.Internal())
	assert.Equal(t, StringKey("a").Hash(), k.Hash())

	size := SizeKey[StringKey]()
	_, ok = size.User()
	assert.False(t, ok)
	assert.True(t, size.Internal())
	assert.Equal(t, "<size>", size.String())

	// The empty user key and the size key share a zero user part but are distinct store keys.
	assert.NotEqual(t, UserKey(StringKey("")), size)
}

func TestKeyHashStable(t *testing.T) {
	assert.Equal(t, StringKey("abc").Hash(), StringKey("abc").Hash())
	assert.NotEqual(t, StringKey("abc").Hash(), StringKey("abd").Hash())
	assert.Equal(t, IntKey(7).Hash(), IntKey(7).Hash())
	assert.NotEqual(t, IntKey(7).Hash(), IntKey(8).Hash())
}

func TestVersionedClone(t *testing.T) {
	v := NewVersioned(1, Bytes("abc"))
	c := v.Clone()
	b, _ := c.Value()
	b[0] = 'x'
	orig, _ := v.Value()
	assert.Equal(t, Bytes("abc"), orig)

	assert.True(t, Tombstone[Bytes](2).IsTombstone())
	assert.False(t, Tombstone[Bytes](2).Exists())
	assert.True(t, Counter[Bytes](0, 3).Exists())
	assert.Equal(t, uint64(9), v.WithVersion(9).Version)
	assert.Equal(t, uint64(1), v.Version)
}

func TestErrorClassification(t *testing.T) {
	var err error = &ErrLifecycle{Key: "a", Reason: ReasonInsertExisting}
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "lifecycle", FailureKind(err))
	assert.Contains(t, err.Error(), "INSERT_EXISTING")

	err = &ErrMutexAcquisition{Key: "a", Stripe: 2}
	assert.Equal(t, "mutex", FailureKind(err))
	assert.True(t, IsRetryable(err))

	assert.False(t, IsRetryable(ErrNotOpen))
	assert.Equal(t, "", FailureKind(ErrNotOpen))
}

func TestCheckState(t *testing.T) {
	assert.NotPanics(t, func() { CheckOpen(StateOpen) })
	assert.Panics(t, func() { CheckOpen(StateCommitted) })
	assert.NotPanics(t, func() { CheckCommitted(StateCommitted) })
	assert.Panics(t, func() { CheckCommitted(StateRolledBack) })
}
