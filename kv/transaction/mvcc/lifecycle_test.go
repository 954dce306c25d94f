package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleTransitions(t *testing.T) {
	cases := []struct {
		ops  []Op
		want Lifecycle
	}{
		{nil, LifecycleNone},
		{[]Op{OpInsert}, LifecycleInserted},
		{[]Op{OpUpdate}, LifecycleUpdated},
		{[]Op{OpDelete}, LifecycleDeleted},
		{[]Op{OpInsert, OpUpdate}, LifecycleInserted},
		{[]Op{OpInsert, OpDelete}, LifecycleInsertDeleted},
		{[]Op{OpInsert, OpDelete, OpInsert}, LifecycleInserted},
		{[]Op{OpUpdate, OpDelete}, LifecycleDeleted},
		{[]Op{OpDelete, OpInsert}, LifecycleUpdated},
		{[]Op{OpDelete, OpInsert, OpDelete}, LifecycleDeleted},
		{[]Op{OpUpdate, OpUpdate}, LifecycleUpdated},
	}
	for _, c := range cases {
		lc := LifecycleNone
		for _, op := range c.ops {
			lc = lc.next(op)
		}
		assert.Equal(t, c.want, lc, "ops %v", c.ops)
	}
}

func TestLifecycleCheck(t *testing.T) {
	reason, ok := LifecycleInserted.Check(true)
	assert.False(t, ok)
	assert.Equal(t, ReasonInsertExisting, reason)
	_, ok = LifecycleInserted.Check(false)
	assert.True(t, ok)

	reason, ok = LifecycleUpdated.Check(false)
	assert.False(t, ok)
	assert.Equal(t, ReasonUpdateNonexistent, reason)
	_, ok = LifecycleUpdated.Check(true)
	assert.True(t, ok)

	reason, ok = LifecycleDeleted.Check(false)
	assert.False(t, ok)
	assert.Equal(t, ReasonDeleteNonexistent, reason)

	reason, ok = LifecycleInsertDeleted.Check(true)
	assert.False(t, ok)
	assert.Equal(t, ReasonInsertDeleteExisting, reason)
	_, ok = LifecycleInsertDeleted.Check(false)
	assert.True(t, ok)

	_, ok = LifecycleNone.Check(true)
	assert.True(t, ok)
	_, ok = LifecycleNone.Check(false)
	assert.True(t, ok)
}

func TestLifecyclePublishes(t *testing.T) {
	assert.False(t, LifecycleNone.Publishes())
	assert.False(t, LifecycleInsertDeleted.Publishes())
	assert.True(t, LifecycleInserted.Publishes())
	assert.True(t, LifecycleUpdated.Publishes())
	assert.True(t, LifecycleDeleted.Publishes())
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "INSERT_EXISTING", ReasonInsertExisting.String())
	assert.Equal(t, "DELETE_NONEXISTENT", ReasonDeleteNonexistent.String())
}
