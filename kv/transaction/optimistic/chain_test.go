package optimistic

import (
	"testing"

	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

func TestChainPushAndAt(t *testing.T) {
	c := chain[mvcc.String]{created: 2}
	c = c.push(mvcc.NewVersioned[mvcc.String](2, "a"))
	old := c
	c = c.push(mvcc.Tombstone[mvcc.String](5))
	c = c.push(mvcc.NewVersioned[mvcc.String](9, "b"))

	assert.Len(t, old.entries, 1)
	assert.Equal(t, uint64(9), c.newest().Version)
	assert.Equal(t, uint64(2), c.oldest().Version)

	_, ok := c.at(1)
	assert.False(t, ok)
	v, ok := c.at(4)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), v.Version)
	v, _ = c.at(7)
	assert.True(t, v.IsTombstone())
	v, _ = c.at(100)
	s, _ := v.Value()
	assert.Equal(t, mvcc.String("b"), s)
}

func TestChainTruncate(t *testing.T) {
	var c chain[mvcc.String]
	for v := uint64(1); v <= 5; v++ {
		c = c.push(mvcc.NewVersioned[mvcc.String](v, "x"))
	}
	before := c

	c, purged, dropped := c.truncate(2)
	assert.Len(t, c.entries, 2)
	assert.Equal(t, uint64(3), purged)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, uint64(4), c.oldest().Version)
	assert.Len(t, before.entries, 5)

	c, purged, dropped = c.truncate(2)
	assert.Equal(t, uint64(0), purged)
	assert.Equal(t, 0, dropped)
	assert.Len(t, c.entries, 2)
}

func TestAdvanceOnlyForward(t *testing.T) {
	v := atomic.NewUint64(5)
	assert.False(t, advance(v, 3))
	assert.False(t, advance(v, 5))
	assert.True(t, advance(v, 8))
	assert.Equal(t, uint64(8), v.Load())
}
