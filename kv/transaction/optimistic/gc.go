package optimistic

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/metrics"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// sweep drains finished transactions from the head of the commit queue. For each committed one it truncates the
// chains of the keys it wrote and moves the safe version up to its version. Draining stops at the first transaction
// still committing: its versions are not fully published, and nothing behind it may become visible before it is.
func (m *Map[K, V]) sweep() {
	for {
		head := m.popFinished()
		if head == nil {
			return
		}
		if head.State() != mvcc.StateCommitted {
			continue
		}
		var purged uint64
		dropped := 0
		for _, k := range head.written {
			m.store.Update(k, func(c chain[V], ok bool) (chain[V], bool) {
				if !ok {
					return c, false
				}
				c, p, n := c.truncate(m.queueDepth)
				if p > purged {
					purged = p
				}
				dropped += n
				return c, true
			})
		}
		if dropped > 0 {
			metrics.GCPurgedCounter.Add(float64(dropped))
			advance(m.purgedVersion, purged)
		}
		// Every commit up to head has finished publishing, so head's version is a complete snapshot.
		if advance(m.safeVersion, head.version) {
			metrics.SafeVersionGauge.Set(float64(head.version))
		}
		m.logger.Debug("commit drained",
			zap.Uint64("version", head.version),
			zap.Int("dropped", dropped),
			zap.Uint64("purged-version", purged))
	}
}

func (m *Map[K, V]) popFinished() *Txn[K, V] {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if len(m.queue) == 0 || m.queue[0].State() == mvcc.StateOpen {
		return nil
	}
	head := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return head
}

// advance moves v forward to to, never backward, and reports whether it moved.
func advance(v *atomic.Uint64, to uint64) bool {
	for {
		cur := v.Load()
		if to <= cur {
			return false
		}
		if v.CAS(cur, to) {
			return true
		}
	}
}
