package optimistic

import (
	"context"
	"sync"

	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/transaction/latches"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Map is a transactional map with snapshot reads and commit time validation. Transactions take no latches until
// they commit; the commit latches every stripe the transaction touched, checks that nothing it read has changed since
// its snapshot, and pushes its writes on the version chains of the keys.
//
// Committing transactions are queued in version order. Once the transactions at the head of the queue have finished,
// the chains of the keys they wrote are cut back to the configured depth and the safe version, which new snapshots read
// at, moves forward.
type Map[K mvcc.Hashable, V mvcc.Value[V]] struct {
	latches    *latches.Latches
	store      *storage.MemStorage[mvcc.Key[K], chain[V]]
	queueDepth int
	logger     *zap.Logger

	version *atomic.Uint64
	// safeVersion is the version of the newest drained commit. Every version up to it is fully published.
	safeVersion *atomic.Uint64
	// purgedVersion is the highest version garbage collection has dropped.
	purgedVersion *atomic.Uint64

	queueMu sync.Mutex
	queue   []*Txn[K, V]

	commits   *atomic.Uint64
	rollbacks *atomic.Uint64
	failures  *atomic.Uint64
}

var _ mvcc.Transactor[mvcc.StringKey, mvcc.String] = (*Map[mvcc.StringKey, mvcc.String])(nil)

func NewMap[K mvcc.Hashable, V mvcc.Value[V]](conf *config.Config) (*Map[K, V], error) {
	if err := conf.ValidateOptimistic(); err != nil {
		return nil, errors.Trace(err)
	}
	l, err := latches.NewLatches(conf.MutexStripes, conf.NewMutex)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m := &Map[K, V]{
		latches:       l,
		queueDepth:    conf.QueueDepth,
		logger:        conf.GetLogger().With(zap.String("strategy", "optimistic")),
		version:       atomic.NewUint64(0),
		safeVersion:   atomic.NewUint64(0),
		purgedVersion: atomic.NewUint64(0),
		commits:       atomic.NewUint64(0),
		rollbacks:     atomic.NewUint64(0),
		failures:      atomic.NewUint64(0),
	}
	l.Logger = m.logger
	m.store = storage.NewMemStorage[mvcc.Key[K], chain[V]](l.Len(), func(k mvcc.Key[K]) int {
		return l.StripeIndex(k)
	})
	m.store.Put(mvcc.SizeKey[K](), chain[V]{entries: []mvcc.Versioned[V]{mvcc.Counter[V](0, 0)}})
	return m, nil
}

// Transact starts a transaction reading at the current safe version. Only the latch wait in Commit looks at ctx.
func (m *Map[K, V]) Transact(ctx context.Context) mvcc.Txn[K, V] {
	return m.begin(ctx)
}

func (m *Map[K, V]) begin(ctx context.Context) *Txn[K, V] {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Txn[K, V]{
		m:           m,
		ctx:         ctx,
		overlay:     mvcc.NewOverlay[K, V](),
		readVersion: m.safeVersion.Load(),
		state:       atomic.NewInt32(int32(mvcc.StateOpen)),
	}
}

// Snapshot returns a copy of the newest value of every live user key.
func (m *Map[K, V]) Snapshot() map[K]V {
	snap := make(map[K]V)
	m.store.Range(func(k mvcc.Key[K], c chain[V]) bool {
		user, ok := k.User()
		if !ok {
			return true
		}
		if v, ok := c.newest().Value(); ok {
			snap[user] = v.Clone()
		}
		return true
	})
	return snap
}

// VersionCount returns the number of versions held by all chains, tombstones and internal keys included.
func (m *Map[K, V]) VersionCount() int {
	n := 0
	m.store.Range(func(_ mvcc.Key[K], c chain[V]) bool {
		n += len(c.entries)
		return true
	})
	return n
}

func (m *Map[K, V]) Stats() mvcc.Stats {
	stats := mvcc.Stats{
		Commits:       m.commits.Load(),
		Rollbacks:     m.rollbacks.Load(),
		Failures:      m.failures.Load(),
		Version:       m.version.Load(),
		SafeVersion:   m.safeVersion.Load(),
		PurgedVersion: m.purgedVersion.Load(),
	}
	m.store.Range(func(k mvcc.Key[K], c chain[V]) bool {
		if !k.Internal() && c.newest().Exists() {
			stats.Keys++
		}
		stats.Versions += len(c.entries)
		return true
	})
	return stats
}

// SafeVersion returns the version new transactions read at.
func (m *Map[K, V]) SafeVersion() uint64 {
	return m.safeVersion.Load()
}
