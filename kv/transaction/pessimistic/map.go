package pessimistic

import (
	"context"
	"time"

	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/transaction/latches"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Map is a transactional map using strict two-phase locking. A transaction latches the stripe of every key it touches
// when it first touches it and keeps the latch until it finishes, so conflicts show up as latch timeouts while the
// transaction runs rather than at commit. The store holds exactly one version per key and deletes remove keys.
type Map[K mvcc.Hashable, V mvcc.Value[V]] struct {
	latches     *latches.Latches
	store       *storage.MemStorage[mvcc.Key[K], mvcc.Versioned[V]]
	version     *atomic.Uint64
	lockTimeout time.Duration
	logger      *zap.Logger

	commits   *atomic.Uint64
	rollbacks *atomic.Uint64
	failures  *atomic.Uint64
}

var _ mvcc.Transactor[mvcc.StringKey, mvcc.String] = (*Map[mvcc.StringKey, mvcc.String])(nil)

func NewMap[K mvcc.Hashable, V mvcc.Value[V]](conf *config.Config) (*Map[K, V], error) {
	if err := conf.ValidatePessimistic(); err != nil {
		return nil, errors.Trace(err)
	}
	l, err := latches.NewLatches(conf.MutexStripes, conf.NewMutex)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m := &Map[K, V]{
		latches:     l,
		version:     atomic.NewUint64(0),
		lockTimeout: conf.LockTimeout.Duration,
		logger:      conf.GetLogger().With(zap.String("strategy", "pessimistic")),
		commits:     atomic.NewUint64(0),
		rollbacks:   atomic.NewUint64(0),
		failures:    atomic.NewUint64(0),
	}
	l.Logger = m.logger
	m.store = storage.NewMemStorage[mvcc.Key[K], mvcc.Versioned[V]](l.Len(), func(k mvcc.Key[K]) int {
		return l.StripeIndex(k)
	})
	m.store.Put(mvcc.SizeKey[K](), mvcc.Counter[V](0, 0))
	return m, nil
}

// Transact starts a transaction. Latch waits give up early when ctx is done.
func (m *Map[K, V]) Transact(ctx context.Context) mvcc.Txn[K, V] {
	return m.begin(ctx)
}

func (m *Map[K, V]) begin(ctx context.Context) *Txn[K, V] {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Txn[K, V]{
		m:       m,
		ctx:     ctx,
		overlay: mvcc.NewOverlay[K, V](),
		holds:   make(map[int]*latches.Hold),
	}
}

// Snapshot returns a copy of the live user values. It takes no latches, so it may observe a commit half applied.
func (m *Map[K, V]) Snapshot() map[K]V {
	snap := make(map[K]V)
	m.store.Range(func(k mvcc.Key[K], e mvcc.Versioned[V]) bool {
		user, ok := k.User()
		if !ok {
			return true
		}
		if v, ok := e.Value(); ok {
			snap[user] = v.Clone()
		}
		return true
	})
	return snap
}

// VersionCount returns the number of entries in the store, internal keys included.
func (m *Map[K, V]) VersionCount() int {
	return m.store.Len()
}

func (m *Map[K, V]) Stats() mvcc.Stats {
	n := m.store.Len()
	return mvcc.Stats{
		Commits:   m.commits.Load(),
		Rollbacks: m.rollbacks.Load(),
		Failures:  m.failures.Load(),
		Version:   m.version.Load(),
		Keys:      n - 1,
		Versions:  n,
	}
}
