package pessimistic

import (
	"context"
	"time"

	"github.com/pingcap-incubator/txnkv/kv/transaction/latches"
	"github.com/pingcap-incubator/txnkv/kv/transaction/metrics"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"go.uber.org/zap"
)

// Txn is a transaction on a pessimistic Map. It implements mvcc.Txn.
type Txn[K mvcc.Hashable, V mvcc.Value[V]] struct {
	m       *Map[K, V]
	ctx     context.Context
	overlay *mvcc.Overlay[K, V]
	// holds maps stripe indexes to the latches this transaction holds.
	holds   map[int]*latches.Hold
	state   mvcc.State
	version uint64
}

func (t *Txn[K, V]) Read(key K) (V, bool, error) {
	mvcc.CheckOpen(t.state)
	var zero V
	e, err := t.load(mvcc.UserKey(key), latches.ModeRead)
	if err != nil {
		return zero, false, err
	}
	v, ok := e.Value()
	if !ok {
		return zero, false, nil
	}
	return v.Clone(), true, nil
}

func (t *Txn[K, V]) Insert(key K, value V) error {
	mvcc.CheckOpen(t.state)
	mvcc.CheckValue(value)
	return t.write(mvcc.UserKey(key), mvcc.OpInsert, value)
}

func (t *Txn[K, V]) Update(key K, value V) error {
	mvcc.CheckOpen(t.state)
	mvcc.CheckValue(value)
	return t.write(mvcc.UserKey(key), mvcc.OpUpdate, value)
}

func (t *Txn[K, V]) Delete(key K) error {
	mvcc.CheckOpen(t.state)
	var zero V
	return t.write(mvcc.UserKey(key), mvcc.OpDelete, zero)
}

func (t *Txn[K, V]) Size() (int, error) {
	mvcc.CheckOpen(t.state)
	e, err := t.load(mvcc.SizeKey[K](), latches.ModeRead)
	if err != nil {
		return 0, err
	}
	return e.Count(), nil
}

// Keys scans the live store. The read latch on the size key keeps other transactions from inserting or deleting keys
// until this one finishes, so the key set cannot change under it.
func (t *Txn[K, V]) Keys(pred func(K) bool) (map[K]struct{}, error) {
	mvcc.CheckOpen(t.state)
	if _, err := t.load(mvcc.SizeKey[K](), latches.ModeRead); err != nil {
		return nil, err
	}
	keys := make(map[K]struct{})
	t.m.store.Range(func(k mvcc.Key[K], e mvcc.Versioned[V]) bool {
		if user, ok := k.User(); ok && e.Exists() && pred(user) {
			keys[user] = struct{}{}
		}
		return true
	})
	t.overlay.MergeKeys(keys, pred)
	return keys, nil
}

func (t *Txn[K, V]) Commit() error {
	mvcc.CheckOpen(t.state)

	var failure error
	t.overlay.Range(func(k mvcc.Key[K], e *mvcc.Entry[V]) bool {
		if !e.Written() {
			return true
		}
		stored, found := t.m.store.Get(k)
		if reason, ok := e.Lifecycle().Check(found && stored.Exists()); !ok {
			failure = &mvcc.ErrLifecycle{Key: k.String(), Reason: reason}
			return false
		}
		return true
	})
	if failure != nil {
		return t.fail(failure)
	}

	t.version = t.m.version.Inc()
	written := 0
	t.overlay.Range(func(k mvcc.Key[K], e *mvcc.Entry[V]) bool {
		if !e.Written() || !e.Lifecycle().Publishes() {
			return true
		}
		written++
		if v := e.Versioned(); v.IsTombstone() {
			t.m.store.Delete(k)
		} else {
			t.m.store.Put(k, v.WithVersion(t.version))
		}
		return true
	})
	t.release()
	t.state = mvcc.StateCommitted

	t.m.commits.Inc()
	metrics.TxnCounter.WithLabelValues(metrics.Pessimistic, metrics.ResultCommit).Inc()
	t.m.logger.Debug("txn committed",
		zap.Uint64("version", t.version),
		zap.Int("written", written))
	return nil
}

func (t *Txn[K, V]) Rollback() {
	mvcc.CheckOpen(t.state)
	t.release()
	t.state = mvcc.StateRolledBack
	t.m.rollbacks.Inc()
	metrics.TxnCounter.WithLabelValues(metrics.Pessimistic, metrics.ResultRollback).Inc()
}

func (t *Txn[K, V]) State() mvcc.State {
	return t.state
}

func (t *Txn[K, V]) Version() uint64 {
	mvcc.CheckCommitted(t.state)
	return t.version
}

// load returns the local entry for k, copying it from the store first if the transaction has not seen k yet. The
// stripe of k is latched in mode before the store is looked at.
func (t *Txn[K, V]) load(k mvcc.Key[K], mode latches.Mode) (*mvcc.Entry[V], error) {
	if err := t.lock(k, mode); err != nil {
		return nil, err
	}
	if e, ok := t.overlay.Get(k); ok {
		return e, nil
	}
	stored, found := t.m.store.Get(k)
	return t.overlay.Load(k, stored.Clone(), found), nil
}

func (t *Txn[K, V]) write(k mvcc.Key[K], op mvcc.Op, value V) error {
	t.overlay.CheckOp(k, op)
	if err := t.lock(k, latches.ModeWrite); err != nil {
		return err
	}
	if op != mvcc.OpDelete {
		value = value.Clone()
	}
	delta := t.overlay.Stage(k, op, value)
	if delta == 0 {
		return nil
	}
	sk := mvcc.SizeKey[K]()
	e, err := t.load(sk, latches.ModeWrite)
	if err != nil {
		return err
	}
	t.overlay.SetCount(sk, e.Count()+delta)
	return nil
}

// lock latches the stripe of k in mode, upgrading a read latch this transaction already holds. On failure the
// transaction is rolled back.
func (t *Txn[K, V]) lock(k mvcc.Key[K], mode latches.Mode) error {
	stripe := t.m.latches.ForKey(k)
	h, held := t.holds[stripe.Index]
	if held && (h.Mode() == latches.ModeWrite || mode == latches.ModeRead) {
		return nil
	}

	start := time.Now()
	var (
		ok  bool
		err error
	)
	switch {
	case held:
		ok, err = stripe.Mutex.TryUpgrade(t.ctx, h, t.m.lockTimeout)
	case mode == latches.ModeWrite:
		h, ok, err = stripe.Mutex.TryWriteAcquire(t.ctx, t.m.lockTimeout)
	default:
		h, ok, err = stripe.Mutex.TryReadAcquire(t.ctx, t.m.lockTimeout)
	}
	metrics.LatchWaitHistogram.WithLabelValues(metrics.Pessimistic).Observe(time.Since(start).Seconds())
	if err != nil || !ok {
		return t.fail(&mvcc.ErrMutexAcquisition{
			Key:     k.String(),
			Stripe:  stripe.Index,
			Timeout: t.m.lockTimeout,
			Cause:   err,
		})
	}
	t.holds[stripe.Index] = h
	return nil
}

func (t *Txn[K, V]) release() {
	for i, h := range t.holds {
		latches.Release(t.m.latches.ForStripe(i).Mutex, h)
	}
	t.holds = nil
}

// fail rolls the transaction back because of a concurrency failure and returns err.
func (t *Txn[K, V]) fail(err error) error {
	t.release()
	t.state = mvcc.StateRolledBack
	t.m.failures.Inc()
	metrics.TxnCounter.WithLabelValues(metrics.Pessimistic, metrics.ResultFailure).Inc()
	metrics.FailureCounter.WithLabelValues(metrics.Pessimistic, mvcc.FailureKind(err)).Inc()
	t.m.logger.Debug("txn failed", zap.Error(err))
	return err
}
