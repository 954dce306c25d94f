package optimistic

import (
	"context"
	"time"

	"github.com/pingcap-incubator/txnkv/kv/transaction/latches"
	"github.com/pingcap-incubator/txnkv/kv/transaction/metrics"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Txn is a transaction on an optimistic Map. It implements mvcc.Txn.
type Txn[K mvcc.Hashable, V mvcc.Value[V]] struct {
	m           *Map[K, V]
	ctx         context.Context
	overlay     *mvcc.Overlay[K, V]
	readVersion uint64
	// state is read by whichever transaction drains the commit queue.
	state   *atomic.Int32
	version uint64
	// written lists the keys published by the commit. It is set before the state becomes committed and never changes
	// afterwards.
	written []mvcc.Key[K]
}

func (t *Txn[K, V]) Read(key K) (V, bool, error) {
	mvcc.CheckOpen(t.State())
	var zero V
	e, err := t.load(mvcc.UserKey(key))
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
	mvcc.CheckOpen(t.State())
	mvcc.CheckValue(value)
	return t.write(mvcc.UserKey(key), mvcc.OpInsert, value.Clone())
}

func (t *Txn[K, V]) Update(key K, value V) error {
	mvcc.CheckOpen(t.State())
	mvcc.CheckValue(value)
	return t.write(mvcc.UserKey(key), mvcc.OpUpdate, value.Clone())
}

func (t *Txn[K, V]) Delete(key K) error {
	mvcc.CheckOpen(t.State())
	var zero V
	return t.write(mvcc.UserKey(key), mvcc.OpDelete, zero)
}

func (t *Txn[K, V]) Size() (int, error) {
	mvcc.CheckOpen(t.State())
	e, err := t.load(mvcc.SizeKey[K]())
	if err != nil {
		return 0, err
	}
	return e.Count(), nil
}

// Keys scans the snapshot. The scan itself records no reads; the read of the size key makes any concurrent insert
// or delete fail this transaction's commit.
func (t *Txn[K, V]) Keys(pred func(K) bool) (map[K]struct{}, error) {
	mvcc.CheckOpen(t.State())
	if _, err := t.load(mvcc.SizeKey[K]()); err != nil {
		return nil, err
	}
	keys := make(map[K]struct{})
	var broken error
	t.m.store.Range(func(k mvcc.Key[K], c chain[V]) bool {
		user, ok := k.User()
		if !ok {
			return true
		}
		v, ok := c.at(t.readVersion)
		if !ok {
			if c.created <= t.readVersion {
				broken = t.brokenSnapshot(k, c)
				return false
			}
			return true
		}
		if v.Exists() && pred(user) {
			keys[user] = struct{}{}
		}
		return true
	})
	if broken != nil {
		return nil, t.fail(broken, nil)
	}
	t.overlay.MergeKeys(keys, pred)
	return keys, nil
}

func (t *Txn[K, V]) Commit() error {
	mvcc.CheckOpen(t.State())

	requests := make(map[int]latches.Mode)
	t.overlay.Range(func(k mvcc.Key[K], e *mvcc.Entry[V]) bool {
		i := t.m.latches.StripeIndex(k)
		if e.Written() {
			requests[i] = latches.ModeWrite
		} else if _, ok := requests[i]; !ok {
			requests[i] = latches.ModeRead
		}
		return true
	})
	start := time.Now()
	held, err := t.m.latches.WaitForLatches(t.ctx, requests)
	metrics.LatchWaitHistogram.WithLabelValues(metrics.Optimistic).Observe(time.Since(start).Seconds())
	if err != nil {
		return t.fail(&mvcc.ErrMutexAcquisition{Key: "<commit>", Stripe: -1, Timeout: latches.Forever, Cause: err}, nil)
	}

	if err := t.validate(); err != nil {
		return t.fail(err, held)
	}

	t.m.queueMu.Lock()
	t.version = t.m.version.Inc()
	t.m.queue = append(t.m.queue, t)
	t.m.queueMu.Unlock()

	t.overlay.Range(func(k mvcc.Key[K], e *mvcc.Entry[V]) bool {
		if !e.Written() || !e.Lifecycle().Publishes() {
			return true
		}
		v := e.Versioned().WithVersion(t.version)
		t.m.store.Update(k, func(c chain[V], ok bool) (chain[V], bool) {
			if !ok {
				c.created = t.version
			}
			return c.push(v), true
		})
		t.written = append(t.written, k)
		return true
	})

	t.m.latches.ReleaseLatches(held)
	t.state.Store(int32(mvcc.StateCommitted))
	t.m.commits.Inc()
	metrics.TxnCounter.WithLabelValues(metrics.Optimistic, metrics.ResultCommit).Inc()
	t.m.logger.Debug("txn committed",
		zap.Uint64("read-version", t.readVersion),
		zap.Uint64("version", t.version),
		zap.Int("written", len(t.written)))

	t.m.sweep()
	return nil
}

// validate runs the antidependency and lifecycle checks. The caller holds the latches of every key in the overlay.
func (t *Txn[K, V]) validate() error {
	var failure error
	t.overlay.Range(func(k mvcc.Key[K], e *mvcc.Entry[V]) bool {
		if !e.Read() {
			return true
		}
		if c, ok := t.m.store.Get(k); ok && c.newest().Version > t.readVersion {
			failure = &mvcc.ErrAntidependency{
				Key:              k.String(),
				ReadVersion:      t.readVersion,
				CommittedVersion: c.newest().Version,
			}
			return false
		}
		return true
	})
	if failure != nil {
		return failure
	}

	t.overlay.Range(func(k mvcc.Key[K], e *mvcc.Entry[V]) bool {
		if !e.Written() {
			return true
		}
		c, ok := t.m.store.Get(k)
		if reason, valid := e.Lifecycle().Check(ok && c.newest().Exists()); !valid {
			failure = &mvcc.ErrLifecycle{Key: k.String(), Reason: reason}
			return false
		}
		return true
	})
	return failure
}

// Rollback discards the transaction. Nothing shared was touched, but the commit queue may be waiting on it.
func (t *Txn[K, V]) Rollback() {
	mvcc.CheckOpen(t.State())
	t.state.Store(int32(mvcc.StateRolledBack))
	t.m.rollbacks.Inc()
	metrics.TxnCounter.WithLabelValues(metrics.Optimistic, metrics.ResultRollback).Inc()
	t.m.sweep()
}

func (t *Txn[K, V]) State() mvcc.State {
	return mvcc.State(t.state.Load())
}

func (t *Txn[K, V]) Version() uint64 {
	mvcc.CheckCommitted(t.State())
	return t.version
}

// ReadVersion returns the version the transaction's snapshot was taken at.
func (t *Txn[K, V]) ReadVersion() uint64 {
	return t.readVersion
}

// load returns the local entry for k, copying the version visible at the snapshot into the overlay first if the
// transaction has not seen k yet.
func (t *Txn[K, V]) load(k mvcc.Key[K]) (*mvcc.Entry[V], error) {
	if e, ok := t.overlay.Get(k); ok {
		return e, nil
	}
	c, found := t.m.store.Get(k)
	if !found {
		return t.overlay.Load(k, mvcc.Versioned[V]{}, false), nil
	}
	v, ok := c.at(t.readVersion)
	if !ok {
		if c.created > t.readVersion {
			// Created after the snapshot; the commit will notice.
			return t.overlay.Load(k, mvcc.Versioned[V]{}, false), nil
		}
		return nil, t.fail(t.brokenSnapshot(k, c), nil)
	}
	return t.overlay.Load(k, v.Clone(), true), nil
}

func (t *Txn[K, V]) write(k mvcc.Key[K], op mvcc.Op, value V) error {
	delta := t.overlay.Stage(k, op, value)
	if delta == 0 {
		return nil
	}
	sk := mvcc.SizeKey[K]()
	e, err := t.load(sk)
	if err != nil {
		return err
	}
	t.overlay.SetCount(sk, e.Count()+delta)
	return nil
}

func (t *Txn[K, V]) brokenSnapshot(k mvcc.Key[K], c chain[V]) error {
	t.m.logger.Warn("snapshot broken by garbage collection",
		zap.Stringer("key", k),
		zap.Uint64("read-version", t.readVersion),
		zap.Uint64("oldest-version", c.oldest().Version))
	return &mvcc.ErrBrokenSnapshot{
		Key:           k.String(),
		ReadVersion:   t.readVersion,
		OldestVersion: c.oldest().Version,
	}
}

// fail rolls the transaction back because of a concurrency failure, releasing held, and returns err.
func (t *Txn[K, V]) fail(err error, held []latches.Latched) error {
	if held != nil {
		t.m.latches.ReleaseLatches(held)
	}
	t.state.Store(int32(mvcc.StateRolledBack))
	t.m.failures.Inc()
	metrics.TxnCounter.WithLabelValues(metrics.Optimistic, metrics.ResultFailure).Inc()
	metrics.FailureCounter.WithLabelValues(metrics.Optimistic, mvcc.FailureKind(err)).Inc()
	t.m.logger.Debug("txn failed", zap.Error(err))
	t.m.sweep()
	return err
}
