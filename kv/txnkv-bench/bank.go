package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/transaction/metrics"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txnkv/kv/transaction/optimistic"
	"github.com/pingcap-incubator/txnkv/kv/transaction/pessimistic"
	"github.com/pingcap-incubator/txnkv/kv/transaction/retry"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type (
	account = mvcc.IntKey
	balance = mvcc.Int
	bankTxn = mvcc.Txn[account, balance]
)

// store is what the bench needs from a transactional map.
type store interface {
	mvcc.Transactor[account, balance]
	Snapshot() map[account]balance
	Stats() mvcc.Stats
}

func newStore(strategy string, conf *config.Config) (store, error) {
	switch strategy {
	case metrics.Pessimistic:
		m, err := pessimistic.NewMap[account, balance](conf)
		if err != nil {
			return nil, err
		}
		return m, nil
	case metrics.Optimistic:
		m, err := optimistic.NewMap[account, balance](conf)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, errors.Errorf("unknown strategy %q", strategy)
}

type bankOptions struct {
	Accounts       int
	Workers        int
	Transfers      int // per worker
	InitialBalance int64
	// Transfers per second over all workers. Zero means unlimited.
	Rate float64
	Seed int64
}

func (o *bankOptions) validate() error {
	if o.Accounts < 2 {
		return errors.New("at least 2 accounts are needed")
	}
	if o.Workers <= 0 || o.Transfers < 0 {
		return errors.New("workers must be positive and transfers not negative")
	}
	if o.InitialBalance < 0 || o.Rate < 0 {
		return errors.New("initial balance and rate must not be negative")
	}
	return nil
}

type report struct {
	Transfers int           `json:"transfers"`
	Failures  uint64        `json:"failures"`
	Elapsed   time.Duration `json:"elapsed"`
	Mean      time.Duration `json:"mean"`
	P50       time.Duration `json:"p50"`
	P99       time.Duration `json:"p99"`
	Total     int64         `json:"total"`
}

type bank struct {
	s     store
	opts  bankOptions
	retry retry.Options

	failures *atomic.Uint64
}

func newBank(s store, opts bankOptions, retryOpts retry.Options) (*bank, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	b := &bank{s: s, opts: opts, retry: retryOpts, failures: atomic.NewUint64(0)}
	b.retry.OnFailure = func(int, error) { b.failures.Inc() }
	return b, nil
}

// open creates every account in one transaction.
func (b *bank) open(ctx context.Context) error {
	return retry.Run[account, balance](ctx, b.s, func(txn bankTxn) (retry.Outcome, error) {
		for i := 0; i < b.opts.Accounts; i++ {
			if err := txn.Insert(account(i), balance(b.opts.InitialBalance)); err != nil {
				return retry.Rollback, err
			}
		}
		return retry.Commit, nil
	}, b.retry)
}

// transfer moves a random part of from's balance to to.
func (b *bank) transfer(ctx context.Context, rnd *rand.Rand, from, to account) error {
	return retry.Run[account, balance](ctx, b.s, func(txn bankTxn) (retry.Outcome, error) {
		src, ok, err := txn.Read(from)
		if err != nil {
			return retry.Rollback, err
		}
		if !ok {
			return retry.Rollback, errors.Errorf("account %d is missing", from)
		}
		dst, ok, err := txn.Read(to)
		if err != nil {
			return retry.Rollback, err
		}
		if !ok {
			return retry.Rollback, errors.Errorf("account %d is missing", to)
		}
		amount := balance(rnd.Int63n(int64(src) + 1))
		if err := txn.Update(from, src-amount); err != nil {
			return retry.Rollback, err
		}
		return retry.Commit, txn.Update(to, dst+amount)
	}, b.retry)
}

// total sums every balance in one transaction and checks the account count.
func (b *bank) total(ctx context.Context) (int64, error) {
	var sum int64
	err := retry.Run[account, balance](ctx, b.s, func(txn bankTxn) (retry.Outcome, error) {
		sum = 0
		keys, err := txn.Keys(mvcc.AnyKey[account])
		if err != nil {
			return retry.Rollback, err
		}
		size, err := txn.Size()
		if err != nil {
			return retry.Rollback, err
		}
		if size != len(keys) || size != b.opts.Accounts {
			return retry.Rollback, errors.Errorf("%d keys listed, size %d, %d accounts opened", len(keys), size, b.opts.Accounts)
		}
		for k := range keys {
			v, _, err := txn.Read(k)
			if err != nil {
				return retry.Rollback, err
			}
			sum += int64(v)
		}
		return retry.Commit, nil
	}, b.retry)
	return sum, err
}

// run performs the transfers and checks that no money was created or lost.
func (b *bank) run(ctx context.Context) (*report, error) {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if b.opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.opts.Rate), 1)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		latencies = make(stats.Float64Data, 0, b.opts.Workers*b.opts.Transfers)
	)
	start := time.Now()
	for w := 0; w < b.opts.Workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(b.opts.Seed + int64(w)))
			local := make([]float64, 0, b.opts.Transfers)
			defer func() {
				mu.Lock()
				latencies = append(latencies, local...)
				mu.Unlock()
			}()
			for i := 0; i < b.opts.Transfers; i++ {
				if err := limiter.Wait(ctx); err != nil {
					b.setErr(&mu, &firstErr, errors.Trace(err))
					return
				}
				from := account(rnd.Intn(b.opts.Accounts))
				to := account(rnd.Intn(b.opts.Accounts - 1))
				if to >= from {
					to++
				}
				begin := time.Now()
				if err := b.transfer(ctx, rnd, from, to); err != nil {
					b.setErr(&mu, &firstErr, err)
					return
				}
				local = append(local, float64(time.Since(begin)))
			}
		}(w)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	r := &report{
		Transfers: len(latencies),
		Failures:  b.failures.Load(),
		Elapsed:   time.Since(start),
	}
	if len(latencies) > 0 {
		mean, _ := stats.Mean(latencies)
		p50, _ := stats.Percentile(latencies, 50)
		p99, _ := stats.Percentile(latencies, 99)
		r.Mean, r.P50, r.P99 = time.Duration(mean), time.Duration(p50), time.Duration(p99)
	}

	total, err := b.total(ctx)
	if err != nil {
		return nil, err
	}
	r.Total = total
	if want := int64(b.opts.Accounts) * b.opts.InitialBalance; total != want {
		return r, errors.Errorf("balance invariant broken: total %d, want %d", total, want)
	}
	log.Info("bank workload finished",
		zap.Int("transfers", r.Transfers),
		zap.Uint64("failures", r.Failures),
		zap.Duration("elapsed", r.Elapsed),
		zap.Duration("p99", r.P99))
	return r, nil
}

func (b *bank) setErr(mu *sync.Mutex, dst *error, err error) {
	mu.Lock()
	defer mu.Unlock()
	if *dst == nil {
		*dst = err
	}
}
