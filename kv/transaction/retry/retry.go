package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/transaction/metrics"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Outcome tells Run what to do with the transaction once a region returns.
type Outcome int

const (
	// Commit commits the transaction and finishes.
	Commit Outcome = iota
	// Rollback rolls the transaction back and finishes.
	Rollback
	// Retry rolls the transaction back and runs the region again on a new one.
	Retry
)

func (o Outcome) String() string {
	switch o {
	case Commit:
		return "commit"
	case Rollback:
		return "rollback"
	case Retry:
		return "retry"
	}
	return "unknown"
}

// Region is the body of a transaction. It may be run any number of times, each time on a new transaction, so it must
// not have side effects outside of txn.
type Region[K mvcc.Hashable, V mvcc.Value[V]] func(txn mvcc.Txn[K, V]) (Outcome, error)

// ErrTooManyAttempts is the cause of the error Run returns when Options.MaxAttempts runs out.
var ErrTooManyAttempts = errors.New("too many attempts")

// ErrAborted is the cause of the error Run returns when its context is done while backing off.
var ErrAborted = errors.New("retry aborted")

type Options struct {
	// MaxAttempts bounds the number of times the region runs. Zero means no bound.
	MaxAttempts int
	// OnFailure observes every concurrency failure before the next attempt.
	OnFailure func(attempt int, err error)
	// Backoff returns how long to sleep after the given failed attempt. nil means DefaultBackoff.
	Backoff func(attempt int) time.Duration
	Logger  *zap.Logger
}

// NewOptions returns the options set by conf.
func NewOptions(conf *config.Config) Options {
	return Options{
		MaxAttempts: conf.RetryMaxAttempts,
		Logger:      conf.GetLogger(),
	}
}

// DefaultBackoff sleeps a uniformly random time below attempt milliseconds, so the cap grows linearly.
func DefaultBackoff(attempt int) time.Duration {
	return time.Duration(rand.Int63n(int64(attempt) * int64(time.Millisecond)))
}

// Run runs region on new transactions from store until it finishes. Concurrency failures, returned by the region or by
// the commit, are passed to opts.OnFailure and cause another attempt after a backoff. The Retry outcome runs the
// region again at once. Any other error is returned as it is. A panic in the region rolls the transaction back and propagates.
func Run[K mvcc.Hashable, V mvcc.Value[V]](ctx context.Context, store mvcc.Transactor[K, V], region Region[K, V], opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.L()
	}

	for attempt := 1; ; attempt++ {
		again, err := runOnce(ctx, store, region, attempt)
		if err == nil && !again {
			metrics.RetryAttemptHistogram.Observe(float64(attempt))
			return nil
		}
		if err != nil {
			if !mvcc.IsRetryable(err) {
				return err
			}
			logger.Debug("transaction attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			if opts.OnFailure != nil {
				opts.OnFailure(attempt, err)
			}
		}
		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			if err == nil {
				return errors.Annotatef(ErrTooManyAttempts, "gave up after %d attempts", attempt)
			}
			return errors.Annotatef(ErrTooManyAttempts, "gave up after %d attempts, last error: %v", attempt, err)
		}
		if err == nil {
			// The region asked to run again without a failure; there is nothing to back off from.
			if ctx.Err() != nil {
				return errors.Annotate(ErrAborted, ctx.Err().Error())
			}
			continue
		}

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Annotate(ErrAborted, ctx.Err().Error())
		}
	}
}

// runOnce runs one attempt and reports whether the region asked to run again.
func runOnce[K mvcc.Hashable, V mvcc.Value[V]](ctx context.Context, store mvcc.Transactor[K, V], region Region[K, V], attempt int) (again bool, err error) {
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		span := parent.Tracer().StartSpan("txnkv.retry.attempt", opentracing.ChildOf(parent.Context()))
		span.SetTag("attempt", attempt)
		defer func() {
			if err != nil {
				ext.Error.Set(span, true)
				span.LogKV("error", err.Error())
			}
			span.Finish()
		}()
		ctx = opentracing.ContextWithSpan(ctx, span)
	}

	txn := store.Transact(ctx)
	defer func() {
		if txn.State() == mvcc.StateOpen {
			txn.Rollback()
		}
	}()

	outcome, err := region(txn)
	if err != nil {
		return false, err
	}
	switch outcome {
	case Commit:
		return false, txn.Commit()
	case Rollback:
		txn.Rollback()
		return false, nil
	case Retry:
		txn.Rollback()
		return true, nil
	}
	panic(errors.Errorf("unknown outcome %d", outcome))
}
