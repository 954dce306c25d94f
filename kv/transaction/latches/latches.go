package latches

import (
	"context"
	"sort"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Latching keeps concurrent transactions from corrupting the shared store. The key space is split into a fixed
// number of stripes, each guarded by one Mutex. A key maps to a stripe by hash, so distinct keys may share a latch but
// a key always uses the same one. The last stripe is reserved for the store's internal keys.
//
// Whenever a transaction needs several latches at once it must take them in increasing stripe order; WaitForLatches
// does that. Holding one stripe and then blocking on a lower one is the only way to deadlock.

// Hasher is implemented by the keys of the shared store.
type Hasher interface {
	Hash() uint64
	Internal() bool
}

// Stripe is one partition of the latch space.
type Stripe struct {
	Index int
	Mutex Mutex
}

type Latches struct {
	stripes []Stripe
	// SlowThreshold is how long WaitForLatches may take before it logs a warning.
	SlowThreshold time.Duration
	Logger        *zap.Logger
	// An optional validation function, only used for testing. It is called with the stripes WaitForLatches has just
	// acquired, in acquisition order.
	Validation func(acquired []Latched)
}

// NewLatches creates n stripes, each with a mutex made by factory. There should be one Latches per store, shared by
// all transactions on it.
func NewLatches(n int, factory func() Mutex) (*Latches, error) {
	if n <= 0 {
		return nil, errors.Errorf("latch stripes must be greater than 0, got %d", n)
	}
	if factory == nil {
		return nil, errors.New("latch mutex factory is nil")
	}
	l := &Latches{
		stripes:       make([]Stripe, n),
		SlowThreshold: 50 * time.Millisecond,
		Logger:        log.L(),
	}
	for i := range l.stripes {
		l.stripes[i] = Stripe{Index: i, Mutex: factory()}
	}
	return l, nil
}

// Len returns the number of stripes, the reserved one included.
func (l *Latches) Len() int {
	return len(l.stripes)
}

// StripeIndex returns the stripe of key. With a single stripe, user and internal keys share it.
func (l *Latches) StripeIndex(key Hasher) int {
	n := len(l.stripes)
	if n == 1 {
		return 0
	}
	if key.Internal() {
		return n - 1
	}
	return int(key.Hash() % uint64(n-1))
}

func (l *Latches) ForKey(key Hasher) Stripe {
	return l.stripes[l.StripeIndex(key)]
}

func (l *Latches) ForStripe(i int) Stripe {
	return l.stripes[i]
}

// Reserved returns the stripe of the internal keys.
func (l *Latches) Reserved() Stripe {
	return l.stripes[len(l.stripes)-1]
}

// SortStripes sorts stripes into acquisition order.
func SortStripes(stripes []Stripe) {
	sort.Slice(stripes, func(i, j int) bool {
		return stripes[i].Index < stripes[j].Index
	})
}

// Latched is a stripe together with the hold taken on it.
type Latched struct {
	Stripe Stripe
	Hold   *Hold
}

// WaitForLatches takes every stripe in requests, write-latching the stripes requested with ModeWrite and
// read-latching the others. It may block for an unbounded length of time; it gives up only when ctx is done, in which
// case everything taken so far is released and the returned error is caused by ErrInterrupted.
func (l *Latches) WaitForLatches(ctx context.Context, requests map[int]Mode) ([]Latched, error) {
	stripes := make([]Stripe, 0, len(requests))
	for i := range requests {
		stripes = append(stripes, l.stripes[i])
	}
	SortStripes(stripes)

	start := time.Now()
	acquired := make([]Latched, 0, len(stripes))
	for _, s := range stripes {
		var (
			h   *Hold
			err error
		)
		if requests[s.Index] == ModeWrite {
			h, _, err = s.Mutex.TryWriteAcquire(ctx, Forever)
		} else {
			h, _, err = s.Mutex.TryReadAcquire(ctx, Forever)
		}
		if err != nil {
			l.ReleaseLatches(acquired)
			return nil, errors.Annotatef(err, "stripe %d", s.Index)
		}
		acquired = append(acquired, Latched{Stripe: s, Hold: h})
	}
	if took := time.Since(start); took > l.SlowThreshold {
		l.Logger.Warn("slow latch acquisition",
			zap.Int("stripes", len(acquired)),
			zap.Duration("took", took))
	}
	l.Validate(acquired)
	return acquired, nil
}

// ReleaseLatches releases latches taken by WaitForLatches, or assembled by the caller from individual acquisitions.
func (l *Latches) ReleaseLatches(latched []Latched) {
	for i := len(latched) - 1; i >= 0; i-- {
		Release(latched[i].Stripe.Mutex, latched[i].Hold)
	}
}

// Validate calls the function in Validation, if it exists.
func (l *Latches) Validate(acquired []Latched) {
	if l.Validation != nil {
		l.Validation(acquired)
	}
}

// Release releases h on m in whatever mode it currently has.
func Release(m Mutex, h *Hold) {
	switch h.Mode() {
	case ModeRead:
		m.ReadRelease(h)
	case ModeWrite:
		m.WriteRelease(h)
	default:
		panic(errors.Annotate(ErrHoldMismatch, "hold already released"))
	}
}
