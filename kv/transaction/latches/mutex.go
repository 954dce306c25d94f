package latches

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pingcap/errors"
)

// Forever is a timeout which never expires.
const Forever = time.Duration(math.MaxInt64)

// ErrInterrupted is the cause of the error returned when the context of a waiting acquisition is done.
var ErrInterrupted = errors.New("latch wait interrupted")

// ErrHoldMismatch is the panic value for releasing, upgrading or downgrading with a hold which does not match the
// mutex or its mode.
var ErrHoldMismatch = errors.New("latch hold mismatch")

// Mode is the way a hold owns a mutex.
type Mode int

const (
	ModeNone Mode = iota
	ModeRead
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	}
	return "none"
}

// Hold is the token returned by a successful acquisition. It must be handed back to release, upgrade or downgrade the
// mutex, and it tracks the current mode of its owner.
type Hold struct {
	owner Mutex
	mode  Mode
}

func (h *Hold) Mode() Mode {
	return h.mode
}

// Mutex is a reader/writer lock whose single reader can become the writer without unlocking in between.
//
// A zero timeout means the call does not block; Forever means it waits until it succeeds or ctx is done. Running out
// of time is reported as ok == false with a nil error, ctx being done as an error caused by ErrInterrupted.
type Mutex interface {
	TryReadAcquire(ctx context.Context, timeout time.Duration) (*Hold, bool, error)
	ReadRelease(h *Hold)
	TryWriteAcquire(ctx context.Context, timeout time.Duration) (*Hold, bool, error)
	WriteRelease(h *Hold)
	// TryUpgrade turns h, which must be the only read hold, into a write hold.
	TryUpgrade(ctx context.Context, h *Hold, timeout time.Duration) (bool, error)
	// Downgrade turns the write hold h into the only read hold.
	Downgrade(h *Hold)
}

// UpgradeableMutex is the default Mutex.
type UpgradeableMutex struct {
	mu      sync.Mutex
	readers int
	writer  bool
	// wake is closed and replaced whenever the lock state changes in a way a waiter may care about.
	wake chan struct{}
}

func NewUpgradeableMutex() *UpgradeableMutex {
	return &UpgradeableMutex{wake: make(chan struct{})}
}

func (m *UpgradeableMutex) TryReadAcquire(ctx context.Context, timeout time.Duration) (*Hold, bool, error) {
	ok, err := m.acquire(ctx, timeout, func() bool {
		if m.writer {
			return false
		}
		m.readers++
		return true
	})
	if !ok {
		return nil, false, err
	}
	return &Hold{owner: m, mode: ModeRead}, true, nil
}

func (m *UpgradeableMutex) ReadRelease(h *Hold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.check(h, ModeRead)
	m.readers--
	h.mode = ModeNone
	m.broadcast()
}

func (m *UpgradeableMutex) TryWriteAcquire(ctx context.Context, timeout time.Duration) (*Hold, bool, error) {
	ok, err := m.acquire(ctx, timeout, func() bool {
		if m.writer || m.readers > 0 {
			return false
		}
		m.writer = true
		return true
	})
	if !ok {
		return nil, false, err
	}
	return &Hold{owner: m, mode: ModeWrite}, true, nil
}

func (m *UpgradeableMutex) WriteRelease(h *Hold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.check(h, ModeWrite)
	m.writer = false
	h.mode = ModeNone
	m.broadcast()
}

func (m *UpgradeableMutex) TryUpgrade(ctx context.Context, h *Hold, timeout time.Duration) (bool, error) {
	func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.check(h, ModeRead)
	}()
	// h keeps its read share while waiting, so readers == 1 means h is the only reader.
	return m.acquire(ctx, timeout, func() bool {
		if m.writer || m.readers != 1 {
			return false
		}
		m.readers = 0
		m.writer = true
		h.mode = ModeWrite
		return true
	})
}

func (m *UpgradeableMutex) Downgrade(h *Hold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.check(h, ModeWrite)
	m.writer = false
	m.readers = 1
	h.mode = ModeRead
	m.broadcast()
}

// acquire runs try under m.mu until it succeeds, the timeout expires or ctx is done. The deadline is fixed on the first
// failed try.
func (m *UpgradeableMutex) acquire(ctx context.Context, timeout time.Duration, try func() bool) (bool, error) {
	var (
		started bool
		expired <-chan time.Time
	)
	for {
		m.mu.Lock()
		if try() {
			m.mu.Unlock()
			return true, nil
		}
		wake := m.wake
		m.mu.Unlock()

		if timeout <= 0 {
			return false, nil
		}
		if !started {
			started = true
			if timeout != Forever {
				timer := time.NewTimer(timeout)
				defer timer.Stop()
				expired = timer.C
			}
		}
		select {
		case <-wake:
		case <-expired:
			return false, nil
		case <-ctx.Done():
			return false, errors.Annotate(ErrInterrupted, ctx.Err().Error())
		}
	}
}

func (m *UpgradeableMutex) check(h *Hold, mode Mode) {
	if h == nil {
		panic(errors.Annotatef(ErrHoldMismatch, "nil hold, want %s", mode))
	}
	if h.owner != Mutex(m) {
		panic(errors.Annotate(ErrHoldMismatch, "hold belongs to another mutex"))
	}
	if h.mode != mode {
		panic(errors.Annotatef(ErrHoldMismatch, "hold is %s, want %s", h.mode, mode))
	}
}

func (m *UpgradeableMutex) broadcast() {
	close(m.wake)
	m.wake = make(chan struct{})
}
