package security

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const SaltSize = 16

var (
	ErrBusy = errors.New("key derivation capacity exhausted")

	// TestMode swaps in cheap argon2 parameters. Blobs sealed in test mode
	// do not open with production parameters.
	TestMode bool
)

// KDFParams are argon2id cost parameters.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
}

var (
	DefaultKDFParams = KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 1, KeyLen: 32}
	testKDFParams    = KDFParams{Time: 1, MemoryKiB: 64, Threads: 1, KeyLen: 32}
)

func CurrentKDFParams() KDFParams {
	if TestMode {
		return testKDFParams
	}
	return DefaultKDFParams
}

func (p KDFParams) KeyFromPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)
}

// KDFPool bounds the number of argon2 derivations running at once. Waiting
// callers give up after the queue timeout with ErrBusy.
type KDFPool struct {
	sem      *semaphore.Weighted
	size     int64
	timeout  time.Duration
	inFlight int64
}

// NewKDFPool creates a pool allowing size concurrent derivations. A size
// of zero or less uses the number of CPUs. A timeout of zero rejects
// immediately when the pool is full.
func NewKDFPool(size int64, timeout time.Duration) *KDFPool {
	if size <= 0 {
		size = int64(runtime.NumCPU())
	}
	return &KDFPool{
		sem:     semaphore.NewWeighted(size),
		size:    size,
		timeout: timeout,
	}
}

func (p *KDFPool) Size() int64 { return p.size }

func (p *KDFPool) InFlight() int64 { return atomic.LoadInt64(&p.inFlight) }

// Do runs f while holding one slot of the pool. A nil pool runs f
// unbounded.
func (p *KDFPool) Do(ctx context.Context, f func()) error {
	if p == nil {
		f()
		return nil
	}

	if p.timeout <= 0 {
		if !p.sem.TryAcquire(1) {
			return ErrBusy
		}
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.sem.Acquire(waitCtx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrBusy
		}
	}
	defer p.sem.Release(1)

	atomic.AddInt64(&p.inFlight, 1)
	defer atomic.AddInt64(&p.inFlight, -1)

	f()
	return nil
}
