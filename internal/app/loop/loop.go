// Package loop provides the single control goroutine every piece of client
// state is mutated on. Network I/O and pion callbacks run elsewhere and hop
// onto the loop with Post.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("loop stopped")

type Loop struct {
	mu    sync.Mutex
	queue []func()

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start runs the loop until Stop is called or ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case <-l.wake:
		}

		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			select {
			case <-l.done:
				return
			default:
			}
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "loop").Interface("panic", r).Msg("task panicked")
		}
	}()
	fn()
}

// Post enqueues fn. It never blocks; tasks posted after Stop are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do posts fn and waits for it to run. Must not be called from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop is idempotent.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *Loop) Done() <-chan struct{} { return l.done }

// Inline runs every task immediately on the caller's goroutine.
type Inline struct{}

func (Inline) Post(fn func()) { fn() }
