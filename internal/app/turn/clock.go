package turn

import (
	"time"

	"github.com/dkeye/VoiceQueue/internal/core"
)

type Timer interface {
	Stop() bool
}

// Clock schedules timer callbacks. Callbacks must be delivered on the
// control goroutine.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// LoopClock fires wall-clock timers through an executor.
type LoopClock struct {
	Exec core.Executor
}

func (c LoopClock) Now() time.Time { return time.Now() }

func (c LoopClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { c.Exec.Post(fn) })
}
