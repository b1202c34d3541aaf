package turn

import "time"

type State int

const (
	NotInQueue State = iota
	Queued
	Position2
	Position1Idle
	Position1Reading
)

func (s State) String() string {
	switch s {
	case NotInQueue:
		return "not-in-queue"
	case Queued:
		return "queued"
	case Position2:
		return "position-2"
	case Position1Idle:
		return "position-1-idle"
	case Position1Reading:
		return "position-1-reading"
	}
	return "unknown"
}

type TimerKind int

const (
	Position2GetReady TimerKind = iota
	Position1AutoSkip
	timerKinds
)

func (k TimerKind) String() string {
	if k == Position2GetReady {
		return "position-2-get-ready"
	}
	return "position-1-auto-skip"
}

// Forfeit and skip reasons passed to the notifier.
const (
	ReasonManual   = "manual"
	ReasonIdle     = "idle"
	ReasonNotReady = "not-ready"
)

// timerState tracks one armed timer. token ties an expiry callback to the
// arming that scheduled it; armedFor is the state it belongs to.
type timerState struct {
	kind     TimerKind
	deadline time.Time
	token    uint64
	armedFor State
	active   bool
	timer    Timer
}

// View is a read-only copy of the coordinator for display.
type View struct {
	State      State
	HasStarted bool
	Deadlines  map[TimerKind]time.Time
}
