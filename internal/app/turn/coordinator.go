// Package turn gates who may transmit audio. The coordinator is a state
// machine driven by queue status snapshots and two timers; every method
// must be called on the control goroutine.
package turn

import (
	"errors"
	"time"

	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAutoSkip = 30 * time.Second
	DefaultGetReady = 60 * time.Second
)

var ErrInvalidAction = errors.New("action not allowed in current state")

// Muter owns the local track enablement.
type Muter interface {
	SetMuted(muted bool)
	Muted() bool
}

// ActionSink submits a queue action to the queue service. done is invoked
// on the control goroutine once the request finishes.
type ActionSink interface {
	Submit(action domain.QueueAction, done func(error))
}

type Config struct {
	AutoSkip time.Duration
	GetReady time.Duration
}

type Coordinator struct {
	cfg      Config
	clock    Clock
	muter    Muter
	actions  ActionSink
	notifier core.Notifier

	state      State
	hasStarted bool
	last       domain.QueueStatus

	// epoch advances whenever an action that reorders the queue is issued
	// or completes; snapshots fetched under an older epoch are stale.
	epoch    uint64
	inFlight int

	timers   [timerKinds]timerState
	tokenSeq uint64
}

func NewCoordinator(cfg Config, clock Clock, muter Muter, actions ActionSink, notifier core.Notifier) *Coordinator {
	if cfg.AutoSkip <= 0 {
		cfg.AutoSkip = DefaultAutoSkip
	}
	if cfg.GetReady <= 0 {
		cfg.GetReady = DefaultGetReady
	}
	c := &Coordinator{
		cfg:      cfg,
		clock:    clock,
		muter:    muter,
		actions:  actions,
		notifier: notifier,
		state:    NotInQueue,
	}
	for k := range c.timers {
		c.timers[k].kind = TimerKind(k)
	}
	return c
}

func (c *Coordinator) State() State             { return c.state }
func (c *Coordinator) HasStarted() bool         { return c.hasStarted }
func (c *Coordinator) Epoch() uint64            { return c.epoch }
func (c *Coordinator) Last() domain.QueueStatus { return c.last }

// ActiveTimer returns the deadline of an armed timer.
func (c *Coordinator) ActiveTimer(kind TimerKind) (time.Time, bool) {
	t := c.timers[kind]
	return t.deadline, t.active
}

func (c *Coordinator) View() View {
	v := View{State: c.state, HasStarted: c.hasStarted, Deadlines: make(map[TimerKind]time.Time)}
	for _, t := range c.timers {
		if t.active {
			v.Deadlines[t.kind] = t.deadline
		}
	}
	return v
}

// Apply re-evaluates the machine against a snapshot fetched while Epoch()
// returned epoch.
func (c *Coordinator) Apply(status domain.QueueStatus, epoch uint64) {
	if epoch != c.epoch || c.inFlight > 0 {
		log.Debug().Str("module", "turn").Uint64("epoch", epoch).Uint64("current", c.epoch).Msg("stale snapshot dropped")
		return
	}
	c.last = status

	next := c.derive(status)
	if next == c.state {
		return
	}
	c.transition(next)
}

func (c *Coordinator) derive(s domain.QueueStatus) State {
	switch {
	case s.IsPosition1 && c.hasStarted:
		return Position1Reading
	case s.IsPosition1:
		return Position1Idle
	case s.IsPosition2:
		return Position2
	case s.Position > 0:
		return Queued
	}
	return NotInQueue
}

// Start begins the local participant's turn and unmutes.
func (c *Coordinator) Start() error {
	if c.state != Position1Idle {
		return ErrInvalidAction
	}
	c.hasStarted = true
	c.transition(Position1Reading)
	c.actions.Submit(domain.ActionStart, func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "turn").Msg("start action failed")
		}
	})
	return nil
}

// Finish ends a turn that was started.
func (c *Coordinator) Finish() error {
	if c.state != Position1Reading {
		return ErrInvalidAction
	}
	c.yield(domain.ActionFinish, "")
	return nil
}

// Skip gives up position 1, started or not.
func (c *Coordinator) Skip() error {
	if c.state != Position1Idle && c.state != Position1Reading {
		return ErrInvalidAction
	}
	c.yield(domain.ActionSkip, ReasonManual)
	return nil
}

// Reset returns the machine to NotInQueue, used when the session is invalidated.
func (c *Coordinator) Reset() {
	c.epoch++
	c.inFlight = 0
	c.last = domain.QueueStatus{}
	c.transition(NotInQueue)
}

// yield sends this participant to the tail of the queue.
func (c *Coordinator) yield(action domain.QueueAction, reason string) {
	c.epoch++
	c.inFlight++
	c.transition(Queued)

	log.Info().Str("module", "turn").Str("action", string(action)).Str("reason", reason).Msg("yielding turn")
	epoch := c.epoch
	c.actions.Submit(action, func(err error) {
		if epoch != c.epoch {
			// Reset happened meanwhile.
			return
		}
		c.inFlight--
		c.epoch++
		if err != nil {
			log.Warn().Err(err).Str("module", "turn").Str("action", string(action)).Msg("queue action failed")
		}
	})
}

// transition is the only place timers are armed or disarmed and the only
// place mute is toggled.
func (c *Coordinator) transition(next State) {
	prev := c.state

	switch next {
	case Position1Idle:
		c.disarm(Position2GetReady)
		c.arm(Position1AutoSkip, c.cfg.AutoSkip, Position1Idle)
	case Position1Reading:
		c.disarmAll()
	case Position2:
		c.disarm(Position1AutoSkip)
		c.arm(Position2GetReady, c.cfg.GetReady, Position2)
	default:
		c.disarmAll()
	}
	if next != Position1Reading {
		c.hasStarted = false
	}
	c.state = next

	wantMuted := next != Position1Reading
	if c.muter.Muted() != wantMuted {
		c.muter.SetMuted(wantMuted)
	}

	log.Info().Str("module", "turn").Str("from", prev.String()).Str("to", next.String()).Msg("state changed")

	switch {
	case next == Position1Idle && prev == Position2:
		c.notify(core.NotifyTurn, "", "It's your turn")
	case next == Position2:
		c.notify(core.NotifyNextUp, "", "You're next, get ready")
	}
}

func (c *Coordinator) arm(kind TimerKind, d time.Duration, forState State) {
	t := &c.timers[kind]
	if t.active {
		return
	}
	c.tokenSeq++
	token := c.tokenSeq
	t.active = true
	t.token = token
	t.armedFor = forState
	t.deadline = c.clock.Now().Add(d)
	t.timer = c.clock.AfterFunc(d, func() { c.expire(kind, token) })
	log.Debug().Str("module", "turn").Str("timer", kind.String()).Dur("after", d).Msg("timer armed")
}

func (c *Coordinator) disarm(kind TimerKind) {
	t := &c.timers[kind]
	if !t.active {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	*t = timerState{kind: kind}
}

func (c *Coordinator) disarmAll() {
	for k := range c.timers {
		c.disarm(TimerKind(k))
	}
}

func (c *Coordinator) expire(kind TimerKind, token uint64) {
	t := &c.timers[kind]
	if !t.active || t.token != token || c.state != t.armedFor {
		return
	}
	*t = timerState{kind: kind}

	reason := ReasonIdle
	if kind == Position2GetReady {
		reason = ReasonNotReady
	}
	log.Info().Str("module", "turn").Str("timer", kind.String()).Msg("timer expired, forfeiting")
	c.yield(domain.ActionSkip, reason)
	c.notify(core.NotifyForfeited, reason, "Turn forfeited")
}

func (c *Coordinator) notify(kind core.NotificationKind, reason, msg string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(core.Notification{Kind: kind, Reason: reason, Message: msg})
}
