package domain

import "time"

type (
	SubGroupName string
	SubGroupID   string
)

// SubGroup partitions participants; members mesh audio with each other and
// share one turn queue.
type SubGroup struct {
	ID        SubGroupID   `json:"id"`
	Name      SubGroupName `json:"name"`
	CreatedAt time.Time    `json:"createdAt"`
}

// QueueStatus is one snapshot of the caller's queue position. It is
// replaced wholesale on every poll, never patched.
type QueueStatus struct {
	Position      int          `json:"position"`
	TotalInQueue  int          `json:"totalInQueue"`
	IsPosition1   bool         `json:"isPosition1"`
	IsPosition2   bool         `json:"isPosition2"`
	Position1Name string       `json:"position1Name,omitempty"`
	Position2Name string       `json:"position2Name,omitempty"`
	SubGroup      SubGroupName `json:"subGroup"`
}

type QueueAction string

const (
	ActionStart  QueueAction = "start"
	ActionSkip   QueueAction = "skip"
	ActionFinish QueueAction = "finish"
)

func (a QueueAction) Valid() bool {
	switch a {
	case ActionStart, ActionSkip, ActionFinish:
		return true
	}
	return false
}

// JoinResult is what the queue service hands back on a successful join.
type JoinResult struct {
	SessionID SessionID    `json:"sessionId"`
	Position  int          `json:"position"`
	SubGroup  SubGroupName `json:"subGroup"`
	Message   string       `json:"message"`
}
