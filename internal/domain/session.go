package domain

import "encoding/json"

// LocalSession is the client's membership in one sub-group.
// No transport or lifecycle logic here.
type LocalSession struct {
	SessionID SessionID
	SubGroup  SubGroupName
	Name      string
}

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// Envelope is one signaling message routed through the mailbox. Data holds
// a session description for offers/answers and a candidate init for ICE.
type Envelope struct {
	From SessionID       `json:"from"`
	To   SessionID       `json:"to,omitempty"`
	Kind SignalKind      `json:"type"`
	Data json.RawMessage `json:"data"`
}

type NegotiationRole int

const (
	RoleInitiator NegotiationRole = iota
	RoleResponder
)

func (r NegotiationRole) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// AudioConstraints mirrors the capture processing options requested from the host.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}
