// Package queue is the in-memory queue service and signaling mailbox used
// by the dev server.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// MaxPendingSignals bounds each recipient's mailbox; the oldest are dropped.
	MaxPendingSignals = 512
	maxListed         = 100
	JanitorInterval   = 60 * time.Second
)

var (
	ErrNotFound          = errors.New("participant not found in queue")
	ErrQueueFull         = errors.New("queue is full")
	ErrSubGroupExists    = errors.New("sub-group with this name already exists")
	ErrSubGroupNotFound  = errors.New("sub-group not found")
	ErrProtectedSubGroup = errors.New("cannot delete the default sub-group")
	ErrInvalidAction     = errors.New("invalid action, use start, skip or finish")
	ErrBadSignal         = errors.New("malformed signal")
)

type entry struct {
	p   domain.Participant
	seq uint64
}

type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	seq uint64

	participants map[domain.SessionID]*entry
	subgroups    map[domain.SubGroupName]*domain.SubGroup
	mailbox      map[domain.SessionID][]domain.Envelope
}

func NewStore() *Store {
	s := &Store{
		now:          time.Now,
		participants: make(map[domain.SessionID]*entry),
		subgroups:    make(map[domain.SubGroupName]*domain.SubGroup),
		mailbox:      make(map[domain.SessionID][]domain.Envelope),
	}
	s.ensureSubGroup(domain.DefaultSubGroup)
	return s
}

// ensureSubGroup must be called with mu held.
func (s *Store) ensureSubGroup(name domain.SubGroupName) *domain.SubGroup {
	if sg, ok := s.subgroups[name]; ok {
		return sg
	}
	sg := &domain.SubGroup{ID: domain.SubGroupID(uuid.NewString()), Name: name, CreatedAt: s.now().UTC()}
	s.subgroups[name] = sg
	return sg
}

func (s *Store) CreateSubGroup(name domain.SubGroupName) (domain.SubGroup, error) {
	name = domain.SubGroupName(strings.TrimSpace(string(name)))
	if name == "" {
		return domain.SubGroup{}, fmt.Errorf("create sub-group: %w", domain.ErrNameEmpty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subgroups[name]; ok {
		return domain.SubGroup{}, ErrSubGroupExists
	}
	sg := s.ensureSubGroup(name)
	log.Info().Str("module", "app.queue").Str("subGroup", string(name)).Str("id", string(sg.ID)).Msg("sub-group created")
	return *sg, nil
}

func (s *Store) ListSubGroups() []domain.SubGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SubGroup, 0, len(s.subgroups))
	for _, sg := range s.subgroups {
		out = append(out, *sg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteSubGroup removes a sub-group and everyone queued in it.
func (s *Store) DeleteSubGroup(name domain.SubGroupName) (int, error) {
	if strings.EqualFold(string(name), string(domain.DefaultSubGroup)) {
		return 0, ErrProtectedSubGroup
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subgroups[name]; !ok {
		return 0, ErrSubGroupNotFound
	}
	n := s.clearLocked(name)
	delete(s.subgroups, name)
	log.Info().Str("module", "app.queue").Str("subGroup", string(name)).Int("cleared", n).Msg("sub-group deleted")
	return n, nil
}

func (s *Store) Join(name string, group domain.SubGroupName) (domain.JoinResult, error) {
	if group == "" {
		group = domain.DefaultSubGroup
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subgroups[group]; !ok {
		s.ensureSubGroup(group)
		log.Info().Str("module", "app.queue").Str("subGroup", string(group)).Msg("auto-created sub-group")
	}
	if len(s.membersLocked(group)) >= domain.MaxParticipants {
		return domain.JoinResult{}, fmt.Errorf("%w: %s holds %d participants", ErrQueueFull, group, domain.MaxParticipants)
	}
	p, err := domain.NewParticipant(name, group, s.now().UTC())
	if err != nil {
		return domain.JoinResult{}, err
	}
	s.seq++
	s.participants[p.SessionID] = &entry{p: *p, seq: s.seq}

	pos := s.positionLocked(p.SessionID, group)
	log.Info().Str("module", "app.queue").Str("sid", string(p.SessionID)).Str("subGroup", string(group)).Int("position", pos).Msg("joined")
	return domain.JoinResult{
		SessionID: p.SessionID,
		Position:  pos,
		SubGroup:  group,
		Message:   fmt.Sprintf("Welcome %s! You are at position %d in %s", p.Name, pos, group),
	}, nil
}

// Status refreshes the caller's activity and reports its position.
func (s *Store) Status(sid domain.SessionID) (domain.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.participants[sid]
	if !ok {
		return domain.QueueStatus{}, ErrNotFound
	}
	e.p.LastActive = s.now().UTC()

	members := s.membersLocked(e.p.SubGroup)
	st := domain.QueueStatus{TotalInQueue: len(members), SubGroup: e.p.SubGroup}
	for i, m := range members {
		if m.p.SessionID == sid {
			st.Position = i + 1
		}
	}
	if len(members) > 0 {
		st.Position1Name = members[0].p.Name
	}
	if len(members) > 1 {
		st.Position2Name = members[1].p.Name
	}
	st.IsPosition1 = st.Position == 1
	st.IsPosition2 = st.Position == 2
	return st, nil
}

// Action applies a queue action. Skip and finish move the caller to the tail.
func (s *Store) Action(sid domain.SessionID, action domain.QueueAction) (string, error) {
	if !action.Valid() {
		return "", ErrInvalidAction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.participants[sid]
	if !ok {
		return "", ErrNotFound
	}
	now := s.now().UTC()
	e.p.LastActive = now
	if action == domain.ActionStart {
		return "You've started reading. Good luck!", nil
	}
	s.seq++
	e.p.JoinedAt = now
	e.seq = s.seq
	log.Info().Str("module", "app.queue").Str("sid", string(sid)).Str("action", string(action)).Msg("moved to tail")
	return fmt.Sprintf("Action '%s' processed. You've been moved to the end of the queue in %s.", action, e.p.SubGroup), nil
}

func (s *Store) Leave(sid domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[sid]; !ok {
		return ErrNotFound
	}
	delete(s.participants, sid)
	delete(s.mailbox, sid)
	log.Info().Str("module", "app.queue").Str("sid", string(sid)).Msg("left")
	return nil
}

// All lists every participant across sub-groups in queue order.
func (s *Store) All() []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.sortedLocked(func(*entry) bool { return true })
	if len(members) > maxListed {
		members = members[:maxListed]
	}
	out := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		out = append(out, m.p)
	}
	return out
}

func (s *Store) Clear(group domain.SubGroupName) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.clearLocked(group)
	log.Info().Str("module", "app.queue").Str("subGroup", string(group)).Int("cleared", n).Msg("sub-group cleared")
	return n
}

func (s *Store) clearLocked(group domain.SubGroupName) int {
	n := 0
	for sid, e := range s.participants {
		if e.p.SubGroup == group {
			delete(s.participants, sid)
			delete(s.mailbox, sid)
			n++
		}
	}
	return n
}

// Peers is the roster of a sub-group, or of everyone when group is empty.
func (s *Store) Peers(group domain.SubGroupName) []domain.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var members []*entry
	if group == "" {
		members = s.sortedLocked(func(*entry) bool { return true })
		if len(members) > domain.MaxParticipants {
			members = members[:domain.MaxParticipants]
		}
	} else {
		members = s.membersLocked(group)
	}
	out := make([]domain.Peer, 0, len(members))
	for _, m := range members {
		out = append(out, domain.Peer{SessionID: m.p.SessionID, Name: m.p.Name, SubGroup: m.p.SubGroup})
	}
	return out
}

// PostSignal appends env to the recipient's mailbox.
func (s *Store) PostSignal(env domain.Envelope) error {
	if !env.From.Valid() || !env.To.Valid() || !env.Kind.Valid() {
		return ErrBadSignal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	box := append(s.mailbox[env.To], env)
	if len(box) > MaxPendingSignals {
		log.Warn().Str("module", "app.queue").Str("to", string(env.To)).Msg("mailbox full, dropping oldest signal")
		box = box[len(box)-MaxPendingSignals:]
	}
	s.mailbox[env.To] = box
	return nil
}

// DrainSignals returns and removes everything queued for sid, oldest first.
func (s *Store) DrainSignals(sid domain.SessionID) []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	box := s.mailbox[sid]
	delete(s.mailbox, sid)
	if box == nil {
		return []domain.Envelope{}
	}
	return box
}

// CleanupEmpty drops every sub-group other than the default one that has
// no participants.
func (s *Store) CleanupEmpty() []domain.SubGroupName {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make(map[domain.SubGroupName]struct{})
	for _, e := range s.participants {
		active[e.p.SubGroup] = struct{}{}
	}
	var removed []domain.SubGroupName
	for name := range s.subgroups {
		if name == domain.DefaultSubGroup {
			continue
		}
		if _, ok := active[name]; ok {
			continue
		}
		delete(s.subgroups, name)
		removed = append(removed, name)
		log.Info().Str("module", "app.queue").Str("subGroup", string(name)).Msg("auto-cleaned inactive sub-group")
	}
	return removed
}

// RunJanitor calls CleanupEmpty every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = JanitorInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.CleanupEmpty()
		}
	}
}

func (s *Store) positionLocked(sid domain.SessionID, group domain.SubGroupName) int {
	for i, m := range s.membersLocked(group) {
		if m.p.SessionID == sid {
			return i + 1
		}
	}
	return 0
}

// membersLocked returns the first MaxParticipants of group in queue order.
func (s *Store) membersLocked(group domain.SubGroupName) []*entry {
	out := s.sortedLocked(func(e *entry) bool { return e.p.SubGroup == group })
	if len(out) > domain.MaxParticipants {
		out = out[:domain.MaxParticipants]
	}
	return out
}

func (s *Store) sortedLocked(keep func(*entry) bool) []*entry {
	out := make([]*entry, 0, len(s.participants))
	for _, e := range s.participants {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].p.JoinedAt.Equal(out[j].p.JoinedAt) {
			return out[i].seq < out[j].seq
		}
		return out[i].p.JoinedAt.Before(out[j].p.JoinedAt)
	})
	return out
}
