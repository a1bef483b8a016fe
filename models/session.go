package models

import (
	"sync"
	"time"

	"github.com/aukilabs/raido/occupancy"
	"github.com/aukilabs/raido/wire"
)

// Session represents a shared mapping session: a voxel occupancy map and the
// participants building and querying it together.
type Session struct {
	ID        string
	CreatedAt time.Time

	// The session occupancy map.
	Map *occupancy.Map

	participantIDs   SequentialIDGenerator
	participantMutex sync.RWMutex
	participants     map[uint32]*Participant

	moduleMutex  sync.RWMutex
	moduleStates map[string]any

	activityMutex sync.RWMutex
	lastActivity  time.Time

	closeOnce sync.Once
}

// NewSession creates a session around the given occupancy map.
func NewSession(id string, grid *occupancy.Map) *Session {
	now := time.Now()

	return &Session{
		ID:           id,
		CreatedAt:    now,
		Map:          grid,
		participants: make(map[uint32]*Participant),
		lastActivity: now,
	}
}

// NewParticipantID returns a participant id unused in this session.
func (s *Session) NewParticipantID() uint32 {
	return s.participantIDs.New()
}

func (s *Session) AddParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	s.participants[p.ID] = p
	instrumentIncreaseParticipantGauge()
	s.Touch()
}

// RemoveParticipant removes the given participant and releases its id for
// later joiners.
func (s *Session) RemoveParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	if _, ok := s.participants[p.ID]; !ok {
		return
	}

	delete(s.participants, p.ID)
	s.participantIDs.Reuse(p.ID)
	instrumentDecreaseParticipantGauge()
	s.Touch()
}

func (s *Session) ParticipantByID(id uint32) (*Participant, bool) {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	p, ok := s.participants[id]
	return p, ok
}

func (s *Session) GetParticipants() []*Participant {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	participants := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		participants = append(participants, p)
	}
	return participants
}

// ParticipantIDs returns the ids of the current participants.
func (s *Session) ParticipantIDs() []uint32 {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	ids := make([]uint32, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) ParticipantCount() int {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	return len(s.participants)
}

// Broadcast sends the given message to every participant but the sender.
func (s *Session) Broadcast(sender *Participant, msg wire.Msg) {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	for _, p := range s.participants {
		if sender != nil && p.ID == sender.ID {
			continue
		}
		p.Responder.Send(msg)
	}
}

// SetModuleState stores a module-scoped state under the given module name.
func (s *Session) SetModuleState(module string, v any) {
	s.moduleMutex.Lock()
	defer s.moduleMutex.Unlock()

	if s.moduleStates == nil {
		s.moduleStates = make(map[string]any)
	}
	s.moduleStates[module] = v
}

// ModuleState returns the state stored under the given module name.
func (s *Session) ModuleState(module string) (any, bool) {
	s.moduleMutex.RLock()
	defer s.moduleMutex.RUnlock()

	v, ok := s.moduleStates[module]
	return v, ok
}

// Touch marks the session as active now. Reaping counts idle time from the
// last touch.
func (s *Session) Touch() {
	s.activityMutex.Lock()
	defer s.activityMutex.Unlock()

	s.lastActivity = time.Now()
}

func (s *Session) LastActivity() time.Time {
	s.activityMutex.RLock()
	defer s.activityMutex.RUnlock()

	return s.lastActivity
}

// Close releases the session resources. It is safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.Map != nil {
			s.Map.Forget()
		}
	})
}

// SessionStore stores the sessions served by this server.
type SessionStore struct {
	initOnce sync.Once
	mutex    sync.RWMutex
	sessions map[string]*Session
}

func (s *SessionStore) init() {
	s.initOnce.Do(func() {
		s.sessions = make(map[string]*Session)
	})
}

func (s *SessionStore) Add(session *Session) {
	s.init()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[session.ID] = session
	instrumentIncreaseSessionGauge()
	instrumentCountSession()
}

// Remove removes the given session from the store and closes it.
func (s *SessionStore) Remove(session *Session) {
	s.init()

	s.mutex.Lock()
	if _, ok := s.sessions[session.ID]; ok {
		delete(s.sessions, session.ID)
		instrumentDecreaseSessionGauge()
	}
	s.mutex.Unlock()

	session.Close()
}

func (s *SessionStore) Get(id string) (*Session, bool) {
	s.init()

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

func (s *SessionStore) Len() int {
	s.init()

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.sessions)
}

// Range calls f for each stored session until f returns false.
func (s *SessionStore) Range(f func(*Session) bool) {
	s.init()

	s.mutex.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mutex.RUnlock()

	for _, session := range sessions {
		if !f(session) {
			return
		}
	}
}

// Reap removes the sessions that have had no participant for at least the
// given linger duration. It returns the removed session ids.
func (s *SessionStore) Reap(linger time.Duration) []string {
	var reaped []*Session

	s.Range(func(session *Session) bool {
		if session.ParticipantCount() == 0 && time.Since(session.LastActivity()) >= linger {
			reaped = append(reaped, session)
		}
		return true
	})

	ids := make([]string, len(reaped))
	for i, session := range reaped {
		s.Remove(session)
		ids[i] = session.ID
	}
	return ids
}
