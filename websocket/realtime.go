package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/raido/mapper"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/modules"
	"github.com/aukilabs/raido/wire"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// RealtimeHandler represents a service that manages a client connection and
// relays its mapping activity in realtime.
type RealtimeHandler struct {
	// The interval between each keepalive pong sent to the connected client.
	ClientKeepaliveInterval time.Duration

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The store that contains all the server sessions.
	Sessions *models.SessionStore

	// The pipeline that registers scans into session maps.
	Mapper *mapper.Mapper

	// The modules that expand Raido features.
	Modules []modules.Module

	conn               *websocket.Conn
	currentSession     *models.Session
	currentParticipant *models.Participant

	clientID string
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	h.clientID = conn.Request().Header.Get(wire.HeaderClientID)
	h.conn = conn
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	res, err := wire.NewMsg(wire.MsgTypePong, wire.Pong{ServerTime: time.Now()})
	if err != nil {
		return err
	}

	respond.Send(res.WithID(msg.ID))
	return nil
}

func (h *RealtimeHandler) HandleJoin(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.JoinRequest
	if err := msg.Bind(&req); err != nil {
		return err
	}

	if h.currentSession != nil && h.currentSession.ID == req.SessionID {
		respond.SendErr(msg.ID, errors.New("session already joined").
			WithType(wire.ErrTypeAlreadyJoined).
			WithTag("session_id", req.SessionID))
		return nil
	}

	if h.currentParticipant != nil {
		h.leaveSession()
	}

	session, ok := h.Sessions.Get(req.SessionID)
	if !ok && req.SessionID != "" {
		respond.SendErr(msg.ID, errors.New("session not found").
			WithType(wire.ErrTypeSessionNotFound).
			WithTag("session_id", req.SessionID))
		return nil
	}

	if !ok {
		session = models.NewSession(uuid.NewString(), h.Mapper.NewMap())
		h.Sessions.Add(session)
	}

	participant := &models.Participant{
		ID:        session.NewParticipantID(),
		Responder: respond,
		JoinedAt:  time.Now(),
	}

	session.AddParticipant(participant)

	res, err := wire.NewMsg(wire.MsgTypeJoined, wire.JoinResponse{
		SessionID:      session.ID,
		ParticipantID:  participant.ID,
		ParticipantIDs: session.ParticipantIDs(),
		VoxelSize:      session.Map.VoxelSize(),
		Algorithm:      h.Mapper.Algorithm().String(),
	})
	if err != nil {
		return err
	}
	respond.Send(res.WithID(msg.ID))

	h.currentSession = session
	h.currentParticipant = participant

	broadcast, err := wire.NewMsg(wire.MsgTypeJoined, wire.JoinResponse{
		SessionID:     session.ID,
		ParticipantID: participant.ID,
		VoxelSize:     session.Map.VoxelSize(),
		Algorithm:     h.Mapper.Algorithm().String(),
	})
	if err != nil {
		return err
	}
	session.Broadcast(participant, broadcast)

	for _, m := range h.Modules {
		m.Init(session, participant)
	}

	return nil
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	if h.currentParticipant != nil {
		h.leaveSession()
	}
}

func (h *RealtimeHandler) HandleWithModule(ctx context.Context, m modules.Module, respond wire.ResponseSender, msg wire.Msg) error {
	if h.CurrentParticipant() == nil || h.CurrentSession() == nil {
		return nil
	}

	err := m.HandleMsg(ctx, respond, msg)
	if errors.IsType(err, wire.ErrTypeMsgSkip) {
		return nil
	}
	if err != nil {
		return errors.New("handling message with module failed").
			WithTag("module", m.Name()).
			Wrap(err)
	}
	return nil
}

func (h *RealtimeHandler) SendKeepalive(ctx context.Context, respond wire.ResponseSender) error {
	res, err := wire.NewMsg(wire.MsgTypePong, wire.Pong{ServerTime: time.Now()})
	if err != nil {
		return err
	}

	respond.Send(res)
	return nil
}

func (h *RealtimeHandler) Receiver() wire.Receiver {
	return func() (wire.Msg, int, error) {
		return wire.Receive(h.conn)
	}
}

func (h *RealtimeHandler) Sender() wire.Sender {
	return func(msg wire.Msg) (int, error) {
		return wire.Send(h.conn, msg)
	}
}

func (h *RealtimeHandler) Close() {
}

func (h *RealtimeHandler) KeepaliveInterval() time.Duration {
	return h.ClientKeepaliveInterval
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) GetSessions() *models.SessionStore {
	return h.Sessions
}

func (h *RealtimeHandler) GetModules() []modules.Module {
	return h.Modules
}

func (h *RealtimeHandler) CurrentSession() *models.Session {
	return h.currentSession
}

func (h *RealtimeHandler) CurrentParticipant() *models.Participant {
	return h.currentParticipant
}

func (h *RealtimeHandler) leaveSession() {
	session := h.currentSession
	participant := h.currentParticipant

	if participant == nil || session == nil {
		return
	}

	for _, m := range h.Modules {
		m.HandleDisconnect()
	}

	session.RemoveParticipant(participant)

	left, _ := wire.NewMsg(wire.MsgTypeLeft, wire.Left{ParticipantID: participant.ID})
	session.Broadcast(participant, left)

	// Empty sessions are kept so their maps survive reconnects. The store
	// reaper removes them once they have lingered long enough.

	h.currentParticipant = nil
	h.currentSession = nil
}

func (h *RealtimeHandler) GetClientID() string {
	return h.clientID
}
