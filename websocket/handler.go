package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/modules"
	"github.com/aukilabs/raido/wire"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512
)

// Handler represents a Raido handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a ping request.
	HandlePing(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error

	// Handles a request to join a session.
	HandleJoin(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handle a message with a module.
	HandleWithModule(ctx context.Context, module modules.Module, respond wire.ResponseSender, msg wire.Msg) error

	// Sends a keepalive pong to the client.
	SendKeepalive(ctx context.Context, respond wire.ResponseSender) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() wire.Receiver

	// Creates a message sender passed in service methods in order to send
	// messages.
	Sender() wire.Sender

	// Closes the service and releases its allocated resources.
	Close()

	// The interval between each keepalive message sent to the connected
	// client.
	KeepaliveInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Returns the session store.
	GetSessions() *models.SessionStore

	// Returns the modules.
	GetModules() []modules.Module

	// The currently joined session.
	CurrentSession() *models.Session

	// The current participant.
	CurrentParticipant() *models.Participant

	// Get ClientID
	GetClientID() string
}

// Handle handles the given service.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The Raido handler.
	Handler Handler

	sendChan       chan wire.Msg
	sender         wire.Sender
	receiver       wire.Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan wire.Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	msgChan := make(chan wire.Msg)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx, msgChan)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	keepaliveTicker := time.NewTicker(h.Handler.KeepaliveInterval())
	defer keepaliveTicker.Stop()

	responder := responseSender{
		send:      h.send,
		sendErr:   h.sendErr,
		broadcast: h.broadcast,
	}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.disconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").
				WithTag("duration", idleTimeout))

		case <-keepaliveTicker.C:
			if err := h.Handler.SendKeepalive(ctx, responder); err != nil {
				h.disconnect(errors.New("sending keepalive failed").Wrap(err))
			}

		case msg := <-msgChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, responder, msg); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)

			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) send(msg wire.Msg) {
	h.sendChan <- msg
}

func (h *handler) sendErr(id uint32, err error) {
	h.sendChan <- wire.ErrorMsg(id, err)
}

func (h *handler) broadcast(msg wire.Msg) {
	session := h.Handler.CurrentSession()
	if session == nil {
		return
	}
	session.Broadcast(h.Handler.CurrentParticipant(), msg)
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context, msgChan chan<- wire.Msg) {
	for {
		msg, _, err := h.receiver()
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return

		case msgChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var err error

	switch msg.Type {
	case wire.MsgTypePing:
		err = h.Handler.HandlePing(ctx, respond, msg)

	case wire.MsgTypeJoin:
		err = h.Handler.HandleJoin(ctx, respond, msg)
	}

	if err != nil {
		return err
	}

	if h.Handler.CurrentParticipant() == nil || h.Handler.CurrentSession() == nil {
		return nil
	}

	for _, m := range h.Handler.GetModules() {
		if err := h.Handler.HandleWithModule(ctx, m, respond, msg); err != nil {
			return err
		}
	}
	return nil
}

func (h *handler) disconnect(err error) {
	h.disconnectChan <- err
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send      func(wire.Msg)
	sendErr   func(id uint32, err error)
	broadcast func(wire.Msg)
}

func (s responseSender) Send(msg wire.Msg) {
	s.send(msg)
}

func (s responseSender) SendErr(id uint32, err error) {
	s.sendErr(id, err)
}

func (s responseSender) Broadcast(msg wire.Msg) {
	s.broadcast(msg)
}
