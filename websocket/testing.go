package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/raido/mapper"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/modules"
	"github.com/aukilabs/raido/wire"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// Creates a testing environement to unit test handlers and modules.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	clientA, clientB, close := newTestingEnv(t, newHandler)
	return clientA, clientB, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	server := httptest.NewServer(NewServer(context.Background(), newHandler))

	newConn := func() *websocket.Conn {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://"),
			"http://localhost",
		)
		if err != nil {
			t.Fatalf("error initializing web socket: %s", err)
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set("X-Forwarded-for", "192.0.0.0")
		config.Header.Set(wire.HeaderClientID, uuid.NewString())

		conn, err := websocket.DialConfig(config)
		if err != nil {
			t.Fatalf("error dialing web socket: %s", err)
		}

		return conn
	}

	clientA := newConn()
	clientB := newConn()

	return clientA, clientB, func() {
		clientA.Close()
		clientB.Close()
		server.Close()
	}
}

func newTestPipeline(t *testing.T) *mapper.Mapper {
	t.Helper()

	pipeline, err := mapper.New(mapper.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("error creating pipeline: %s", err)
	}
	return pipeline
}

func newTestHandler(pipeline *mapper.Mapper, newModule ...func() modules.Module) func() Handler {
	sessionStore := &models.SessionStore{}

	return func() Handler {
		mods := make([]modules.Module, len(newModule))
		for i, nm := range newModule {
			mods[i] = nm()
		}

		var h Handler = &RealtimeHandler{
			ClientKeepaliveInterval: time.Millisecond * 250,
			ClientIdleTimeout:       time.Minute,
			Sessions:                sessionStore,
			Mapper:                  pipeline,
			Modules:                 mods,
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://raido-test.com")
		return h
	}
}

// sendMsg sends a message with the given request id on the test connection.
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, id uint32, payload any) {
	t.Helper()

	msg, err := wire.NewMsg(msgType, payload)
	if err != nil {
		t.Fatalf("error creating %s message: %s", msgType, err)
	}

	if _, err := wire.Send(conn, msg.WithID(id)); err != nil {
		t.Fatalf("error sending %s message: %s", msgType, err)
	}
}

// recvMsg receives messages until one with the given type arrives. Other
// messages, like keepalive pongs, are skipped.
func recvMsg(t *testing.T, conn *websocket.Conn, msgType string) wire.Msg {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(time.Second * 5)); err != nil {
		t.Fatalf("error setting read deadline: %s", err)
	}

	for {
		msg, _, err := wire.Receive(conn)
		if err != nil {
			t.Fatalf("error receiving %s message: %s", msgType, err)
		}

		if msg.Type == msgType {
			return msg
		}
	}
}

// recvReply receives messages until the reply to the given request id
// arrives. Broadcasts and keepalive pongs are skipped.
func recvReply(t *testing.T, conn *websocket.Conn, msgType string, id uint32) wire.Msg {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(time.Second * 5)); err != nil {
		t.Fatalf("error setting read deadline: %s", err)
	}

	for {
		msg, _, err := wire.Receive(conn)
		if err != nil {
			t.Fatalf("error receiving %s message: %s", msgType, err)
		}

		if msg.Type == msgType && msg.ID == id {
			return msg
		}
	}
}

// joinSession joins the given session, or a fresh one when the id is empty,
// and returns the join response.
func joinSession(t *testing.T, conn *websocket.Conn, sessionID string) wire.JoinResponse {
	t.Helper()

	sendMsg(t, conn, wire.MsgTypeJoin, 1, wire.JoinRequest{SessionID: sessionID})

	var res wire.JoinResponse
	if err := recvReply(t, conn, wire.MsgTypeJoined, 1).Bind(&res); err != nil {
		t.Fatalf("error binding join response: %s", err)
	}
	return res
}
