// Package wire defines the websocket protocol spoken between Raido and its
// clients: a JSON envelope, the payloads it carries, and the codec used to
// move it over a connection.
package wire

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// Message types.
const (
	MsgTypeJoin           = "join"
	MsgTypeJoined         = "joined"
	MsgTypeLeft           = "left"
	MsgTypePing           = "ping"
	MsgTypePong           = "pong"
	MsgTypeTrace          = "trace"
	MsgTypeTraceResult    = "trace-result"
	MsgTypeScanSubmit     = "scan-submit"
	MsgTypeScanAck        = "scan-ack"
	MsgTypeMapQuery       = "map-query"
	MsgTypeMapCells       = "map-cells"
	MsgTypeMapStats       = "map-stats"
	MsgTypeMapStatsResult = "map-stats-result"
	MsgTypeMapDelta       = "map-delta"
	MsgTypeError          = "error"
)

// HeaderClientID is the request header carrying the client-chosen id used
// to correlate connection logs.
const HeaderClientID = "X-Raido-Client-Id"

// Error types carried by error messages, in addition to the ones defined by
// the packages that produce them.
const (
	ErrTypeBadRequest       = "bad_request"
	ErrTypeSessionNotJoined = "session_not_joined"
	ErrTypeAlreadyJoined    = "session_already_joined"
	ErrTypeSessionNotFound  = "session_not_found"
	ErrTypeInternal         = "internal_error"
	ErrTypeMsgSkip          = "msg_skip"
)

// ErrModuleMsgSkip is returned by module message handlers for message types
// they do not handle.
var ErrModuleMsgSkip = errors.New("message skipped").WithType(ErrTypeMsgSkip)

// Msg is the envelope for every message exchanged over a connection. ID is
// set by the requester and echoed back in the matching response.
type Msg struct {
	Type string          `json:"type"`
	ID   uint32          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMsg returns a message of the given type carrying the given payload. A
// nil payload produces an empty-bodied message.
func NewMsg(msgType string, payload any) (Msg, error) {
	if payload == nil {
		return Msg{Type: msgType}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Msg{}, errors.New("encoding message payload failed").
			WithTag("msg_type", msgType).
			Wrap(err)
	}

	return Msg{Type: msgType, Data: data}, nil
}

// WithID returns a copy of the message stamped with the given request id.
func (m Msg) WithID(id uint32) Msg {
	m.ID = id
	return m
}

// Bind decodes the message payload into the given value. A message without a
// payload binds the zero value.
func (m Msg) Bind(out any) error {
	if len(m.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(m.Data, out); err != nil {
		return errors.New("decoding message payload failed").
			WithType(ErrTypeBadRequest).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

// ErrorMsg wraps the given error into an error message that echoes the
// request id it answers. Untyped errors are reported as internal.
func ErrorMsg(id uint32, err error) Msg {
	errType := errors.Type(err)
	if errType == "" {
		errType = ErrTypeInternal
	}

	data, _ := json.Marshal(Error{
		Type:    errType,
		Message: err.Error(),
	})

	return Msg{
		Type: MsgTypeError,
		ID:   id,
		Data: data,
	}
}

// Send writes the given message to the connection as a JSON text frame and
// returns its encoded size.
func Send(conn *websocket.Conn, msg Msg) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.New("encoding message failed").
			WithTag("msg_type", msg.Type).
			Wrap(err)
	}

	if err := websocket.Message.Send(conn, string(data)); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Receive reads the next message from the connection and returns its
// encoded size.
func Receive(conn *websocket.Conn) (Msg, int, error) {
	var data []byte
	if err := websocket.Message.Receive(conn, &data); err != nil {
		return Msg{}, 0, err
	}

	var msg Msg
	if err := json.Unmarshal(data, &msg); err != nil {
		return Msg{}, len(data), errors.New("decoding message failed").
			WithType(ErrTypeBadRequest).
			Wrap(err)
	}
	return msg, len(data), nil
}

// Sender is a function that sends a message over a connection and returns
// its encoded size.
type Sender func(Msg) (int, error)

// Receiver is a function that receives the next message from a connection
// and returns its encoded size.
type Receiver func() (Msg, int, error)

// ResponseSender sends messages back over the connection a request came
// from. Implementations queue rather than block.
type ResponseSender interface {
	// Sends a message to the connected client.
	Send(Msg)

	// Sends an error message answering the request with the given id.
	SendErr(id uint32, err error)

	// Sends a message to every other participant of the current session.
	Broadcast(Msg)
}
