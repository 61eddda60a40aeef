package websocket

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeMsgDecode   = "ws_msg_decode"
	ErrTypeMsgEncode   = "ws_msg_encode"
	ErrTypeUnknownMsg  = "ws_unknown_msg"
	ErrTypeIdleTimeout = "ws_idle_timeout"
)

type MsgType string

const (
	MsgTypePing       MsgType = "ping"
	MsgTypePong       MsgType = "pong"
	MsgTypeSubscribe  MsgType = "subscribe"
	MsgTypeSubscribed MsgType = "subscribed"
	MsgTypeFrameStats MsgType = "frame_stats"
	MsgTypeError      MsgType = "error"
)

// Msg is a message exchanged with a debug client.
type Msg struct {
	Type      MsgType         `json:"type"`
	RequestID uint32          `json:"request_id,omitempty"`
	Frame     uint64          `json:"frame,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMsg returns a message of the given type holding the JSON encoding of
// data.
func NewMsg(t MsgType, data any) (Msg, error) {
	msg := Msg{
		Type:      t,
		Timestamp: time.Now().UTC(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Msg{}, errors.New("encoding message data failed").
				WithType(ErrTypeMsgEncode).
				WithTag("msg_type", t).
				Wrap(err)
		}
		msg.Data = raw
	}
	return msg, nil
}

func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return string(m.Type)
}

// DataTo decodes the message data into v.
func (m Msg) DataTo(v any) error {
	if len(m.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithType(ErrTypeMsgDecode).
			WithTag("msg_type", m.TypeString()).
			Wrap(err)
	}
	return nil
}

// Receiver receives a message. It returns the number of bytes read.
type Receiver func() (Msg, int, error)

// Sender sends a message. It returns the number of bytes written.
type Sender func(Msg) (int, error)

// ResponseSender queues messages to send to the client.
type ResponseSender interface {
	Send(Msg)
}

// Receive reads a JSON message from the connection.
func Receive(conn *websocket.Conn) (Msg, int, error) {
	var data []byte
	if err := websocket.Message.Receive(conn, &data); err != nil {
		return Msg{}, 0, err
	}

	var msg Msg
	if err := json.Unmarshal(data, &msg); err != nil {
		return Msg{}, len(data), errors.New("decoding message failed").
			WithType(ErrTypeMsgDecode).
			Wrap(err)
	}
	return msg, len(data), nil
}

// Send writes msg as a JSON text frame.
func Send(conn *websocket.Conn, msg Msg) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.New("encoding message failed").
			WithType(ErrTypeMsgEncode).
			WithTag("msg_type", msg.TypeString()).
			Wrap(err)
	}

	if err := websocket.Message.Send(conn, string(data)); err != nil {
		return 0, err
	}
	return len(data), nil
}
