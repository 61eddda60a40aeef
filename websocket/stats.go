package websocket

import (
	"context"
	"sort"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/models"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// HeaderClientID is the header a client can identify itself with.
const HeaderClientID = "X-Ingwaz-Client-ID"

// StatsSource returns the stats of a scene component.
type StatsSource func() any

// SubscribeRequest selects the stats sources streamed to a client, and how
// often. Every is a number of frames and defaults to 1.
type SubscribeRequest struct {
	Sources []string `json:"sources"`
	Every   uint64   `json:"every"`
}

type SubscribeResponse struct {
	Sources []string `json:"sources"`
	Every   uint64   `json:"every"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// FrameStats is the payload of a frame stats message: stats by source name.
type FrameStats map[string]any

// StatsHandler streams the stats of the scene components to a connected
// client on every frame.
type StatsHandler struct {
	Scene *models.Scene

	// The stats sources by name. All of them are streamed until the client
	// subscribes to a subset.
	Sources map[string]StatsSource

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	conn       *websocket.Conn
	clientID   string
	subscribed []string
	every      uint64
}

func (h *StatsHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	if req := conn.Request(); req != nil {
		h.clientID = req.Header.Get(HeaderClientID)
	}
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}

	h.subscribed = h.sourceNames()
	h.every = 1
}

func (h *StatsHandler) HandleDisconnect(_ error) {
}

func (h *StatsHandler) HandleMsg(ctx context.Context, respond ResponseSender, msg Msg) error {
	switch msg.Type {
	case MsgTypePing:
		return h.reply(respond, msg, MsgTypePong, nil)

	case MsgTypeSubscribe:
		return h.handleSubscribe(respond, msg)

	default:
		return h.replyError(respond, msg, errors.New("unknown message type").
			WithType(ErrTypeUnknownMsg).
			WithTag("msg_type", msg.TypeString()))
	}
}

func (h *StatsHandler) handleSubscribe(respond ResponseSender, msg Msg) error {
	var req SubscribeRequest
	if err := msg.DataTo(&req); err != nil {
		return h.replyError(respond, msg, err)
	}

	sources := req.Sources
	if len(sources) == 0 {
		sources = h.sourceNames()
	}

	for _, name := range sources {
		if _, ok := h.Sources[name]; !ok {
			return h.replyError(respond, msg, errors.New("unknown stats source").
				WithType(ErrTypeUnknownMsg).
				WithTag("source", name))
		}
	}

	h.subscribed = append([]string(nil), sources...)
	sort.Strings(h.subscribed)

	h.every = req.Every
	if h.every == 0 {
		h.every = 1
	}

	return h.reply(respond, msg, MsgTypeSubscribed, SubscribeResponse{
		Sources: h.subscribed,
		Every:   h.every,
	})
}

func (h *StatsHandler) HandleFrame(ctx context.Context, respond ResponseSender) error {
	var frame uint64
	if h.Scene != nil {
		frame = h.Scene.Frame()
	}

	if h.every > 1 && frame%h.every != 0 {
		return nil
	}

	stats := make(FrameStats, len(h.subscribed))
	for _, name := range h.subscribed {
		stats[name] = h.Sources[name]()
	}

	msg, err := NewMsg(MsgTypeFrameStats, stats)
	if err != nil {
		return err
	}
	msg.Frame = frame

	respond.Send(msg)
	return nil
}

func (h *StatsHandler) NotifyFrames(notify func()) (stop func()) {
	if h.Scene == nil {
		return func() {}
	}
	return h.Scene.HandleFrame(notify)
}

func (h *StatsHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		return Receive(h.conn)
	}
}

func (h *StatsHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		return Send(h.conn, msg)
	}
}

func (h *StatsHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *StatsHandler) Close() {
}

func (h *StatsHandler) GetClientID() string {
	return h.clientID
}

func (h *StatsHandler) sourceNames() []string {
	names := make([]string, 0, len(h.Sources))
	for name := range h.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *StatsHandler) reply(respond ResponseSender, req Msg, t MsgType, data any) error {
	msg, err := NewMsg(t, data)
	if err != nil {
		return err
	}
	msg.RequestID = req.RequestID

	respond.Send(msg)
	return nil
}

func (h *StatsHandler) replyError(respond ResponseSender, req Msg, err error) error {
	return h.reply(respond, req, MsgTypeError, ErrorResponse{
		Error: err.Error(),
		Type:  errors.Type(err),
	})
}
