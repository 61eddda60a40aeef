package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512
)

// Handler represents a debug stream handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a message sent by the client.
	HandleMsg(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a scene frame.
	HandleFrame(ctx context.Context, respond ResponseSender) error

	// Registers notify to be called on every scene frame. The returned
	// function unregisters it.
	NotifyFrames(notify func()) (stop func())

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send the queued messages.
	Sender() Sender

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Closes the handler and releases its allocated resources.
	Close()

	GetClientID() string
}

// Handle handles the given connection until the client disconnects or ctx
// is done.
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

	Handler Handler

	sendChan       chan Msg
	recvChan       chan Msg
	frameChan      chan struct{}
	sender         Sender
	receiver       Receiver
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

	h.sendChan = make(chan Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.recvChan = make(chan Msg, sendChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	h.frameChan = make(chan struct{}, 1)
	stopFrames := h.Handler.NotifyFrames(func() {
		select {
		case h.frameChan <- struct{}{}:
		default:
		}
	})
	defer stopFrames()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	responder := responseSender{send: h.send}
	disconnected := false

	for !disconnected {
		select {
		case <-ctx.Done():
			h.handleDisconnect(ctx.Err())
			disconnected = true

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").
				WithType(ErrTypeIdleTimeout).
				WithTag("duration", idleTimeout))

		case <-h.frameChan:
			if err := h.Handler.HandleFrame(ctx, responder); err != nil {
				h.disconnect(errors.New("handling frame failed").Wrap(err))
			}

		case msg := <-h.recvChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.Handler.HandleMsg(ctx, responder, msg); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			disconnected = true
		}
	}

	// The connection is closed: pending reads and writes fail.
	cancel()
	wg.Wait()
}

func (h *handler) send(msg Msg) {
	select {
	case h.sendChan <- msg:
	default:
		h.disconnect(errors.New("send queue is full").
			WithTag("msg_type", msg.TypeString()))
	}
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

func (h *handler) startReceiving(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		default:
			msg, _, err := h.receiver()
			if err != nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
				return
			}

			select {
			case h.recvChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send func(Msg)
}

func (r responseSender) Send(msg Msg) {
	r.send(msg)
}
