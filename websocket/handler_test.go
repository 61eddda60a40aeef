package websocket

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/aukilabs/ingwaz/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestScene(t *testing.T) *models.Scene {
	scene := models.NewScene(1, time.Hour)
	t.Cleanup(scene.Close)
	return scene
}

func dispatchFrames(scene *models.Scene) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(time.Millisecond * 5)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				scene.DispatchFrame()
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func sendMsg(t *testing.T, conn *websocket.Conn, msgType MsgType, requestID uint32, data any) {
	msg, err := NewMsg(msgType, data)
	require.NoError(t, err)
	msg.RequestID = requestID

	_, err = Send(conn, msg)
	require.NoError(t, err)
}

func TestStatsHandler(t *testing.T) {
	scene := newTestScene(t)

	var calls atomic.Int32
	client, close := NewTestingEnv(t, newTestHandler(&StatsHandler{
		Scene: scene,
		Sources: map[string]StatsSource{
			"foliage": func() any {
				return map[string]int{"ready": 3}
			},
			"counter": func() any {
				return calls.Add(1)
			},
		},
		ClientIdleTimeout: time.Minute,
	}))
	defer close()

	t.Run("ping", func(t *testing.T) {
		sendMsg(t, client, MsgTypePing, 7, nil)

		msg := ReceiveMsgOfType(t, client, MsgTypePong)
		require.Equal(t, uint32(7), msg.RequestID)
		require.False(t, msg.Timestamp.IsZero())
	})

	t.Run("frame stats of every source", func(t *testing.T) {
		scene.DispatchFrame()

		msg := ReceiveMsgOfType(t, client, MsgTypeFrameStats)

		var stats map[string]any
		require.NoError(t, msg.DataTo(&stats))
		require.Contains(t, stats, "foliage")
		require.Contains(t, stats, "counter")
		require.Equal(t, map[string]any{"ready": float64(3)}, stats["foliage"])
	})

	t.Run("subscribe", func(t *testing.T) {
		sendMsg(t, client, MsgTypeSubscribe, 8, SubscribeRequest{
			Sources: []string{"counter"},
			Every:   2,
		})

		msg := ReceiveMsgOfType(t, client, MsgTypeSubscribed)
		require.Equal(t, uint32(8), msg.RequestID)

		var res SubscribeResponse
		require.NoError(t, msg.DataTo(&res))
		require.Equal(t, []string{"counter"}, res.Sources)
		require.Equal(t, uint64(2), res.Every)

		stop := dispatchFrames(scene)
		defer stop()

		msg = ReceiveMsgOfType(t, client, MsgTypeFrameStats)
		require.Zero(t, msg.Frame%2)

		var stats map[string]any
		require.NoError(t, msg.DataTo(&stats))
		require.Len(t, stats, 1)
		require.Contains(t, stats, "counter")
	})

	t.Run("subscribe to unknown source", func(t *testing.T) {
		sendMsg(t, client, MsgTypeSubscribe, 9, SubscribeRequest{
			Sources: []string{"bees"},
		})

		msg := ReceiveMsgOfType(t, client, MsgTypeError)
		require.Equal(t, uint32(9), msg.RequestID)

		var res ErrorResponse
		require.NoError(t, msg.DataTo(&res))
		require.Equal(t, ErrTypeUnknownMsg, res.Type)
	})

	t.Run("unknown message", func(t *testing.T) {
		sendMsg(t, client, MsgType("dance"), 10, nil)

		msg := ReceiveMsgOfType(t, client, MsgTypeError)
		require.Equal(t, uint32(10), msg.RequestID)
	})
}

func TestStatsHandlerIdleTimeout(t *testing.T) {
	client, close := NewTestingEnv(t, newTestHandler(&StatsHandler{
		ClientIdleTimeout: time.Millisecond * 50,
	}))
	defer close()

	client.SetReadDeadline(time.Now().Add(time.Second * 5))

	var err error
	for err == nil {
		_, _, err = Receive(client)
	}
	require.Error(t, err)
}

func TestMsg(t *testing.T) {
	msg, err := NewMsg(MsgTypeSubscribe, SubscribeRequest{Sources: []string{"a"}})
	require.NoError(t, err)
	require.Equal(t, "subscribe", msg.TypeString())

	var req SubscribeRequest
	require.NoError(t, msg.DataTo(&req))
	require.Equal(t, []string{"a"}, req.Sources)

	require.Equal(t, "unknown", Msg{}.TypeString())
	require.NoError(t, Msg{}.DataTo(&req))

	_, err = NewMsg(MsgTypeFrameStats, func() {})
	require.Error(t, err)

	bad := Msg{Data: []byte("{")}
	require.Error(t, bad.DataTo(&req))
}
