package notify

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/config"
	"github.com/nutrify-app/offline-gateway/logger"
	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

// reserveAddr picks a free loopback port for the hub's own listener.
func reserveAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return addr
}

func newTestHub(t *testing.T) (types.NotifyHub, string) {
	t.Helper()

	addr := reserveAddr(t)
	cfg := &types.GatewayConfig{
		Notify: &types.NotifyConfig{Enabled: true, Addr: addr, Path: "/events"},
	}

	hub, err := NewHub(context.Background(), testLogger(), config.NewStaticManager(cfg))
	require.NoError(t, err)

	return hub, addr
}

func dialHub(t *testing.T, hub types.NotifyHub, addr string) *websocket.Conn {
	t.Helper()

	var conn *websocket.Conn
	var err error
	for attempt := 0; attempt < 50; attempt++ {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/events", nil)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Registration happens after the upgrade; wait until the hub sees us.
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	return conn
}

func TestHubDisabled(t *testing.T) {
	cfg := &types.GatewayConfig{
		Notify: &types.NotifyConfig{Enabled: false},
	}

	_, err := NewHub(context.Background(), testLogger(), config.NewStaticManager(cfg))
	require.ErrorIs(t, err, types.ErrNotifyNotRunning)

	_, err = NewHub(context.Background(), testLogger(), config.NewStaticManager(&types.GatewayConfig{}))
	require.ErrorIs(t, err, types.ErrNotifyNotRunning)
}

func TestHubPublishRequiresRunning(t *testing.T) {
	hub, _ := newTestHub(t)

	err := hub.Publish(types.MsgActivated, map[string]string{"version": "v1"})
	require.ErrorIs(t, err, types.ErrNotifyNotRunning)
}

func TestHubSubscribeValidation(t *testing.T) {
	hub, _ := newTestHub(t)

	require.ErrorIs(t, hub.Subscribe("", func(msg *types.NotifyMessage) error { return nil }), types.ErrInvalidParameter)
	require.ErrorIs(t, hub.Subscribe(types.MsgSkipWaiting, nil), types.ErrInvalidParameter)
	require.NoError(t, hub.Subscribe(types.MsgSkipWaiting, func(msg *types.NotifyMessage) error { return nil }))
	require.NoError(t, hub.Unsubscribe(types.MsgSkipWaiting))
}

func TestHubBroadcastReachesClient(t *testing.T) {
	hub, addr := newTestHub(t)
	require.NoError(t, hub.Start())
	t.Cleanup(func() {
		if hub.IsRunning() {
			_ = hub.Stop()
		}
	})

	conn := dialHub(t, hub, addr)

	require.NoError(t, hub.Publish(types.MsgUpdateAvailable, map[string]string{"version": "v2"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var message types.NotifyMessage
	require.NoError(t, utils.Unmarshal(data, &message))
	require.Equal(t, types.MsgUpdateAvailable, message.Type)
	require.Equal(t, "gateway", message.Source)
	require.NotEmpty(t, message.MessageID)
}

func TestHubDispatchesInboundMessages(t *testing.T) {
	hub, addr := newTestHub(t)
	require.NoError(t, hub.Start())
	t.Cleanup(func() {
		if hub.IsRunning() {
			_ = hub.Stop()
		}
	})

	received := make(chan *types.NotifyMessage, 1)
	require.NoError(t, hub.Subscribe(types.MsgSkipWaiting, func(msg *types.NotifyMessage) error {
		received <- msg
		return nil
	}))

	conn := dialHub(t, hub, addr)

	payload, err := utils.Marshal(&types.NotifyMessage{Type: types.MsgSkipWaiting, MessageID: "m1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	select {
	case msg := <-received:
		require.Equal(t, types.MsgSkipWaiting, msg.Type)
		require.Equal(t, "m1", msg.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message was not dispatched")
	}
}

func TestHubLifecycle(t *testing.T) {
	hub, _ := newTestHub(t)

	require.NoError(t, hub.Start())
	require.True(t, hub.IsRunning())
	require.ErrorIs(t, hub.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, hub.Stop())
	require.False(t, hub.IsRunning())
	require.ErrorIs(t, hub.Stop(), types.ErrServerNotRunning)
	require.Zero(t, hub.ClientCount())
}
