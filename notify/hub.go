package notify

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

type HubState int32

const (
	HubStateStopped HubState = iota
	HubStateStarting
	HubStateRunning
	HubStateStopping
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Hub is the control channel between connected pages and the gateway.
// Pages connect over websocket; the gateway pushes update and
// connectivity notifications to every page, and accepts a small set of
// inbound message types (currently SKIP_WAITING) which are dispatched
// to subscribed handlers.
type Hub struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.NotifyConfig
	upgrader        websocket.Upgrader
	server          *http.Server
	clients         map[*hubClient]struct{}
	clientsMu       sync.RWMutex
	subscriptions   map[string]types.NotifyHandler
	subsMu          sync.RWMutex
	broadcast       chan *types.NotifyMessage
	state           atomic.Value
	shutdownTimeout time.Duration
	broadcastDone   chan struct{}
}

type hubClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(ctx context.Context, logger types.Logger, config types.ConfigManager) (types.NotifyHub, error) {
	notifyConfig := config.GetConfig().Notify
	if notifyConfig == nil || !notifyConfig.Enabled {
		return nil, types.ErrNotifyNotRunning
	}

	hubCtx, cancel := context.WithCancel(ctx)

	hub := &Hub{
		ctx:    hubCtx,
		cancel: cancel,
		logger: logger,
		config: notifyConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:         make(map[*hubClient]struct{}),
		subscriptions:   make(map[string]types.NotifyHandler),
		broadcast:       make(chan *types.NotifyMessage, 256),
		shutdownTimeout: 10 * time.Second,
		broadcastDone:   make(chan struct{}),
	}

	hub.state.Store(HubStateStopped)

	mux := http.NewServeMux()
	mux.HandleFunc(notifyConfig.Path, hub.serveWS)

	hub.server = &http.Server{
		Addr:    notifyConfig.Addr,
		Handler: mux,
	}

	return hub, nil
}

func (h *Hub) Publish(msgType string, payload interface{}) error {
	if !h.IsRunning() {
		return types.ErrNotifyNotRunning
	}

	message := &types.NotifyMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    "gateway",
		MessageID: uuid.NewString(),
	}

	select {
	case h.broadcast <- message:
		return nil
	case <-h.ctx.Done():
		return types.ErrNotifyNotRunning
	default:
		h.logger.Error("Broadcast channel is full, dropping message",
			zap.String("type", msgType),
			zap.String("message_id", message.MessageID))
		return types.ErrNotifyPublishFailed
	}
}

func (h *Hub) Subscribe(msgType string, handler types.NotifyHandler) error {
	if msgType == "" || handler == nil {
		return types.ErrInvalidParameter
	}

	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	h.subscriptions[msgType] = handler
	return nil
}

func (h *Hub) Unsubscribe(msgType string) error {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	delete(h.subscriptions, msgType)
	return nil
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Start() error {
	if !h.transitionState(HubStateStopped, HubStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	go h.broadcastLoop()

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("Notify hub server failed", zap.Error(err))
		}
	}()

	h.setState(HubStateRunning)

	h.logger.Info("Notify hub started",
		zap.String("addr", h.config.Addr),
		zap.String("path", h.config.Path))
	return nil
}

func (h *Hub) Stop() error {
	if !h.transitionState(HubStateRunning, HubStateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(HubStateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.server.Shutdown(gCtx)
	})

	g.Go(func() error {
		h.clientsMu.Lock()
		defer h.clientsMu.Unlock()

		for client := range h.clients {
			close(client.send)
			_ = client.conn.Close()
			delete(h.clients, client)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		h.logger.Warn("Notify hub stop incomplete", zap.Error(err))
	} else {
		h.logger.Info("Notify hub stopped gracefully")
	}

	return nil
}

func (h *Hub) IsRunning() bool {
	return h.getState() == HubStateRunning
}

func (h *Hub) getState() HubState {
	return h.state.Load().(HubState)
}

func (h *Hub) setState(newState HubState) bool {
	currentState := h.getState()
	return h.state.CompareAndSwap(currentState, newState)
}

func (h *Hub) transitionState(from, to HubState) bool {
	return h.state.CompareAndSwap(from, to)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	client := &hubClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.clientsMu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Debug("Notify client connected",
		zap.String("remote", r.RemoteAddr),
		zap.Int("clients", count))

	go client.writePump()
	go client.readPump()
}

func (h *Hub) broadcastLoop() {
	defer close(h.broadcastDone)

	for {
		select {
		case <-h.ctx.Done():
			return
		case message, ok := <-h.broadcast:
			if !ok {
				return
			}

			data, err := utils.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal notify message",
					zap.String("type", message.Type),
					zap.Error(err))
				continue
			}

			h.clientsMu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow consumer, drop the message for this client.
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

func (h *Hub) dispatch(message *types.NotifyMessage) {
	h.subsMu.RLock()
	handler, exists := h.subscriptions[message.Type]
	h.subsMu.RUnlock()

	if !exists {
		h.logger.Debug("No handler for inbound notify message",
			zap.String("type", message.Type))
		return
	}

	if err := handler(message); err != nil {
		h.logger.Error("Notify handler failed",
			zap.String("type", message.Type),
			zap.String("message_id", message.MessageID),
			zap.Error(err))
	}
}

func (h *Hub) removeClient(client *hubClient) {
	h.clientsMu.Lock()
	if _, exists := h.clients[client]; exists {
		delete(h.clients, client)
		close(client.send)
	}
	h.clientsMu.Unlock()
}

func (c *hubClient) readPump() {
	defer func() {
		c.hub.removeClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Notify client read failed", zap.Error(err))
			}
			return
		}

		var message types.NotifyMessage
		if err := utils.Unmarshal(data, &message); err != nil {
			c.hub.logger.Warn("Dropping malformed notify message", zap.Error(err))
			continue
		}

		c.hub.dispatch(&message)
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
