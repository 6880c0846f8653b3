package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
	"github.com/satriahrh/liveview/internal/audio"
	"github.com/satriahrh/liveview/internal/live"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Screen frames dominate.
	maxMessageSize = 8 * 1024 * 1024

	// Timeout for a chat or voice round trip started by the client
	commandTimeout = 90 * time.Second
)

// HubConfig holds the shared services every session is built from
type HubConfig struct {
	Analyzer    live.Analyzer
	Responder   live.Responder
	Synthesizer live.Synthesizer
	Session     live.Config
	Player      audio.PlayerConfig
	// Language is the default recognition language for microphones
	Language string
	// Presence is optional; when set, sessions are announced there
	Presence repositories.PresenceRepository
	Node     string
	// AllowedOrigins restricts browser origins; empty allows all
	AllowedOrigins []string
}

// SessionInfo summarizes a connected session
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	ClientID    string    `json:"client_id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastActive  time.Time `json:"last_active"`
	IsLive      bool      `json:"is_live"`
	CallState   string    `json:"call_state"`
	Messages    int       `json:"messages"`
}

// Hub maintains the set of connected clients, one live session each.
type Hub struct {
	// Registered clients by session ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	config    HubConfig
	upgrader  websocket.Upgrader
	validator *MessageValidator
	logger    *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(config HubConfig, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		config:     config,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return h
}

// Run starts the hub's main loop. All clients are disconnected when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.sessionID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("sessionID", client.sessionID),
				zap.String("clientID", client.clientID))
			h.announce(client)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.sessionID]
			if ok {
				delete(h.clients, client.sessionID)
			}
			h.mu.Unlock()
			if ok {
				go client.shutdown()
				h.logger.Info("Client unregistered", zap.String("sessionID", client.sessionID))
			}

		case <-ctx.Done():
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[string]*Client)
			h.mu.Unlock()

			var wg sync.WaitGroup
			for _, client := range clients {
				wg.Add(1)
				go func(c *Client) {
					defer wg.Done()
					c.shutdown()
				}(client)
			}
			wg.Wait()
			h.logger.Info("Hub stopped", zap.Int("clients", len(clients)))
			return
		}
	}
}

// Session returns the live session with the given ID
func (h *Hub) Session(sessionID string) (*live.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return nil, false
	}
	return client.session, true
}

// ClientID returns the authenticated client owning a session
func (h *Hub) ClientID(sessionID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return "", false
	}
	return client.clientID, true
}

// Sessions lists the sessions connected to this node, oldest first
func (h *Hub) Sessions() []SessionInfo {
	clients := h.snapshot()
	infos := make([]SessionInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Disconnect closes the connection of a session
func (h *Hub) Disconnect(sessionID string) bool {
	h.mu.RLock()
	client, ok := h.clients[sessionID]
	h.mu.RUnlock()

	if ok {
		client.closeConn()
	}
	return ok
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) announce(c *Client) {
	if h.config.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.config.Presence.Register(ctx, c.presence()); err != nil {
		h.logger.Warn("Failed to register presence", zap.String("sessionID", c.sessionID), zap.Error(err))
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// WriteData is one outbound websocket frame
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and its live session.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send     chan WriteData
	sendMu   sync.RWMutex
	sendDone bool

	sessionID   string
	clientID    string
	connectedAt time.Time
	lastActive  atomic.Int64

	session *live.Session
	screen  *RemoteScreen
	mic     *RemoteMicrophone

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	logger *zap.Logger
}

var _ audio.Sink = (*Client)(nil)

// HandleWebSocket upgrades the request and starts a live session for an
// authenticated client
func HandleWebSocket(hub *Hub, c echo.Context, clientID string) error {
	conn, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := hub.newClient(conn, clientID)
	select {
	case hub.register <- client:
	case <-hub.done:
		client.shutdown()
		conn.Close()
		return errors.New("hub is not running")
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	client.sendJSON(&SessionMessage{
		BaseMessage: newBase(MessageTypeSession),
		SessionID:   client.sessionID,
		Analysis:    NewAnalysisSettingsPayload(client.session.AnalysisSettings()),
		Audio:       client.session.AudioSettings(),
	})
	return nil
}

func (h *Hub) newClient(conn *websocket.Conn, clientID string) *Client {
	sessionID := uuid.NewString()
	logger := h.logger.With(zap.String("sessionID", sessionID), zap.String("clientID", clientID))
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan WriteData, 256),
		sessionID:   sessionID,
		clientID:    clientID,
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
	c.touch()

	c.screen = NewRemoteScreen(c, logger.Named("screen"))
	c.mic = NewRemoteMicrophone(c, h.config.Language, logger.Named("mic"))
	c.session = live.NewSession(sessionID, live.Dependencies{
		Screen:      c.screen,
		Microphone:  c.mic,
		Output:      audio.NewPlayer(c, h.config.Player, logger.Named("player")),
		Analyzer:    h.config.Analyzer,
		Responder:   h.config.Responder,
		Synthesizer: h.config.Synthesizer,
	}, h.config.Session, c.observe, logger)
	return c
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		c.touch()

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinary(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage dispatches a control message from the client. Device
// answers are handled inline; commands that wait on the device or on
// remote services run in their own goroutine.
func (c *Client) processMessage(message []byte) {
	parsed, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendJSON(CreateErrorMessage("invalid_message", "Message rejected", err.Error()))
		return
	}

	switch msg := parsed.(type) {
	case *ScreenDeniedMessage:
		c.screen.Denied(msg.Reason)
	case *MicReadyMessage:
		c.mic.Ready(msg)
	case *MicDeniedMessage:
		c.mic.Denied(msg.Reason)
	case *PingMessage:
		c.sendJSON(CreatePongMessage(msg.Data))
	case *SendTextMessage:
		go c.handleSendText(msg)
	case *ToggleAudioMessage:
		go c.handleToggleAudio(msg)
	case *SettingsMessage:
		c.handleSettings(msg)
	case *ControlMessage:
		c.handleControl(msg)
	}
}

func (c *Client) handleControl(msg *ControlMessage) {
	switch msg.Type {
	case MessageTypeScreenReady:
		c.screen.Ready()
	case MessageTypeScreenEnded:
		c.screen.Ended()
	case MessageTypeCaptureStart:
		go c.run(msg.RequestID, "capture_failed", func(ctx context.Context) error {
			return c.session.StartCapture(ctx)
		})
	case MessageTypeCaptureStop:
		c.session.StopCapture()
	case MessageTypeCallStart:
		go c.run(msg.RequestID, "call_failed", func(ctx context.Context) error {
			return c.session.StartCall(ctx)
		})
	case MessageTypeCallEnd:
		go c.run(msg.RequestID, "call_failed", func(ctx context.Context) error {
			_, err := c.session.EndCall(ctx)
			return err
		})
	case MessageTypeRecordStop:
		c.mic.Flushed()
		if err := c.session.StopRecording(); err != nil && !errors.Is(err, entities.ErrNoActiveCall) {
			c.logger.Warn("Failed to stop recording", zap.Error(err))
		}
	case MessageTypeStopAudio:
		c.session.StopAudio()
	case MessageTypeClear:
		c.session.Clear()
	case MessageTypeExport:
		c.sendJSON(&ExportMessage{
			BaseMessage: BaseMessage{Type: MessageTypeExport, Timestamp: time.Now().Format(time.RFC3339), RequestID: msg.RequestID},
			Export:      c.session.Export(),
		})
	}
}

func (c *Client) handleSendText(msg *SendTextMessage) {
	c.run(msg.RequestID, "chat_failed", func(ctx context.Context) error {
		_, err := c.session.SendText(ctx, msg.Text)
		return err
	})
}

func (c *Client) handleToggleAudio(msg *ToggleAudioMessage) {
	c.run(msg.RequestID, "audio_failed", func(ctx context.Context) error {
		_, err := c.session.ToggleAudio(ctx, msg.MessageID)
		return err
	})
}

func (c *Client) handleSettings(msg *SettingsMessage) {
	var analysis *entities.AnalysisSettings
	if msg.Analysis != nil {
		s := msg.Analysis.Settings()
		analysis = &s
	}
	if err := c.session.UpdateSettings(analysis, msg.Audio); err != nil {
		c.sendError(msg.RequestID, "invalid_settings", err)
		return
	}
	c.logger.Info("Settings updated")
}

// run executes a session command bound to the connection lifetime
func (c *Client) run(requestID, code string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, entities.ErrSessionClosed) {
			return
		}
		c.logger.Warn("Command failed", zap.String("code", code), zap.Error(err))
		c.sendError(requestID, code, err)
	}
}

// processBinary routes a binary frame by its kind byte
func (c *Client) processBinary(data []byte) {
	if len(data) < 2 {
		c.logger.Warn("Received empty binary frame")
		return
	}

	switch data[0] {
	case FrameScreen:
		c.screen.Frame(data[1:])
	case FrameMic:
		c.mic.Audio(data[1:])
	default:
		c.logger.Warn("Unknown binary frame kind", zap.Uint8("kind", data[0]))
	}
}

// observe forwards session events to the client. It never blocks.
func (c *Client) observe(e live.Event) {
	switch e.Type {
	case live.EventMessage:
		if e.Message != nil {
			c.sendJSON(&ChatMessage{BaseMessage: newBase(MessageTypeMessage), Message: *e.Message})
		}
	case live.EventMessageState:
		if e.Playback != nil {
			c.sendJSON(&MessageStateMessage{
				BaseMessage: newBase(MessageTypeMessageState),
				MessageID:   e.Playback.MessageID,
				Status:      string(e.Playback.Status),
				PausedAt:    e.Playback.PausedAt,
			})
		}
	case live.EventStats:
		if e.Stats != nil {
			c.sendJSON(&StatsMessage{BaseMessage: newBase(MessageTypeStats), Stats: *e.Stats})
		}
	case live.EventNotice:
		if e.Notice != nil {
			c.sendJSON(&NoticeMessage{BaseMessage: newBase(MessageTypeNotice), Notice: *e.Notice})
		}
	case live.EventCallState:
		c.sendJSON(&CallStateMessage{BaseMessage: newBase(MessageTypeCallState), State: string(e.CallState)})
	case live.EventCleared:
		c.sendJSON(&ControlMessage{BaseMessage: newBase(MessageTypeCleared)})
	}
}

// AudioStart implements audio.Sink
func (c *Client) AudioStart(messageID string, format repositories.AudioFormat, offset time.Duration) error {
	return c.sendOrFail(&AudioStartMessage{
		BaseMessage: newBase(MessageTypeAudioStart),
		MessageID:   messageID,
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
		Offset:      offset.Seconds(),
	})
}

// AudioChunk implements audio.Sink
func (c *Client) AudioChunk(messageID string, chunk []byte) error {
	payload := make([]byte, len(chunk)+1)
	payload[0] = FramePlayback
	copy(payload[1:], chunk)
	if !c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: payload}) {
		return errClientGone
	}
	return nil
}

// AudioPause implements audio.Sink
func (c *Client) AudioPause(messageID string, offset time.Duration) error {
	return c.sendOrFail(&AudioStateMessage{
		BaseMessage: newBase(MessageTypeAudioPause),
		MessageID:   messageID,
		Offset:      offset.Seconds(),
	})
}

// AudioEnd implements audio.Sink
func (c *Client) AudioEnd(messageID string) error {
	return c.sendOrFail(&AudioStateMessage{
		BaseMessage: newBase(MessageTypeAudioEnd),
		MessageID:   messageID,
	})
}

var errClientGone = errors.New("client connection closed")

func (c *Client) sendOrFail(v interface{}) error {
	if !c.sendJSON(v) {
		return errClientGone
	}
	return nil
}

func (c *Client) sendError(requestID, code string, err error) {
	msg := CreateErrorMessage(code, err.Error(), "")
	msg.RequestID = requestID
	c.sendJSON(msg)
}

// sendJSON queues a text frame; it reports false when the client is gone
// or its buffer is full
func (c *Client) sendJSON(v interface{}) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return false
	}
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) enqueue(data WriteData) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.sendDone {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping message", zap.Int("type", data.Type))
		return false
	}
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Client) idleSince() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Client) info() SessionInfo {
	stats := c.session.Stats()
	return SessionInfo{
		SessionID:   c.sessionID,
		ClientID:    c.clientID,
		ConnectedAt: c.connectedAt,
		LastActive:  c.idleSince(),
		IsLive:      stats.IsLive,
		CallState:   string(c.session.CallState()),
		Messages:    len(c.session.Messages()),
	}
}

func (c *Client) presence() repositories.Presence {
	return repositories.Presence{
		SessionID:   c.sessionID,
		ClientID:    c.clientID,
		Node:        c.hub.config.Node,
		ConnectedAt: c.connectedAt,
		IsLive:      c.session.IsLive(),
		CallState:   string(c.session.CallState()),
	}
}

func (c *Client) closeConn() {
	c.conn.Close()
}

// shutdown releases the devices and the session, then closes the send queue
func (c *Client) shutdown() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.screen.Disconnect()
		c.mic.Disconnect()
		c.session.Close()

		c.sendMu.Lock()
		c.sendDone = true
		close(c.send)
		c.sendMu.Unlock()

		if presence := c.hub.config.Presence; presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := presence.Remove(ctx, c.sessionID); err != nil {
				c.logger.Warn("Failed to remove presence", zap.Error(err))
			}
		}
		c.logger.Info("Session closed")
	})
}
