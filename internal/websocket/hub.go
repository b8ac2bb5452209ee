package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/vocalis/server/domain/entities"
	"github.com/vocalis/server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// MaxTurnBytes bounds the audio buffered between listening_start and listening_end.
	MaxTurnBytes = 16 << 20

	sessionUpdateTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active clients
type Hub struct {
	// Registered clients.
	clients map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	pipeline  usecase.TurnExecutor
	sessions  *usecase.SessionService
	validator *MessageValidator

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(pipeline usecase.TurnExecutor, sessions *usecase.SessionService, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		pipeline:   pipeline,
		sessions:   sessions,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("sessionID", client.sessionID))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("sessionID", client.sessionID))
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; writers stop on ctx.
	send chan WriteData

	sessionID string
	language  string
	locale    usecase.Locale

	// ctx ends when the connection goes away and cancels a running turn
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger

	// Recording state
	listening      *ListeningStartMessage
	buffer         bytes.Buffer
	chunkCount     int
	listeningStart time.Time
	processing     bool

	mutex sync.Mutex
}

// HandleWebSocketWithAuth upgrades a request whose session was already verified
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, sessionID, language string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	locale := usecase.ParseLocale(language)
	if accept := c.Request().Header.Get("Accept-Language"); accept != "" {
		locale = usecase.ParseLocale(accept)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		sessionID: sessionID,
		language:  language,
		locale:    locale,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(zap.String("sessionID", sessionID)),
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.hub.unregister <- c
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

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// enqueue hands a frame to the write pump unless the connection is gone
func (c *Client) enqueue(data WriteData) bool {
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

// processMessage processes control messages from the peer
func (c *Client) processMessage(message []byte) {
	parsed, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendJSON(CreateErrorMessage(ErrorCodeInvalidMessage, "Invalid message", err.Error()))
		return
	}

	switch msg := parsed.(type) {
	case *ListeningStartMessage:
		c.handleListeningStart(msg)
	case *ListeningEndMessage:
		c.handleListeningEnd()
	case *PingMessage:
		c.sendJSON(CreatePongMessage(msg.Data))
	}
}

// processBinaryAudioChunk appends audio to the open recording
func (c *Client) processBinaryAudioChunk(data []byte) {
	c.mutex.Lock()

	if c.listening == nil {
		c.mutex.Unlock()
		c.logger.Warn("Received binary audio chunk outside of a recording", zap.Int("size", len(data)))
		c.sendJSON(CreateErrorMessage(ErrorCodeNotListening, "Send listening_start before audio", ""))
		return
	}

	if c.buffer.Len()+len(data) > MaxTurnBytes {
		c.listening = nil
		c.buffer.Reset()
		c.mutex.Unlock()
		c.logger.Warn("Recording exceeded size limit", zap.Int("limit", MaxTurnBytes))
		c.sendJSON(CreateErrorMessage(ErrorCodeAudioTooLarge, "Recording is too large", ""))
		return
	}

	c.buffer.Write(data)
	c.chunkCount++
	total := c.chunkCount
	c.mutex.Unlock()

	c.logger.Debug("Buffered audio chunk",
		zap.Int("size", len(data)),
		zap.Int("totalChunks", total))
}

// handleListeningStart opens a recording
func (c *Client) handleListeningStart(msg *ListeningStartMessage) {
	c.mutex.Lock()
	if c.processing {
		c.mutex.Unlock()
		c.sendJSON(CreateErrorMessage(ErrorCodeTurnInProgress, "Wait for the current reply", ""))
		return
	}
	c.listening = msg
	c.buffer.Reset()
	c.chunkCount = 0
	c.listeningStart = time.Now()
	c.mutex.Unlock()

	c.logger.Info("Recording started",
		zap.String("format", msg.Format),
		zap.Int("sampleRate", msg.SampleRate))

	c.sendJSON(CreateAckMessage(MessageTypeListeningStart, c.sessionID, "listening started"))
}

// handleListeningEnd closes the recording and runs it as one turn
func (c *Client) handleListeningEnd() {
	c.mutex.Lock()
	start := c.listening
	if start == nil {
		c.mutex.Unlock()
		c.sendJSON(CreateErrorMessage(ErrorCodeNotListening, "No recording in progress", ""))
		return
	}
	data := bytes.Clone(c.buffer.Bytes())
	chunks := c.chunkCount
	recorded := time.Since(c.listeningStart)
	c.listening = nil
	c.buffer.Reset()
	c.processing = true
	c.mutex.Unlock()

	c.logger.Info("Recording ended",
		zap.Int("chunks", chunks),
		zap.Int("bytes", len(data)),
		zap.Duration("recorded", recorded))

	ack := CreateAckMessage(MessageTypeListeningEnd, c.sessionID, "listening ended")
	ack.ChunkCount = chunks
	ack.Bytes = len(data)
	c.sendJSON(ack)

	go c.respond(start, data)
}

// respond runs the pipeline and sends turn_result followed by the audio frame
func (c *Client) respond(start *ListeningStartMessage, data []byte) {
	language := start.Language
	if language == "" {
		language = c.language
	}

	turn := c.hub.pipeline.Execute(c.ctx, usecase.TurnRequest{
		SessionID: c.sessionID,
		Input:     start.Input(data),
		Channel:   entities.ChannelWebSocket,
		Language:  language,
		Progress: func(stage entities.Stage) {
			c.sendJSON(CreateProgressMessage(c.sessionID, string(stage)))
		},
	})

	c.mutex.Lock()
	c.processing = false
	c.mutex.Unlock()

	c.sendJSON(usecase.NewTurnResultMessage(turn, c.locale, false))
	if turn.ResponseAudio != nil && len(turn.ResponseAudio.Data) > 0 {
		c.enqueue(WriteData{
			Type:    websocket.BinaryMessage,
			Payload: turn.ResponseAudio.Data,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionUpdateTimeout)
	defer cancel()
	c.hub.sessions.RecordTurn(ctx, c.sessionID)
}
