package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	frameScreen   byte = 0x01
	frameMic      byte = 0x02
	framePlayback byte = 0x03

	// 100ms of 16-bit mono audio at 16kHz
	micChunkBytes = 3200
)

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

type serverMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	SessionID string          `json:"session_id"`
	State     string          `json:"state"`
	Code      string          `json:"code"`
	ErrorCode string          `json:"error_code"`
	Text      string          `json:"text"`
	Message   json.RawMessage `json:"message"`
	MessageID string          `json:"message_id"`
	Stats     json.RawMessage `json:"stats"`
	Export    json.RawMessage `json:"export"`
}

type chatMessage struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// pcmAudio is a mono 16-bit recording
type pcmAudio struct {
	sampleRate int
	data       []byte
}

type liveClient struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	screen []byte
	audio  *pcmAudio
	text   string

	stopScreen chan struct{}
	screenOnce sync.Once

	recordMu   sync.Mutex
	recordStop chan struct{}
	recordOnce *sync.Once

	callDone  chan struct{}
	callOnce  sync.Once
	playback  int
	playMu    sync.Mutex
	exportOut chan json.RawMessage
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "server base URL")
	clientID := flag.String("client", "dev", "client ID")
	accessKey := flag.String("key", os.Getenv("LIVEVIEW_ACCESS_KEY"), "client access key")
	imagePath := flag.String("image", "", "PNG or JPEG streamed as the shared screen")
	audioPath := flag.String("audio", "", "WAV (16-bit mono) or raw 16kHz PCM used as the microphone")
	text := flag.String("text", "", "text message to send")
	duration := flag.Duration("duration", 20*time.Second, "how long to keep the session open")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	client := &liveClient{
		logger:     logger,
		text:       *text,
		stopScreen: make(chan struct{}),
		callDone:   make(chan struct{}),
		exportOut:  make(chan json.RawMessage, 1),
	}

	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			logger.Fatal("Failed to read image", zap.Error(err))
		}
		client.screen = data
	}
	if *audioPath != "" {
		audio, err := loadAudio(*audioPath)
		if err != nil {
			logger.Fatal("Failed to read audio", zap.Error(err))
		}
		client.audio = audio
	}

	// Step 1: Get authentication token
	logger.Info("Getting authentication token", zap.String("client", *clientID))
	token, err := authenticate(*serverURL, *clientID, *accessKey)
	if err != nil {
		logger.Fatal("Failed to authenticate client", zap.Error(err))
	}

	// Step 2: Connect to WebSocket with token
	wsURL, err := url.Parse(*serverURL)
	if err != nil {
		logger.Fatal("Invalid server URL", zap.Error(err))
	}
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path = "/ws"
	q := wsURL.Query()
	q.Set("token", token.Token)
	wsURL.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			logger.Fatal("WebSocket connection failed", zap.Int("status", resp.StatusCode), zap.Error(err))
		}
		logger.Fatal("WebSocket connection failed", zap.Error(err))
	}
	defer conn.Close()
	client.conn = conn

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		client.readLoop()
	}()

	// Step 3: Drive the session
	client.send(map[string]string{"type": "ping", "data": "liveclient"})
	if client.screen != nil {
		client.send(map[string]string{"type": "capture_start", "request_id": "capture"})
	}
	if client.text != "" {
		client.send(map[string]string{"type": "send_text", "text": client.text, "request_id": "text"})
	}
	if client.audio != nil {
		client.send(map[string]string{"type": "call_start", "request_id": "call"})
	} else {
		client.callOnce.Do(func() { close(client.callDone) })
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-time.After(*duration):
	case <-quit:
	case <-readDone:
		logger.Warn("Server closed the connection")
		return
	}

	select {
	case <-client.callDone:
	case <-time.After(10 * time.Second):
		logger.Warn("Voice call did not finish")
	}

	// Step 4: Export the session before leaving
	client.send(map[string]string{"type": "export", "request_id": "export"})
	select {
	case export := <-client.exportOut:
		var pretty bytes.Buffer
		json.Indent(&pretty, export, "", "  ")
		fmt.Println(pretty.String())
	case <-time.After(5 * time.Second):
		logger.Warn("No export received")
	}

	client.playMu.Lock()
	logger.Info("Session finished", zap.Int("playbackBytes", client.playback))
	client.playMu.Unlock()

	client.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	client.writeMu.Unlock()
}

func authenticate(serverURL, clientID, accessKey string) (*tokenResponse, error) {
	reqBody, _ := json.Marshal(map[string]string{"client_id": clientID, "access_key": accessKey})

	resp, err := http.Post(serverURL+"/api/v1/auth/token", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	return &token, nil
}

func (c *liveClient) send(v interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Error("Failed to send", zap.Error(err))
	}
}

func (c *liveClient) sendBinary(kind byte, data []byte) error {
	payload := make([]byte, len(data)+1)
	payload[0] = kind
	copy(payload[1:], data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *liveClient) readLoop() {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("Read loop ended", zap.Error(err))
			}
			return
		}

		if kind == websocket.BinaryMessage {
			if len(data) > 1 && data[0] == framePlayback {
				c.playMu.Lock()
				c.playback += len(data) - 1
				c.playMu.Unlock()
			}
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Invalid message from server", zap.Error(err))
			continue
		}
		c.handle(msg)
	}
}

func (c *liveClient) handle(msg serverMessage) {
	switch msg.Type {
	case "session":
		c.logger.Info("Session opened", zap.String("sessionID", msg.SessionID))
	case "pong":
		c.logger.Debug("Pong")

	case "screen_acquire":
		if c.screen == nil {
			c.send(map[string]string{"type": "screen_denied", "reason": "unavailable"})
			return
		}
		c.send(map[string]string{"type": "screen_ready"})
		go c.streamScreen()
	case "screen_release":
		c.screenOnce.Do(func() { close(c.stopScreen) })

	case "mic_acquire":
		if c.audio == nil {
			c.send(map[string]string{"type": "mic_denied", "reason": "unavailable"})
			return
		}
		c.send(map[string]interface{}{"type": "mic_ready", "encoding": "LINEAR16", "sample_rate": c.audio.sampleRate})
	case "record_start":
		go c.streamRecording()
	case "record_stop":
		c.recordMu.Lock()
		if c.recordOnce != nil {
			stop := c.recordStop
			c.recordOnce.Do(func() { close(stop) })
		}
		c.recordMu.Unlock()

	case "call_state":
		c.logger.Info("Call state", zap.String("state", msg.State))
		switch msg.State {
		case "active":
			// the call records until the audio file runs out
			c.send(map[string]string{"type": "call_end", "request_id": "call"})
		case "idle":
			c.callOnce.Do(func() { close(c.callDone) })
		}

	case "message":
		var m chatMessage
		if err := json.Unmarshal(msg.Message, &m); err == nil {
			fmt.Printf("[%s] %s\n", m.Type, m.Content)
		}
	case "audio_start", "audio_pause", "audio_end":
		c.logger.Debug("Playback", zap.String("event", msg.Type), zap.String("messageID", msg.MessageID))
	case "stats":
		c.logger.Debug("Stats", zap.ByteString("stats", msg.Stats))
	case "notice":
		c.logger.Warn("Notice", zap.String("code", msg.Code), zap.String("text", msg.Text))
	case "error":
		c.logger.Error("Server error", zap.String("code", msg.ErrorCode), zap.String("requestID", msg.RequestID))
	case "export":
		select {
		case c.exportOut <- msg.Export:
		default:
		}
	}
}

// streamScreen sends the image as the current frame once per second
func (c *liveClient) streamScreen() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if err := c.sendBinary(frameScreen, c.screen); err != nil {
			return
		}
		select {
		case <-c.stopScreen:
			return
		case <-ticker.C:
		}
	}
}

// streamRecording plays the audio file into the recording in real time,
// then finalizes it
func (c *liveClient) streamRecording() {
	stop := make(chan struct{})
	c.recordMu.Lock()
	c.recordStop = stop
	c.recordOnce = &sync.Once{}
	c.recordMu.Unlock()

	chunk := micChunkBytes * c.audio.sampleRate / 16000
	chunk -= chunk % 2
	pace := time.Duration(chunk/2) * time.Second / time.Duration(c.audio.sampleRate)

	ticker := time.NewTicker(pace)
	defer ticker.Stop()

	data := c.audio.data
loop:
	for len(data) > 0 {
		n := min(chunk, len(data))
		if err := c.sendBinary(frameMic, data[:n]); err != nil {
			return
		}
		data = data[n:]

		select {
		case <-stop:
			break loop
		case <-ticker.C:
		}
	}

	c.logger.Info("Recording sent", zap.Int("bytes", len(c.audio.data)-len(data)))
	c.send(map[string]string{"type": "record_stop"})
}

// loadAudio reads a 16-bit mono WAV file, or raw PCM assumed to be 16kHz
func loadAudio(path string) (*pcmAudio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return &pcmAudio{sampleRate: 16000, data: data}, nil
	}

	audio := &pcmAudio{}
	for offset := 12; offset+8 <= len(data); {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, errors.New("invalid wav format chunk")
			}
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if channels != 1 || bits != 16 {
				return nil, fmt.Errorf("wav must be 16-bit mono, got %d channels at %d bits", channels, bits)
			}
			audio.sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			audio.data = data[body : body+size]
		}
		offset = body + size + size%2
	}

	if audio.sampleRate == 0 || audio.data == nil {
		return nil, errors.New("wav file has no fmt or data chunk")
	}
	return audio, nil
}
