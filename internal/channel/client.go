package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when a send is attempted on a channel that
// has no open connection.
var ErrNotConnected = errors.New("channel not connected")

// Callbacks is the fixed set of handler slots for inbound channel events.
// Handlers are invoked synchronously from the channel's read goroutine.
type Callbacks struct {
	// OnTranscript receives incremental transcript fragments.
	OnTranscript func(text string, isFinal bool)

	// OnAudio receives raw synthesized-audio chunks.
	OnAudio func(chunk []byte)

	// OnEnd receives the end-of-audio-stream marker.
	OnEnd func()

	// OnError receives protocol-level errors reported by the endpoint.
	// Channel-fatal transport errors also arrive here before OnDisconnect.
	OnError func(err error)

	// OnDisconnect fires once when the connection closes for any reason.
	OnDisconnect func()
}

// Config contains streaming channel configuration
type Config struct {
	URL          string
	Language     string
	EOSEnabled   bool
	EOSThreshold float64
	Dialect      string
	Speaker      string
	DialTimeout  time.Duration
}

// ClientStats represents channel statistics for monitoring
type ClientStats struct {
	Connected        bool   `json:"connected"`
	MessagesReceived uint64 `json:"messages_received"`
	Transcripts      uint64 `json:"transcripts"`
	AudioChunks      uint64 `json:"audio_chunks"`
	AudioBytes       uint64 `json:"audio_bytes"`
	ParseFallbacks   uint64 `json:"parse_fallbacks"`
	AudioSent        uint64 `json:"audio_sent"`
	SynthesisSent    uint64 `json:"synthesis_sent"`
}

// sttPayload is the outbound speech-to-text message payload
type sttPayload struct {
	Language     string  `json:"language"`
	IsEOSEnabled bool    `json:"isEosEnabled"`
	EOSThreshold float64 `json:"eosThreshold"`
	AudioBase64  string  `json:"audioBase64"`
}

// ttsPayload is the outbound synthesis request payload
type ttsPayload struct {
	Text       string `json:"text"`
	LanguageID string `json:"languageId"`
	Dialect    string `json:"dialect"`
	Speaker    string `json:"speaker"`
	Mulaw      bool   `json:"mulaw"`
}

// outboundMessage wraps every message sent to the endpoint
type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// inboundPayload carries the transcript fields of a structured message
type inboundPayload struct {
	Text    string `json:"text"`
	IsFinal *bool  `json:"isFinal"`
	Message string `json:"message"`
}

// inboundMessage is the lenient shape of structured endpoint messages.
// Endpoints are inconsistent about nesting, so top-level fallbacks mirror
// the payload fields.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload inboundPayload  `json:"payload"`
	Text    string          `json:"text"`
	IsFinal *bool           `json:"isFinal"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// Client is the persistent bidirectional streaming transcription channel.
// Outbound it pushes captured audio and synthesis requests; inbound it
// yields transcript fragments, synthesized audio chunks, and the
// end-of-stream marker. One coordinator session owns the connection.
type Client struct {
	config    Config
	callbacks Callbacks
	logger    *slog.Logger

	conn      *websocket.Conn
	connected bool
	readWG    sync.WaitGroup

	// Statistics
	messagesReceived uint64
	transcripts      uint64
	audioChunks      uint64
	audioBytes       uint64
	parseFallbacks   uint64
	audioSent        uint64
	synthesisSent    uint64

	mu sync.Mutex
}

// NewClient creates a new streaming channel client
func NewClient(config Config, callbacks Callbacks, logger *slog.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}

	if config.Language == "" {
		return nil, fmt.Errorf("language cannot be empty")
	}

	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}

	return &Client{
		config:    config,
		callbacks: callbacks,
		logger:    logger,
	}, nil
}

// Connect dials the endpoint and starts the read loop. It returns once the
// websocket handshake completes or fails.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.config.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("websocket connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true

	c.readWG.Add(1)
	go c.readLoop(conn)

	c.logger.Info("Streaming channel connected", slog.String("url", c.config.URL))

	return nil
}

// Disconnect closes the connection. Safe to call multiple times and when
// never connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return
	}

	// Best-effort close handshake
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()

	c.readWG.Wait()

	if wasConnected {
		c.logger.Info("Streaming channel disconnected")
	}
}

// IsConnected reports whether the channel currently has an open connection
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendAudio pushes one encoded audio chunk to the endpoint for
// transcription. The chunk is base64-encoded into the stt message shape.
func (c *Client) SendAudio(encoded []byte) error {
	if len(encoded) == 0 {
		return fmt.Errorf("audio chunk cannot be empty")
	}

	msg := outboundMessage{
		Type: "stt",
		Payload: sttPayload{
			Language:     c.config.Language,
			IsEOSEnabled: c.config.EOSEnabled,
			EOSThreshold: c.config.EOSThreshold,
			AudioBase64:  base64.StdEncoding.EncodeToString(encoded),
		},
	}

	if err := c.writeJSON(msg); err != nil {
		return err
	}

	c.mu.Lock()
	c.audioSent++
	c.mu.Unlock()

	return nil
}

// SendSynthesis requests synthesized speech for the given text. The
// resulting audio arrives as binary chunks followed by the end marker.
func (c *Client) SendSynthesis(text string) error {
	if text == "" {
		return fmt.Errorf("text cannot be empty")
	}

	msg := outboundMessage{
		Type: "tts",
		Payload: ttsPayload{
			Text:       text,
			LanguageID: c.config.Language,
			Dialect:    c.config.Dialect,
			Speaker:    c.config.Speaker,
			Mulaw:      false,
		},
	}

	if err := c.writeJSON(msg); err != nil {
		return err
	}

	c.mu.Lock()
	c.synthesisSent++
	c.mu.Unlock()

	return nil
}

// writeJSON serializes and sends one message under the write lock.
// gorilla/websocket permits only one concurrent writer.
func (c *Client) writeJSON(msg outboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}

	return nil
}

// readLoop consumes inbound frames until the connection closes
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.readWG.Done()
	defer conn.Close()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasConnected := c.connected
			c.connected = false
			c.conn = nil
			c.mu.Unlock()

			// Errors after a local Disconnect are expected teardown noise
			if wasConnected && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Streaming channel read failed", slog.String("error", err.Error()))
				if c.callbacks.OnError != nil {
					c.callbacks.OnError(fmt.Errorf("channel read failed: %w", err))
				}
			}

			if c.callbacks.OnDisconnect != nil {
				c.callbacks.OnDisconnect()
			}
			return
		}

		c.mu.Lock()
		c.messagesReceived++
		c.mu.Unlock()

		switch messageType {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

// handleAudio delivers one raw synthesized-audio chunk
func (c *Client) handleAudio(data []byte) {
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	c.audioChunks++
	c.audioBytes += uint64(len(data))
	c.mu.Unlock()

	c.logger.Debug("Received audio chunk", slog.Int("bytes", len(data)))

	if c.callbacks.OnAudio != nil {
		c.callbacks.OnAudio(data)
	}
}

// handleText parses one structured message. Payloads that are not valid
// structured messages degrade to plain transcript text when non-empty and
// are silently ignored otherwise; they are never fatal to the channel.
func (c *Client) handleText(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return
		}

		c.mu.Lock()
		c.parseFallbacks++
		c.transcripts++
		c.mu.Unlock()

		c.logger.Debug("Received plain text transcript", slog.Int("length", len(text)))

		if c.callbacks.OnTranscript != nil {
			c.callbacks.OnTranscript(text, true)
		}
		return
	}

	switch msg.Type {
	case "transcript", "stt_response":
		// Endpoints vary between nested and flat transcript shapes
		text := msg.Payload.Text
		if text == "" {
			text = msg.Text
		}
		if text == "" {
			return
		}

		isFinal := true
		if msg.Payload.IsFinal != nil {
			isFinal = *msg.Payload.IsFinal
		} else if msg.IsFinal != nil {
			isFinal = *msg.IsFinal
		}

		c.mu.Lock()
		c.transcripts++
		c.mu.Unlock()

		if c.callbacks.OnTranscript != nil {
			c.callbacks.OnTranscript(text, isFinal)
		}

	case "end":
		c.logger.Debug("Received end-of-stream marker")
		if c.callbacks.OnEnd != nil {
			c.callbacks.OnEnd()
		}

	case "error":
		errMsg := msg.Message
		if errMsg == "" {
			errMsg = msg.Payload.Message
		}
		if errMsg == "" && len(msg.Error) > 0 {
			errMsg = string(msg.Error)
		}
		if errMsg == "" {
			errMsg = string(data)
		}

		c.logger.Warn("Streaming channel error message", slog.String("message", errMsg))

		if c.callbacks.OnError != nil {
			c.callbacks.OnError(fmt.Errorf("channel error: %s", errMsg))
		}

	default:
		// Error reported outside the typed shape
		if len(msg.Error) > 0 {
			var errStr string
			if err := json.Unmarshal(msg.Error, &errStr); err != nil {
				errStr = string(msg.Error)
			}
			if c.callbacks.OnError != nil {
				c.callbacks.OnError(fmt.Errorf("channel error: %s", errStr))
			}
			return
		}

		c.logger.Debug("Ignoring unknown message type", slog.String("type", msg.Type))
	}
}

// GetStats returns current channel statistics
func (c *Client) GetStats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ClientStats{
		Connected:        c.connected,
		MessagesReceived: c.messagesReceived,
		Transcripts:      c.transcripts,
		AudioChunks:      c.audioChunks,
		AudioBytes:       c.audioBytes,
		ParseFallbacks:   c.parseFallbacks,
		AudioSent:        c.audioSent,
		SynthesisSent:    c.synthesisSent,
	}
}
