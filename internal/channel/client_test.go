package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer upgrades incoming connections and hands them to fn
func echoServer(t *testing.T, fn func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		fn(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		Language:     "ar",
		EOSEnabled:   true,
		EOSThreshold: 0.3,
		Dialect:      "pls",
		Speaker:      "f1",
		DialTimeout:  2 * time.Second,
	}
}

// collector records callback invocations for assertions
type collector struct {
	mu          sync.Mutex
	transcripts []string
	finals      []bool
	audio       [][]byte
	ends        int
	errors      []error
	disconnects int
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnTranscript: func(text string, isFinal bool) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.transcripts = append(c.transcripts, text)
			c.finals = append(c.finals, isFinal)
		},
		OnAudio: func(chunk []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.audio = append(c.audio, append([]byte(nil), chunk...))
		},
		OnEnd: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.ends++
		},
		OnError: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errors = append(c.errors, err)
		},
		OnDisconnect: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.disconnects++
		},
	}
}

func (c *collector) wait(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		done := cond()
		c.mu.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestNewClientValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewClient(Config{Language: "ar"}, Callbacks{}, logger)
	assert.Error(t, err)

	_, err = NewClient(Config{URL: "ws://localhost"}, Callbacks{}, logger)
	assert.Error(t, err)

	client, err := NewClient(Config{URL: "ws://localhost", Language: "ar"}, Callbacks{}, logger)
	require.NoError(t, err)
	assert.False(t, client.IsConnected())
}

func TestSendAudioShape(t *testing.T) {
	received := make(chan []byte, 1)
	server := echoServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
		// Keep the connection open until the client disconnects
		conn.ReadMessage()
	})
	defer server.Close()

	col := &collector{}
	client, err := NewClient(testConfig(wsURL(server)), col.callbacks(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	audio := []byte{0x01, 0x02, 0x03}
	require.NoError(t, client.SendAudio(audio))

	select {
	case data := <-received:
		var msg struct {
			Type    string `json:"type"`
			Payload struct {
				Language     string  `json:"language"`
				IsEOSEnabled bool    `json:"isEosEnabled"`
				EOSThreshold float64 `json:"eosThreshold"`
				AudioBase64  string  `json:"audioBase64"`
			} `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "stt", msg.Type)
		assert.Equal(t, "ar", msg.Payload.Language)
		assert.True(t, msg.Payload.IsEOSEnabled)
		assert.Equal(t, 0.3, msg.Payload.EOSThreshold)
		assert.Equal(t, base64.StdEncoding.EncodeToString(audio), msg.Payload.AudioBase64)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the audio message")
	}

	stats := client.GetStats()
	assert.Equal(t, uint64(1), stats.AudioSent)
}

func TestSendSynthesisShape(t *testing.T) {
	received := make(chan []byte, 1)
	server := echoServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
		conn.ReadMessage()
	})
	defer server.Close()

	col := &collector{}
	client, err := NewClient(testConfig(wsURL(server)), col.callbacks(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	require.NoError(t, client.SendSynthesis("hello"))

	select {
	case data := <-received:
		var msg struct {
			Type    string `json:"type"`
			Payload struct {
				Text       string `json:"text"`
				LanguageID string `json:"languageId"`
				Dialect    string `json:"dialect"`
				Speaker    string `json:"speaker"`
				Mulaw      bool   `json:"mulaw"`
			} `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "tts", msg.Type)
		assert.Equal(t, "hello", msg.Payload.Text)
		assert.Equal(t, "ar", msg.Payload.LanguageID)
		assert.Equal(t, "pls", msg.Payload.Dialect)
		assert.Equal(t, "f1", msg.Payload.Speaker)
		assert.False(t, msg.Payload.Mulaw)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the synthesis message")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	client, err := NewClient(testConfig("ws://localhost:1"), Callbacks{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	err = client.SendAudio([]byte{0x01})
	assert.ErrorIs(t, err, ErrNotConnected)

	err = client.SendSynthesis("hello")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInboundTranscripts(t *testing.T) {
	server := echoServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"transcript","payload":{"text":"hello","isFinal":false}}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"stt_response","text":"world","isFinal":true}`))
		// Missing isFinal defaults to final
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"transcript","payload":{"text":"again"}}`))
		conn.ReadMessage()
	})
	defer server.Close()

	col := &collector{}
	client, err := NewClient(testConfig(wsURL(server)), col.callbacks(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	col.wait(t, func() bool { return len(col.transcripts) == 3 })

	col.mu.Lock()
	defer col.mu.Unlock()
	assert.Equal(t, []string{"hello", "world", "again"}, col.transcripts)
	assert.Equal(t, []bool{false, true, true}, col.finals)
}

func TestInboundAudioAndEnd(t *testing.T) {
	server := echoServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x03})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`))
		conn.ReadMessage()
	})
	defer server.Close()

	col := &collector{}
	client, err := NewClient(testConfig(wsURL(server)), col.callbacks(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	col.wait(t, func() bool { return col.ends == 1 })

	col.mu.Lock()
	defer col.mu.Unlock()
	require.Len(t, col.audio, 2)
	assert.Equal(t, []byte{0x01, 0x02}, col.audio[0])
	assert.Equal(t, []byte{0x03}, col.audio[1])

	stats := client.GetStats()
	assert.Equal(t, uint64(2), stats.AudioChunks)
	assert.Equal(t, uint64(3), stats.AudioBytes)
}

func TestInboundErrorMessage(t *testing.T) {
	server := echoServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"quota exceeded"}`))
		conn.ReadMessage()
	})
	defer server.Close()

	col := &collector{}
	client, err := NewClient(testConfig(wsURL(server)), col.callbacks(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	col.wait(t, func() bool { return len(col.errors) == 1 })

	col.mu.Lock()
	defer col.mu.Unlock()
	assert.Contains(t, col.errors[0].Error(), "quota exceeded")
}

func TestMalformedTextFallback(t *testing.T) {
	server := echoServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("   "))
		conn.WriteMessage(websocket.TextMessage, []byte("plain words"))
		conn.ReadMessage()
	})
	defer server.Close()

	col := &collector{}
	client, err := NewClient(testConfig(wsURL(server)), col.callbacks(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	col.wait(t, func() bool { return len(col.transcripts) == 1 })

	col.mu.Lock()
	defer col.mu.Unlock()
	assert.Equal(t, "plain words", col.transcripts[0])
	assert.True(t, col.finals[0])
	assert.Empty(t, col.errors)

	stats := client.GetStats()
	assert.Equal(t, uint64(1), stats.ParseFallbacks)
}

func TestDisconnectIdempotent(t *testing.T) {
	server := echoServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})
	defer server.Close()

	col := &collector{}
	client, err := NewClient(testConfig(wsURL(server)), col.callbacks(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.IsConnected())

	client.Disconnect()
	client.Disconnect()

	assert.False(t, client.IsConnected())

	col.wait(t, func() bool { return col.disconnects == 1 })

	col.mu.Lock()
	defer col.mu.Unlock()
	assert.Empty(t, col.errors)
}

func TestServerClosesConnection(t *testing.T) {
	server := echoServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	})
	defer server.Close()

	col := &collector{}
	client, err := NewClient(testConfig(wsURL(server)), col.callbacks(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))

	col.wait(t, func() bool { return col.disconnects == 1 })

	assert.False(t, client.IsConnected())

	col.mu.Lock()
	defer col.mu.Unlock()
	assert.Empty(t, col.errors)
}
