package api

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campaign-lens/backend/internal/models"
	"github.com/campaign-lens/backend/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsClient struct {
	conn *websocket.Conn
}

func dialUploads(t *testing.T, e *echo.Echo) *wsClient {
	t.Helper()
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/uploads"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{conn: conn}
	assert.Equal(t, MsgTypeConnected, c.read(t).Type)
	return c
}

// newSmallUploadServer serves only the upload socket over a store capped at limit bytes.
func newSmallUploadServer(t *testing.T, limit int64) (*echo.Echo, *testutil.MockStorage, *WebSocketHandler) {
	t.Helper()
	store := testutil.NewMockStorage()
	store.Limit = limit
	handler := NewWebSocketHandler(store, nil, testFilter, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e := echo.New()
	e.GET("/api/ws/uploads", handler.HandleWebSocket)
	return e, store, handler
}

func (c *wsClient) send(t *testing.T, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteJSON(WSMessage{Type: msgType, Payload: raw, Timestamp: time.Now().UnixMilli()}))
}

func (c *wsClient) read(t *testing.T) WSMessage {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	require.NoError(t, c.conn.ReadJSON(&msg))
	return msg
}

// readError reads the next message and returns its error code.
func (c *wsClient) readError(t *testing.T) string {
	t.Helper()
	msg := c.read(t)
	require.Equal(t, MsgTypeError, msg.Type, string(msg.Payload))
	var resp WSErrorResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	return resp.Code
}

func (c *wsClient) init(t *testing.T, payload UploadInitPayload) string {
	t.Helper()
	c.send(t, MsgTypeUploadInit, payload)
	ack := c.read(t)
	require.Equal(t, MsgTypeAck, ack.Type, string(ack.Payload))
	require.NotEmpty(t, ack.ID)
	return ack.ID
}

func (c *wsClient) chunk(t *testing.T, uploadID string, index int, data []byte) {
	t.Helper()
	c.send(t, MsgTypeUploadChunk, UploadChunkPayload{
		UploadID:   uploadID,
		ChunkIndex: index,
		Data:       base64.StdEncoding.EncodeToString(data),
	})
}

func TestWebSocketUploadIntoSession(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)
	c := dialUploads(t, s.e)

	parts := []string{"canal,aperturas\n", "email,2500\n"}
	uploadID := c.init(t, UploadInitPayload{
		FileName:    "campaign.csv",
		TotalChunks: len(parts),
		TotalSize:   int64(len(parts[0] + parts[1])),
		SessionID:   id,
	})

	for i, p := range parts {
		c.chunk(t, uploadID, i, []byte(p))
		ack := c.read(t)
		require.Equal(t, MsgTypeAck, ack.Type, string(ack.Payload))
		assert.Equal(t, uploadID, ack.ID)

		var progress WSProgressResponse
		require.NoError(t, json.Unmarshal(ack.Payload, &progress))
		assert.Equal(t, float64(i+1)/float64(len(parts))*100, progress.Progress)
	}

	c.send(t, MsgTypeUploadComplete, UploadCompletePayload{UploadID: uploadID})
	msg := c.read(t)
	for msg.Type == MsgTypeProcessing {
		msg = c.read(t)
	}
	require.Equal(t, MsgTypeComplete, msg.Type, string(msg.Payload))

	var done WSCompleteResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &done))
	require.NotNil(t, done.FileInfo)
	assert.Equal(t, "campaign.csv", done.FileInfo.Name)
	require.NotNil(t, done.Session)
	assert.Equal(t, id, done.Session.ID)
	assert.Equal(t, models.SessionStateIdle, done.Session.State)
	require.NotNil(t, done.Session.File)
	assert.Equal(t, done.FileInfo.ID, done.Session.File.ID)

	data, err := s.store.ReadFile(done.FileInfo.ID)
	require.NoError(t, err)
	assert.Equal(t, "canal,aperturas\nemail,2500\n", string(data))
}

func TestWebSocketProtocolErrors(t *testing.T) {
	e, _, _ := newSmallUploadServer(t, 0)

	t.Run("incomplete upload", func(t *testing.T) {
		c := dialUploads(t, e)
		uploadID := c.init(t, UploadInitPayload{FileName: "a.txt", TotalChunks: 2, TotalSize: 4})
		c.chunk(t, uploadID, 0, []byte("ab"))
		assert.Equal(t, MsgTypeAck, c.read(t).Type)

		c.send(t, MsgTypeUploadComplete, UploadCompletePayload{UploadID: uploadID})
		assert.Equal(t, "INCOMPLETE_UPLOAD", c.readError(t))
	})

	t.Run("unsupported file type", func(t *testing.T) {
		c := dialUploads(t, e)
		c.send(t, MsgTypeUploadInit, UploadInitPayload{FileName: "macro.exe", TotalChunks: 1, TotalSize: 4})
		assert.Equal(t, "UNSUPPORTED_FILE_TYPE", c.readError(t))
	})

	t.Run("unknown upload", func(t *testing.T) {
		c := dialUploads(t, e)
		c.chunk(t, "missing", 0, []byte("x"))
		assert.Equal(t, "SESSION_NOT_FOUND", c.readError(t))
	})

	t.Run("unknown message type", func(t *testing.T) {
		c := dialUploads(t, e)
		c.send(t, "upload:pause", struct{}{})
		assert.Equal(t, "INVALID_TYPE", c.readError(t))
	})

	t.Run("ping", func(t *testing.T) {
		c := dialUploads(t, e)
		c.send(t, MsgTypePing, struct{}{})
		assert.Equal(t, MsgTypePong, c.read(t).Type)
	})
}

func TestWebSocketRejectsOversizedUploads(t *testing.T) {
	const limit = 64

	t.Run("declared size", func(t *testing.T) {
		e, _, _ := newSmallUploadServer(t, limit)
		c := dialUploads(t, e)
		c.send(t, MsgTypeUploadInit, UploadInitPayload{FileName: "a.txt", TotalChunks: 1, TotalSize: limit + 1})
		assert.Equal(t, "PAYLOAD_TOO_LARGE", c.readError(t))
	})

	t.Run("buffered chunks", func(t *testing.T) {
		e, store, _ := newSmallUploadServer(t, limit)
		c := dialUploads(t, e)
		uploadID := c.init(t, UploadInitPayload{FileName: "a.txt", TotalChunks: 2, TotalSize: 10})

		c.chunk(t, uploadID, 0, bytes.Repeat([]byte("a"), 40))
		assert.Equal(t, MsgTypeAck, c.read(t).Type)
		c.chunk(t, uploadID, 1, bytes.Repeat([]byte("b"), 40))
		assert.Equal(t, "PAYLOAD_TOO_LARGE", c.readError(t))

		// The upload is dropped once it goes over.
		c.send(t, MsgTypeUploadComplete, UploadCompletePayload{UploadID: uploadID})
		assert.Equal(t, "SESSION_NOT_FOUND", c.readError(t))
		assert.Zero(t, store.GetFileCount())
	})

	t.Run("resent chunk replaces its bytes", func(t *testing.T) {
		e, _, _ := newSmallUploadServer(t, limit)
		c := dialUploads(t, e)
		uploadID := c.init(t, UploadInitPayload{FileName: "a.txt", TotalChunks: 2, TotalSize: 10})

		for i := 0; i < 3; i++ {
			c.chunk(t, uploadID, 0, bytes.Repeat([]byte("a"), 40))
			assert.Equal(t, MsgTypeAck, c.read(t).Type)
		}
	})

	t.Run("gzip expands past the limit", func(t *testing.T) {
		e, store, _ := newSmallUploadServer(t, limit)
		c := dialUploads(t, e)

		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(make([]byte, 8*1024))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.LessOrEqual(t, buf.Len(), limit)

		uploadID := c.init(t, UploadInitPayload{FileName: "a.txt", TotalChunks: 1, TotalSize: 10, Encoding: "gzip"})
		c.chunk(t, uploadID, 0, buf.Bytes())
		assert.Equal(t, MsgTypeAck, c.read(t).Type)

		c.send(t, MsgTypeUploadComplete, UploadCompletePayload{UploadID: uploadID})
		msg := c.read(t)
		for msg.Type == MsgTypeProcessing {
			msg = c.read(t)
		}
		require.Equal(t, MsgTypeError, msg.Type)
		var resp WSErrorResponse
		require.NoError(t, json.Unmarshal(msg.Payload, &resp))
		assert.Equal(t, "PAYLOAD_TOO_LARGE", resp.Code)
		assert.Zero(t, store.GetFileCount())
	})
}

func TestCleanupStaleUploads(t *testing.T) {
	_, _, handler := newSmallUploadServer(t, 0)
	handler.sessions["old"] = &UploadSession{ID: "old", CreatedAt: time.Now().Add(-2 * time.Hour)}
	handler.sessions["fresh"] = &UploadSession{ID: "fresh", CreatedAt: time.Now()}

	assert.Equal(t, 1, handler.CleanupStaleUploads(time.Hour))
	_, ok := handler.sessions["fresh"]
	assert.True(t, ok)
	_, ok = handler.sessions["old"]
	assert.False(t, ok)
}
