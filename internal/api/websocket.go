package api

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/campaign-lens/backend/internal/models"
	"github.com/campaign-lens/backend/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for upload protocol
const (
	// Client -> Server messages
	MsgTypeUploadInit     = "upload:init"
	MsgTypeUploadChunk    = "upload:chunk"
	MsgTypeUploadComplete = "upload:complete"
	MsgTypePing           = "ping"

	// Server -> Client messages
	MsgTypeConnected  = "connected"
	MsgTypeAck        = "ack"
	MsgTypeProgress   = "progress"
	MsgTypeComplete   = "complete"
	MsgTypeError      = "error"
	MsgTypeProcessing = "processing"
	MsgTypePong       = "pong"
)

// WSMessage is the envelope for every WebSocket message.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// UploadInitPayload opens a chunked upload.
type UploadInitPayload struct {
	FileName    string `json:"fileName"`
	MediaType   string `json:"mediaType,omitempty"`
	TotalChunks int    `json:"totalChunks"`
	TotalSize   int64  `json:"totalSize"`
	Encoding    string `json:"encoding,omitempty"` // "gzip", "none"
	SessionID   string `json:"sessionId,omitempty"`
}

// UploadChunkPayload carries one chunk.
type UploadChunkPayload struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex int    `json:"chunkIndex"`
	Data       string `json:"data"` // Base64 encoded chunk
}

// UploadCompletePayload finishes an upload.
type UploadCompletePayload struct {
	UploadID string `json:"uploadId"`
}

// WSProgressResponse reports upload progress.
type WSProgressResponse struct {
	Type     string  `json:"type"`
	UploadID string  `json:"uploadId,omitempty"`
	Progress float64 `json:"progress"`
	Stage    string  `json:"stage,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// WSCompleteResponse reports a stored file and, when requested, the session it was selected into.
type WSCompleteResponse struct {
	Type     string                  `json:"type"`
	UploadID string                  `json:"uploadId,omitempty"`
	FileInfo *models.FileInfo        `json:"fileInfo,omitempty"`
	Session  *models.AnalysisSession `json:"session,omitempty"`
}

// WSErrorResponse reports a protocol or storage failure.
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// UploadSession tracks an in-progress upload over WebSocket
type UploadSession struct {
	ID             string
	FileName       string
	MediaType      string
	SessionID      string
	TotalChunks    int
	ReceivedChunks map[int]bool
	Chunks         [][]byte
	Size           int64 // bytes buffered across Chunks
	OriginalSize   int64
	Encoding       string
	CreatedAt      time.Time
}

// WebSocketHandler manages WebSocket connections for file uploads
type WebSocketHandler struct {
	store      storage.Store
	sessionMgr SessionManager
	filter     FileFilter
	maxChunks  int
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	sessions   map[string]*UploadSession
	sessionsMu sync.Mutex
}

// NewWebSocketHandler creates a new WebSocket upload handler
func NewWebSocketHandler(store storage.Store, sessionMgr SessionManager, filter FileFilter, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		store:      store,
		sessionMgr: sessionMgr,
		filter:     filter,
		maxChunks:  4096,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		sessions: make(map[string]*UploadSession),
	}
}

// HandleWebSocket upgrades HTTP connection to WebSocket and handles upload protocol
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	wsh.logger.Info("ws.connect", "remote", c.RealIP())

	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeConnected,
		Timestamp: time.Now().UnixMilli(),
	})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				wsh.logger.Warn("ws.read_error", "error", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			wsh.sendMessage(ws, WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		case MsgTypeUploadInit:
			wsh.handleUploadInit(ws, msg)
		case MsgTypeUploadChunk:
			wsh.handleUploadChunk(ws, msg)
		case MsgTypeUploadComplete:
			wsh.handleUploadComplete(ws, msg)
		default:
			wsh.sendError(ws, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	wsh.logger.Info("ws.disconnect", "remote", c.RealIP())
	return nil
}

func (wsh *WebSocketHandler) handleUploadInit(ws *websocket.Conn, msg WSMessage) {
	var payload UploadInitPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, "Invalid init payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}
	if payload.FileName == "" {
		wsh.sendError(ws, "fileName is required", "INVALID_PAYLOAD")
		return
	}
	if payload.TotalChunks <= 0 || payload.TotalChunks > wsh.maxChunks {
		wsh.sendError(ws, fmt.Sprintf("totalChunks must be between 1 and %d", wsh.maxChunks), "INVALID_PAYLOAD")
		return
	}
	if err := wsh.filter.Check(payload.FileName); err != nil {
		wsh.sendError(ws, err.Error(), "UNSUPPORTED_FILE_TYPE")
		return
	}
	if limit := wsh.store.MaxSize(); limit > 0 && payload.TotalSize > limit {
		wsh.sendError(ws, fmt.Sprintf("File exceeds maximum upload size of %d bytes", limit), "PAYLOAD_TOO_LARGE")
		return
	}

	upload := &UploadSession{
		ID:             uuid.New().String(),
		FileName:       payload.FileName,
		MediaType:      payload.MediaType,
		SessionID:      payload.SessionID,
		TotalChunks:    payload.TotalChunks,
		ReceivedChunks: make(map[int]bool),
		Chunks:         make([][]byte, payload.TotalChunks),
		OriginalSize:   payload.TotalSize,
		Encoding:       payload.Encoding,
		CreatedAt:      time.Now(),
	}

	wsh.sessionsMu.Lock()
	wsh.sessions[upload.ID] = upload
	wsh.sessionsMu.Unlock()

	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeAck,
		ID:        upload.ID,
		Timestamp: time.Now().UnixMilli(),
	})

	wsh.logger.Info("ws.upload.init", "upload_id", upload.ID, "chunks", payload.TotalChunks, "bytes", payload.TotalSize)
}

func (wsh *WebSocketHandler) handleUploadChunk(ws *websocket.Conn, msg WSMessage) {
	var payload UploadChunkPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, "Invalid chunk payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	chunkData, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		wsh.sendError(ws, "Invalid base64 data: "+err.Error(), "INVALID_DATA")
		return
	}

	wsh.sessionsMu.Lock()
	upload, exists := wsh.sessions[payload.UploadID]
	if !exists {
		wsh.sessionsMu.Unlock()
		wsh.sendError(ws, "Upload session not found: "+payload.UploadID, "SESSION_NOT_FOUND")
		return
	}
	if payload.ChunkIndex < 0 || payload.ChunkIndex >= upload.TotalChunks {
		wsh.sessionsMu.Unlock()
		wsh.sendError(ws, fmt.Sprintf("Chunk index %d out of range", payload.ChunkIndex), "INVALID_PAYLOAD")
		return
	}
	size := upload.Size - int64(len(upload.Chunks[payload.ChunkIndex])) + int64(len(chunkData))
	if limit := wsh.store.MaxSize(); limit > 0 && size > limit {
		delete(wsh.sessions, payload.UploadID)
		wsh.sessionsMu.Unlock()
		wsh.logger.Warn("ws.upload.too_large", "upload_id", payload.UploadID, "bytes", size, "max", limit)
		wsh.sendError(ws, fmt.Sprintf("File exceeds maximum upload size of %d bytes", limit), "PAYLOAD_TOO_LARGE")
		return
	}
	upload.ReceivedChunks[payload.ChunkIndex] = true
	upload.Chunks[payload.ChunkIndex] = chunkData
	upload.Size = size
	received := len(upload.ReceivedChunks)
	total := upload.TotalChunks
	wsh.sessionsMu.Unlock()

	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeAck,
		ID:        payload.UploadID,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSProgressResponse{
			Type:     MsgTypeAck,
			UploadID: payload.UploadID,
			Progress: float64(received) / float64(total) * 100,
			Stage:    "uploading",
			Message:  fmt.Sprintf("Received chunk %d/%d", received, total),
		}),
	})
}

func (wsh *WebSocketHandler) handleUploadComplete(ws *websocket.Conn, msg WSMessage) {
	var payload UploadCompletePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, "Invalid complete payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	wsh.sessionsMu.Lock()
	upload, exists := wsh.sessions[payload.UploadID]
	if exists && len(upload.ReceivedChunks) == upload.TotalChunks {
		delete(wsh.sessions, payload.UploadID)
	}
	wsh.sessionsMu.Unlock()

	if !exists {
		wsh.sendError(ws, "Upload session not found: "+payload.UploadID, "SESSION_NOT_FOUND")
		return
	}
	if len(upload.ReceivedChunks) != upload.TotalChunks {
		wsh.sendError(ws, fmt.Sprintf("Missing chunks: got %d, expected %d",
			len(upload.ReceivedChunks), upload.TotalChunks), "INCOMPLETE_UPLOAD")
		return
	}

	wsh.sendProcessing(ws, payload.UploadID, 50, "assembling", "Assembling file chunks...")

	assembled := bytes.Join(upload.Chunks, nil)

	if upload.Encoding == "gzip" {
		wsh.sendProcessing(ws, payload.UploadID, 75, "decompressing", "Decompressing file...")
		decompressed, err := decompressGzip(assembled, wsh.store.MaxSize())
		if errors.Is(err, storage.ErrFileTooLarge) {
			wsh.sendError(ws, "Decompressed file exceeds maximum upload size", "PAYLOAD_TOO_LARGE")
			return
		}
		if err != nil {
			wsh.logger.Warn("ws.upload.decompress_failed", "upload_id", upload.ID, "error", err)
		} else {
			assembled = decompressed
		}
	}

	info, err := wsh.store.SaveBytes(upload.FileName, upload.MediaType, assembled)
	if errors.Is(err, storage.ErrFileTooLarge) {
		wsh.sendError(ws, "Failed to save file: "+err.Error(), "PAYLOAD_TOO_LARGE")
		return
	}
	if err != nil {
		wsh.sendError(ws, "Failed to save file: "+err.Error(), "SAVE_ERROR")
		return
	}

	resp := WSCompleteResponse{Type: MsgTypeComplete, UploadID: payload.UploadID, FileInfo: info}
	if upload.SessionID != "" && wsh.sessionMgr != nil {
		sess, err := wsh.sessionMgr.SelectFile(upload.SessionID, info)
		if err != nil {
			wsh.sendError(ws, "Failed to select file: "+err.Error(), "SELECT_ERROR")
			return
		}
		resp.Session = sess
	}

	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeComplete,
		ID:        payload.UploadID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(resp),
	})

	wsh.logger.Info("ws.upload.complete", "upload_id", upload.ID, "file_id", info.ID, "bytes", info.Size)
}

// CleanupStaleUploads drops unfinished uploads older than maxAge.
func (wsh *WebSocketHandler) CleanupStaleUploads(maxAge time.Duration) int {
	wsh.sessionsMu.Lock()
	defer wsh.sessionsMu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, u := range wsh.sessions {
		if u.CreatedAt.Before(cutoff) {
			delete(wsh.sessions, id)
			removed++
		}
	}
	return removed
}

// Helper methods

func (wsh *WebSocketHandler) sendProcessing(ws *websocket.Conn, uploadID string, progress float64, stage, message string) {
	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeProcessing,
		ID:        uploadID,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSProgressResponse{
			Type:     MsgTypeProcessing,
			UploadID: uploadID,
			Progress: progress,
			Stage:    stage,
			Message:  message,
		}),
	})
}

func (wsh *WebSocketHandler) sendMessage(ws *websocket.Conn, msg WSMessage) {
	if err := ws.WriteJSON(msg); err != nil {
		wsh.logger.Warn("ws.write_error", "type", msg.Type, "error", err)
	}
}

func (wsh *WebSocketHandler) sendError(ws *websocket.Conn, message, code string) {
	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeError,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSErrorResponse{
			Type:    MsgTypeError,
			Message: message,
			Code:    code,
		}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// decompressGzip inflates data, refusing output larger than limit when limit > 0.
func decompressGzip(data []byte, limit int64) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	if limit <= 0 {
		return io.ReadAll(reader)
	}
	out, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes after decompression", storage.ErrFileTooLarge, limit)
	}
	return out, nil
}
