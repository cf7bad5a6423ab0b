// handlers_upload.go - File upload operation handlers
package api

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/campaign-lens/backend/internal/storage"
	"github.com/campaign-lens/backend/internal/upload"
	"github.com/labstack/echo/v4"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store         storage.Store
	sessionMgr    SessionManager
	uploadManager *upload.Manager
	filter        FileFilter
	logger        *slog.Logger
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(store storage.Store, sessionMgr SessionManager, uploadMgr *upload.Manager, filter FileFilter, logger *slog.Logger) UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandlerImpl{
		store:         store,
		sessionMgr:    sessionMgr,
		uploadManager: uploadMgr,
		filter:        filter,
		logger:        logger,
	}
}

// HandleUploadFile accepts a file as base64 JSON and saves it to storage
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	var req uploadFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}
	if err := h.filter.Check(req.Name); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	info, err := h.store.SaveBytes(req.Name, req.MediaType, decoded)
	if err != nil {
		return storeError(err)
	}

	h.logger.Info("files.upload", "file_id", info.ID, "name", info.Name, "bytes", info.Size)
	return c.JSON(http.StatusCreated, info)
}

// HandleUploadChunk accepts a single chunk of a chunked upload
func (h *UploadHandlerImpl) HandleUploadChunk(c echo.Context) error {
	var req uploadChunkRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	if err := h.store.SaveChunkBytes(req.UploadID, req.ChunkIndex, decoded); err != nil {
		return storeError(err)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload completes a chunked upload and starts async processing
func (h *UploadHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}
	if err := h.filter.Check(req.Name); err != nil {
		return err
	}
	if req.SessionID != "" && h.sessionMgr != nil {
		if _, ok := h.sessionMgr.Get(req.SessionID); !ok {
			return NewNotFoundError("session", req.SessionID)
		}
	}

	job := h.uploadManager.StartJob(upload.Request{
		UploadID:       req.UploadID,
		FileName:       req.Name,
		MediaType:      req.MediaType,
		SessionID:      req.SessionID,
		TotalChunks:    req.TotalChunks,
		OriginalSize:   req.OriginalSize,
		CompressedSize: req.CompressedSize,
		Encoding:       req.Encoding,
	})

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

// HandleUploadJobStatus returns the state of a chunked upload job
func (h *UploadHandlerImpl) HandleUploadJobStatus(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}

	job, ok := h.uploadManager.GetJob(id)
	if !ok {
		return NewNotFoundError("upload job", id)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleUploadBinary accepts raw binary file upload (multipart/form-data)
func (h *UploadHandlerImpl) HandleUploadBinary(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	if err := h.filter.Check(file.Filename); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, file.Header.Get("Content-Type"), src)
	if err != nil {
		return storeError(err)
	}

	h.logger.Info("files.upload", "file_id", info.ID, "name", info.Name, "bytes", info.Size)
	return c.JSON(http.StatusCreated, info)
}

// HandleGetRecentFiles returns a list of recently uploaded report files
func (h *UploadHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	files, err := h.store.List(20)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *UploadHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a file and detaches it from sessions
func (h *UploadHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return NewNotFoundError("file", id)
	}

	if h.sessionMgr != nil {
		h.sessionMgr.ForgetFile(id)
	}

	return c.NoContent(http.StatusNoContent)
}

// storeError maps storage failures to API errors.
func storeError(err error) error {
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		return NewPayloadTooLargeError("file exceeds maximum upload size")
	case errors.Is(err, storage.ErrInvalidID):
		return NewBadRequestError("invalid upload id", err)
	default:
		return NewInternalError("failed to save file", err)
	}
}

// Request/Response types

type uploadFileRequest struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Data      string `json:"data"` // Base64-encoded content
}

func (r *uploadFileRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type uploadChunkRequest struct {
	UploadID    string `json:"uploadId"`
	ChunkIndex  int    `json:"chunkIndex"`
	Data        string `json:"data"` // Base64-encoded chunk
	TotalChunks int    `json:"totalChunks"`
	Compressed  bool   `json:"compressed"`
}

func (r *uploadChunkRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	if r.ChunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}
	return nil
}

type completeUploadRequest struct {
	UploadID       string `json:"uploadId"`
	Name           string `json:"name"`
	MediaType      string `json:"mediaType"`
	SessionID      string `json:"sessionId"`
	TotalChunks    int    `json:"totalChunks"`
	OriginalSize   int64  `json:"originalSize"`
	CompressedSize int64  `json:"compressedSize"`
	Encoding       string `json:"encoding"`
}

func (r *completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	return nil
}
