// handlers_session.go - Analysis session handlers
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/campaign-lens/backend/internal/export"
	"github.com/campaign-lens/backend/internal/models"
	"github.com/campaign-lens/backend/internal/session"
	"github.com/campaign-lens/backend/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEMsgpack is the content type for msgpack session snapshots.
const MIMEMsgpack = "application/msgpack"

// progressPollInterval is how often the SSE stream samples the session.
var progressPollInterval = 100 * time.Millisecond

// progressStreamTimeout bounds one SSE stream.
var progressStreamTimeout = 5 * time.Minute

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	store      storage.Store
	sessionMgr SessionManager
	filter     FileFilter
	logger     *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(store storage.Store, sessionMgr SessionManager, filter FileFilter, logger *slog.Logger) SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandlerImpl{
		store:      store,
		sessionMgr: sessionMgr,
		filter:     filter,
		logger:     logger,
	}
}

// HandleCreateSession starts an idle session
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	return c.JSON(http.StatusCreated, h.sessionMgr.Create())
}

// HandleGetSession returns the session snapshot as JSON or msgpack
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.sessionMgr.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEMsgpack) {
		data, err := msgpack.Marshal(sess)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, MIMEMsgpack, data)
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleSessionUpload stores a multipart file and selects it into the session
func (h *SessionHandlerImpl) HandleSessionUpload(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.sessionMgr.Get(id); !ok {
		return NewNotFoundError("session", id)
	}

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

	info, err := h.store.Save(file.Filename, file.Header.Get(echo.HeaderContentType), src)
	if err != nil {
		return storeError(err)
	}

	sess, err := h.sessionMgr.SelectFile(id, info)
	if err != nil {
		return sessionError(id, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleSelectFile selects an already uploaded file
func (h *SessionHandlerImpl) HandleSelectFile(c echo.Context) error {
	id := c.Param("id")

	var req selectFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.FileID == "" {
		return NewValidationError("fileId")
	}

	info, err := h.store.Get(req.FileID)
	if err != nil {
		return NewNotFoundError("file", req.FileID)
	}

	sess, err := h.sessionMgr.SelectFile(id, info)
	if err != nil {
		return sessionError(id, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleGenerate starts the analysis of the selected file
func (h *SessionHandlerImpl) HandleGenerate(c echo.Context) error {
	id := c.Param("id")

	sess, err := h.sessionMgr.Generate(id)
	if err != nil {
		return sessionError(id, err)
	}
	return c.JSON(http.StatusAccepted, sess)
}

// HandleSessionProgressStream streams session snapshots via SSE until the
// current run settles.
func (h *SessionHandlerImpl) HandleSessionProgressStream(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	sess, ok := h.sessionMgr.Get(id)
	if !ok {
		h.sendSSEError(c, "session not found")
		return nil
	}

	last := h.sendSSEData(c, sess)
	if !sess.State.InFlight() {
		return nil
	}

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(progressStreamTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil

		case <-ticker.C:
			sess, ok := h.sessionMgr.Get(id)
			if !ok {
				h.sendSSEError(c, "session not found")
				return nil
			}

			data, _ := json.Marshal(sess)
			if !bytes.Equal(data, last) {
				last = h.sendSSEData(c, sess)
			}

			if !sess.State.InFlight() {
				return nil
			}

		case <-timeout.C:
			h.sendSSEError(c, "stream timeout")
			return nil
		}
	}
}

// HandleSessionKeepAlive refreshes the session's last access time
func (h *SessionHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.sessionMgr.Touch(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSessionReportXLSX downloads the session's report as a workbook
func (h *SessionHandlerImpl) HandleSessionReportXLSX(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.sessionMgr.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	if sess.State != models.SessionStateSuccess || sess.Report == nil {
		return NewConflictError("session has no report")
	}
	return sendXLSX(c, sess.Report, id)
}

func (h *SessionHandlerImpl) sendSSEData(c echo.Context, data interface{}) []byte {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
	return jsonData
}

func (h *SessionHandlerImpl) sendSSEError(c echo.Context, message string) {
	h.sendSSEData(c, map[string]string{"error": message})
}

// sessionError maps controller errors to API errors.
func sessionError(id string, err error) error {
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		return NewFieldError(verr.Field, verr.Message)
	case errors.Is(err, session.ErrSessionNotFound):
		return NewNotFoundError("session", id)
	case errors.Is(err, session.ErrBusy):
		return NewConflictError("analysis already in progress")
	default:
		return NewInternalError("session operation failed", err)
	}
}

func sendXLSX(c echo.Context, r *models.ReportData, id string) error {
	data, err := export.ReportXLSX(r)
	if err != nil {
		return NewInternalError("failed to build workbook", err)
	}
	name := "reporte-" + id
	if len(id) > 8 {
		name = "reporte-" + id[:8]
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.xlsx"`, name))
	return c.Blob(http.StatusOK, export.ContentType, data)
}

type selectFileRequest struct {
	FileID string `json:"fileId"`
}
