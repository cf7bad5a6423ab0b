// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/campaign-lens/backend/internal/archive"
	"github.com/campaign-lens/backend/internal/models"
	"github.com/labstack/echo/v4"
)

// UploadHandler handles file upload operations
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadBinary(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleUploadJobStatus(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
}

// SessionHandler handles analysis session operations
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleSessionUpload(c echo.Context) error
	HandleSelectFile(c echo.Context) error
	HandleGenerate(c echo.Context) error
	HandleSessionProgressStream(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleSessionReportXLSX(c echo.Context) error
}

// ReportHandler handles archived report operations
type ReportHandler interface {
	HandleRecentReports(c echo.Context) error
	HandleGetReport(c echo.Context) error
	HandleExportReport(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Create() *models.AnalysisSession
	Get(id string) (*models.AnalysisSession, bool)
	Touch(id string) bool
	SelectFile(id string, file *models.FileInfo) (*models.AnalysisSession, error)
	Generate(id string) (*models.AnalysisSession, error)
	ForgetFile(fileID string)
}

// ReportArchive is the read side of the report archive.
type ReportArchive interface {
	Get(ctx context.Context, id string) (*archive.Record, error)
	Recent(ctx context.Context, limit int) ([]models.ReportSummary, error)
}
