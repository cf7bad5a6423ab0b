// routes.go - Route registration helpers
package api

import (
	"log/slog"

	"github.com/campaign-lens/backend/internal/storage"
	"github.com/campaign-lens/backend/internal/upload"
	"github.com/labstack/echo/v4"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store      storage.Store
	SessionMgr SessionManager
	UploadMgr  *upload.Manager
	Archive    ReportArchive // nil disables the /reports routes
	Filter     FileFilter
	Version    string
	Provider   string
	Logger     *slog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Upload    UploadHandler
	Session   SessionHandler
	Report    ReportHandler
	WebSocket *WebSocketHandler
}

// RouteOptions toggles optional routes.
type RouteOptions struct {
	AllowFileDeletion bool
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Provider, deps.Archive != nil),
		Upload:    NewUploadHandler(deps.Store, deps.SessionMgr, deps.UploadMgr, deps.Filter, deps.Logger),
		Session:   NewSessionHandler(deps.Store, deps.SessionMgr, deps.Filter, deps.Logger),
		Report:    NewReportHandler(deps.Archive),
		WebSocket: NewWebSocketHandler(deps.Store, deps.SessionMgr, deps.Filter, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers, opts RouteOptions) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// WebSocket upload endpoint
	apiGroup.GET("/ws/uploads", handlers.WebSocket.HandleWebSocket)

	// File management
	files := apiGroup.Group("/files")
	files.POST("/upload", handlers.Upload.HandleUploadFile)
	files.POST("/upload/binary", handlers.Upload.HandleUploadBinary)
	files.POST("/upload/chunk", handlers.Upload.HandleUploadChunk)
	files.POST("/upload/complete", handlers.Upload.HandleCompleteUpload)
	files.GET("/upload/:jobId", handlers.Upload.HandleUploadJobStatus)
	files.GET("/recent", handlers.Upload.HandleGetRecentFiles)
	files.GET("/:id", handlers.Upload.HandleGetFile)
	if opts.AllowFileDeletion {
		files.DELETE("/:id", handlers.Upload.HandleDeleteFile)
	}

	// Analysis sessions
	sessions := apiGroup.Group("/sessions")
	sessions.POST("", handlers.Session.HandleCreateSession)
	sessions.GET("/:id", handlers.Session.HandleGetSession)
	sessions.POST("/:id/file", handlers.Session.HandleSessionUpload)
	sessions.POST("/:id/select", handlers.Session.HandleSelectFile)
	sessions.POST("/:id/generate", handlers.Session.HandleGenerate)
	sessions.GET("/:id/progress", handlers.Session.HandleSessionProgressStream)
	sessions.POST("/:id/keepalive", handlers.Session.HandleSessionKeepAlive)
	sessions.GET("/:id/report.xlsx", handlers.Session.HandleSessionReportXLSX)

	// Report archive
	reports := apiGroup.Group("/reports")
	reports.GET("", handlers.Report.HandleRecentReports)
	reports.GET("/:id", handlers.Report.HandleGetReport)
	reports.GET("/:id/export.xlsx", handlers.Report.HandleExportReport)
}
