package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/campaign-lens/backend/internal/api"
	"github.com/campaign-lens/backend/internal/archive"
	"github.com/campaign-lens/backend/internal/config"
	"github.com/campaign-lens/backend/internal/extract"
	"github.com/campaign-lens/backend/internal/llm"
	"github.com/campaign-lens/backend/internal/report"
	"github.com/campaign-lens/backend/internal/session"
	"github.com/campaign-lens/backend/internal/storage"
	"github.com/campaign-lens/backend/internal/upload"
	"github.com/campaign-lens/backend/internal/web"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Config lives next to the executable unless overridden
	configPath := os.Getenv("CAMPAIGN_LENS_CONFIG")
	if configPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			fmt.Printf("Failed to get executable path: %v\n", err)
			os.Exit(1)
		}
		configPath = filepath.Join(filepath.Dir(exePath), config.FileName)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Printf("Invalid configuration (%s): %s\n", cfgErr.Field, cfgErr.Message)
		} else {
			fmt.Printf("Invalid configuration: %v\n", err)
		}
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Error("server.directories", "error", err)
		os.Exit(1)
	}

	embeddedMode := web.HasEmbeddedFiles()

	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir(), cfg.MaxUploadBytes())
	if err != nil {
		logger.Error("server.storage", "error", err)
		os.Exit(1)
	}

	provider, err := llm.NewProvider(cfg.ProviderConfig(), logger)
	if err != nil {
		logger.Error("server.provider", "error", err)
		os.Exit(1)
	}
	generator := report.NewGenerator(provider, cfg.GenerationTimeout(), logger)
	extractors := extract.NewRegistry(logger)

	// The archive is optional; analysis keeps working without it
	sessionOpts := session.Options{
		MaxSessions: cfg.Processing.MaxSessions,
		Logger:      logger,
	}
	deps := &api.Dependencies{
		Store:    fileStore,
		Filter:   api.FileFilter{Allowed: cfg.AllowedExtensions()},
		Version:  Version,
		Provider: provider.Name(),
		Logger:   logger,
	}
	reportArchive, err := archive.Open(cfg.GetArchivePath(), archive.Options{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
		Logger:      logger,
	})
	if err != nil {
		logger.Warn("server.archive.disabled", "path", cfg.GetArchivePath(), "error", err)
	} else {
		sessionOpts.Archive = reportArchive
		deps.Archive = reportArchive
	}

	sessionMgr := session.NewManager(fileStore, extractors, generator, sessionOpts)
	uploadMgr := upload.NewManager(fileStore, sessionMgr, logger)
	deps.SessionMgr = sessionMgr
	deps.UploadMgr = uploadMgr

	handlers := api.NewHandlers(deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background cleanup of idle sessions, finished jobs and abandoned ws uploads
	go func() {
		interval := time.Duration(cfg.Processing.CleanupIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		maxAge := time.Duration(cfg.Processing.SessionTimeoutMinutes) * time.Minute
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessions := sessionMgr.CleanupOldSessions(maxAge)
				jobs := uploadMgr.CleanupOldJobs(maxAge)
				stale := handlers.WebSocket.CleanupStaleUploads(maxAge)
				if sessions+jobs+stale > 0 {
					logger.Info("server.cleanup", "sessions", sessions, "jobs", jobs, "ws_uploads", stale)
				}
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.NewErrorHandler(logger, Version == "dev")

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/progress") ||
				strings.HasSuffix(path, "/keepalive") ||
				path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/progress") ||
				strings.Contains(path, "/upload") ||
				strings.Contains(path, "/ws/") ||
				strings.HasSuffix(path, "/file") ||
				c.Request().Header.Get("Accept") == "text/event-stream"
		},
		ErrorMessage: "Request timeout",
	}))

	if cfg.Processing.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Processing.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return c.Request().Header.Get("Accept") == "text/event-stream" ||
					strings.Contains(c.Request().URL.Path, "/ws/")
			},
		}))
	}

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		if embeddedMode {
			origins := strings.Split(cfg.Server.AllowOrigins, ",")
			for i := range origins {
				origins[i] = strings.TrimSpace(origins[i])
			}
			if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
				origins = []string{"*"}
			}
			e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
				AllowOrigins: origins,
				AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
				AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			}))
		} else {
			// Development mode - only allow localhost
			e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
				AllowOrigins: []string{
					"http://localhost:5173", "http://127.0.0.1:5173",
					"http://localhost:3000", "http://127.0.0.1:3000",
				},
				AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
				AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			}))
		}
	}

	api.RegisterRoutes(e, handlers, api.RouteOptions{
		AllowFileDeletion: cfg.Security.AllowFileDeletion,
	})

	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn("server.static", "error", err)
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	archiveLine := "disabled"
	if reportArchive != nil {
		archiveLine = reportArchive.Path()
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Campaign Lens Server                            ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Provider:   %-45s║\n", provider.Name())
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("║  Archive:   %-46s║\n", archiveLine)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	if embeddedMode {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server.listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.shutdown.http", "error", err)
	}
	if err := sessionMgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.shutdown.sessions", "error", err)
	}
	uploadMgr.Wait()
	if reportArchive != nil {
		if err := reportArchive.Close(); err != nil {
			logger.Warn("server.shutdown.archive", "error", err)
		}
	}
}
