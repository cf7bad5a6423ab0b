// Package web serves the embedded dashboard that drives the analysis API.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
)

//go:embed dist/*
var staticFiles embed.FS

// IndexFile is the dashboard entry point served for any unknown non-API path.
const IndexFile = "index.html"

// GetFileSystem returns the embedded filesystem rooted at dist.
func GetFileSystem() (fs.FS, error) {
	return fs.Sub(staticFiles, "dist")
}

// RegisterStaticRoutes mounts the dashboard on e. API routes must be
// registered first; anything under /api/ that reaches this handler is a 404.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := GetFileSystem()
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	e.GET("/*", func(c echo.Context) error {
		requestPath := path.Clean("/" + c.Request().URL.Path)
		if strings.HasPrefix(requestPath, "/api/") || requestPath == "/api" {
			return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
		}

		name := strings.TrimPrefix(requestPath, "/")
		if name == "" || !isRegularFile(staticFS, name) {
			return serveIndex(c, staticFS)
		}

		fileServer.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	return nil
}

func isRegularFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}

func serveIndex(c echo.Context, staticFS fs.FS) error {
	content, err := fs.ReadFile(staticFS, IndexFile)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "dashboard not embedded")
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.HTMLBlob(http.StatusOK, content)
}

// HasEmbeddedFiles reports whether dist contains the dashboard entry point.
func HasEmbeddedFiles() bool {
	_, err := fs.Stat(staticFiles, path.Join("dist", IndexFile))
	return err == nil
}
