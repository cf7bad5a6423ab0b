// handlers_report.go - Archived report handlers
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/campaign-lens/backend/internal/archive"
	"github.com/labstack/echo/v4"
)

// ReportHandlerImpl implements the ReportHandler interface
type ReportHandlerImpl struct {
	archive ReportArchive
}

// NewReportHandler creates a report handler. archive may be nil when the
// archive is disabled; every route then answers 503.
func NewReportHandler(a ReportArchive) ReportHandler {
	return &ReportHandlerImpl{archive: a}
}

// HandleRecentReports lists the newest archived reports
func (h *ReportHandlerImpl) HandleRecentReports(c echo.Context) error {
	if h.archive == nil {
		return NewServiceUnavailableError("report archive is disabled")
	}

	limit := archive.DefaultRecentLimit
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			return NewValidationError("limit")
		}
		limit = n
	}

	list, err := h.archive.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to list reports", err)
	}
	return c.JSON(http.StatusOK, list)
}

// HandleGetReport returns one archived report
func (h *ReportHandlerImpl) HandleGetReport(c echo.Context) error {
	rec, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleExportReport downloads an archived report as a workbook
func (h *ReportHandlerImpl) HandleExportReport(c echo.Context) error {
	rec, err := h.lookup(c)
	if err != nil {
		return err
	}
	return sendXLSX(c, rec.Report, rec.Summary.ID)
}

func (h *ReportHandlerImpl) lookup(c echo.Context) (*archive.Record, error) {
	if h.archive == nil {
		return nil, NewServiceUnavailableError("report archive is disabled")
	}
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}

	rec, err := h.archive.Get(c.Request().Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, NewNotFoundError("report", id)
	}
	if err != nil {
		return nil, NewInternalError("failed to load report", err)
	}
	return rec, nil
}
