// Package archive persists generated reports in a DuckDB file.
package archive

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/campaign-lens/backend/internal/models"
	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"
)

// DefaultRecentLimit caps Recent when no limit is given.
const DefaultRecentLimit = 20

var ErrNotFound = errors.New("report not found")

// Options tunes the DuckDB connection.
type Options struct {
	Threads     int    // PRAGMA threads; 0 leaves the default
	MemoryLimit string // PRAGMA memory_limit, e.g. "512MB"
	Logger      *slog.Logger
}

// Record is one archived report with its listing metadata.
type Record struct {
	Summary models.ReportSummary `json:"summary"`
	Report  *models.ReportData   `json:"report"`
}

// DuckStore stores reports and their KPIs in a DuckDB database file.
type DuckStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // serializes writes
	logger *slog.Logger
}

// Open opens or creates the archive at dbPath.
func Open(dbPath string, opts Options) (*DuckStore, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	pragmas := []string{"PRAGMA enable_progress_bar=false"}
	if opts.MemoryLimit != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit))
	}
	if opts.Threads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", opts.Threads))
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create archive schema: %w", err)
		}
	}

	opts.Logger.Info("archive.open", "path", dbPath)
	return &DuckStore{db: db, dbPath: dbPath, logger: opts.Logger}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reports (
		id                         VARCHAR PRIMARY KEY,
		session_id                 VARCHAR NOT NULL,
		file_name                  VARCHAR NOT NULL,
		campaign_title             VARCHAR NOT NULL,
		summary                    VARCHAR NOT NULL,
		positive_insights          VARCHAR NOT NULL,
		areas_for_improvement      VARCHAR NOT NULL,
		actionable_recommendations VARCHAR NOT NULL,
		created_at                 BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kpis (
		report_id      VARCHAR NOT NULL,
		position       INTEGER NOT NULL,
		name           VARCHAR NOT NULL,
		value          VARCHAR NOT NULL,
		interpretation VARCHAR NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kpis_report ON kpis(report_id)`,
}

// Save stores r and returns its archive ID.
func (ds *DuckStore) Save(ctx context.Context, sessionID, fileName string, r *models.ReportData) (string, error) {
	if r == nil {
		return "", errors.New("nil report")
	}

	positive, err := json.Marshal(nonNil(r.PositiveInsights))
	if err != nil {
		return "", err
	}
	areas, err := json.Marshal(nonNil(r.AreasForImprovement))
	if err != nil {
		return "", err
	}
	recs, err := json.Marshal(nonNil(r.ActionableRecommendations))
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	created := time.Now().UnixMilli()

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if _, err := ds.db.ExecContext(ctx,
		`INSERT INTO reports VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, fileName, r.CampaignTitle, r.Summary,
		string(positive), string(areas), string(recs), created,
	); err != nil {
		return "", fmt.Errorf("inserting report: %w", err)
	}

	if err := ds.appendKPIs(ctx, id, r.KPIs); err != nil {
		// No report row may outlive a failed KPI write.
		if rbErr := ds.rollback(ctx, id); rbErr != nil {
			return "", errors.Join(err, rbErr)
		}
		return "", err
	}

	ds.logger.Info("archive.save", "report_id", id, "session_id", sessionID, "kpis", len(r.KPIs))
	return id, nil
}

// rollback removes a partially written report. Callers hold ds.mu.
func (ds *DuckStore) rollback(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	if err := ds.deleteRows(ctx, id); err != nil {
		ds.logger.Error("archive.rollback_failed", "report_id", id, "error", err)
		return fmt.Errorf("rolling back report %s: %w", id, err)
	}
	return nil
}

// deleteRows removes a report and its KPIs. A missing report is ErrNotFound.
func (ds *DuckStore) deleteRows(ctx context.Context, id string) error {
	if _, err := ds.db.ExecContext(ctx, `DELETE FROM kpis WHERE report_id = ?`, id); err != nil {
		return fmt.Errorf("deleting kpis: %w", err)
	}
	res, err := ds.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes an archived report and its KPIs.
func (ds *DuckStore) Delete(ctx context.Context, id string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if err := ds.deleteRows(ctx, id); err != nil {
		return err
	}
	ds.logger.Info("archive.delete", "report_id", id)
	return nil
}

// appendKPIs writes KPI rows with the native Appender API.
func (ds *DuckStore) appendKPIs(ctx context.Context, reportID string, kpis []models.KPI) error {
	if len(kpis) == 0 {
		return nil
	}

	conn, err := ds.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "kpis")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, k := range kpis {
			if err := appender.AppendRow(reportID, int32(i), k.Name, k.Value, k.Interpretation); err != nil {
				return fmt.Errorf("failed to append kpi %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}
	return nil
}

// Get loads one archived report.
func (ds *DuckStore) Get(ctx context.Context, id string) (*Record, error) {
	row := ds.db.QueryRowContext(ctx, `
		SELECT r.id, r.session_id, r.file_name, r.campaign_title, r.summary,
		       r.positive_insights, r.areas_for_improvement, r.actionable_recommendations,
		       r.created_at
		FROM reports r
		WHERE r.id = ?`, id)

	var (
		rec                   Record
		rep                   models.ReportData
		positive, areas, recs string
	)
	err := row.Scan(&rec.Summary.ID, &rec.Summary.SessionID, &rec.Summary.FileName,
		&rep.CampaignTitle, &rep.Summary, &positive, &areas, &recs, &rec.Summary.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying report: %w", err)
	}

	for _, f := range []struct {
		src string
		dst *[]string
	}{
		{positive, &rep.PositiveInsights},
		{areas, &rep.AreasForImprovement},
		{recs, &rep.ActionableRecommendations},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decoding report %s: %w", id, err)
		}
	}

	rows, err := ds.db.QueryContext(ctx,
		`SELECT name, value, interpretation FROM kpis WHERE report_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying kpis: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k models.KPI
		if err := rows.Scan(&k.Name, &k.Value, &k.Interpretation); err != nil {
			return nil, fmt.Errorf("scanning kpi: %w", err)
		}
		rep.KPIs = append(rep.KPIs, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rec.Summary.CampaignTitle = rep.CampaignTitle
	rec.Summary.KPICount = len(rep.KPIs)
	rec.Report = &rep
	return &rec, nil
}

// Recent lists the newest reports first. A non-positive limit uses DefaultRecentLimit.
func (ds *DuckStore) Recent(ctx context.Context, limit int) ([]models.ReportSummary, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := ds.db.QueryContext(ctx, `
		SELECT r.id, r.session_id, r.file_name, r.campaign_title, r.created_at,
		       (SELECT COUNT(*) FROM kpis k WHERE k.report_id = r.id) AS kpi_count
		FROM reports r
		ORDER BY r.created_at DESC, r.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	out := make([]models.ReportSummary, 0, limit)
	for rows.Next() {
		var s models.ReportSummary
		var count int64
		if err := rows.Scan(&s.ID, &s.SessionID, &s.FileName, &s.CampaignTitle, &s.CreatedAt, &count); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		s.KPICount = int(count)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Path returns the database file location.
func (ds *DuckStore) Path() string {
	return ds.dbPath
}

// Close closes the database.
func (ds *DuckStore) Close() error {
	return ds.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
