package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/campaign-lens/backend/internal/archive"
	"github.com/campaign-lens/backend/internal/export"
	"github.com/campaign-lens/backend/internal/extract"
	"github.com/campaign-lens/backend/internal/llm"
	"github.com/campaign-lens/backend/internal/models"
	"github.com/campaign-lens/backend/internal/report"
	"github.com/spf13/cobra"
)

var (
	reportFilePath  string
	reportMediaType string
	reportFormat    string
	reportOutPath   string
	reportArchive   bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a structured analysis of a campaign report",
	Long: `Extract the text of a campaign report and ask the configured model for the
structured analysis: title, summary, KPIs, positive insights, areas for
improvement and recommendations. Output is JSON (default) or an Excel workbook.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportFilePath, "file", "f", "", "Path to the report file (required)")
	reportCmd.Flags().StringVar(&reportMediaType, "media-type", "", "Declared media type (derived from the extension when empty)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json or xlsx")
	reportCmd.Flags().StringVarP(&reportOutPath, "out", "o", "", "Output file (stdout for json when empty)")
	reportCmd.Flags().BoolVar(&reportArchive, "archive", false, "Also store the result in the report archive")
	reportCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(reportFormat)
	if format != "json" && format != "xlsx" {
		return fmt.Errorf("unsupported format %q (use json or xlsx)", reportFormat)
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	provider, err := llm.NewProvider(cfg.ProviderConfig(), logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	text, err := extractFile(ctx, extract.NewRegistry(logger), reportFilePath, reportMediaType)
	if err != nil {
		return err
	}

	generator := report.NewGenerator(provider, cfg.GenerationTimeout(), logger)
	data, err := generator.Generate(ctx, text)
	if err != nil {
		// Provider details stay in the log; --verbose shows them.
		logger.Debug("analyze.generate_failed", "error", err)
		var genErr *report.GenerationError
		if errors.As(err, &genErr) {
			return errors.New(genErr.UserMessage())
		}
		return errors.New(report.MsgGenerationFailed)
	}

	if reportArchive {
		if err := archiveReport(cmd, cfg.GetArchivePath(), data); err != nil {
			logger.Warn("analyze.archive", "error", err)
		}
	}

	switch format {
	case "xlsx":
		out := reportOutPath
		if out == "" {
			base := filepath.Base(reportFilePath)
			out = strings.TrimSuffix(base, filepath.Ext(base)) + "-analisis.xlsx"
		}
		content, err := export.ReportXLSX(data)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, content, 0644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Reporte guardado en %s\n", out)
		return nil
	default:
		return writeJSON(cmd.OutOrStdout(), reportOutPath, data)
	}
}

func writeJSON(stdout io.Writer, path string, data *models.ReportData) error {
	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}

func archiveReport(cmd *cobra.Command, dbPath string, data *models.ReportData) error {
	store, err := archive.Open(dbPath, archive.Options{})
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Save(cmd.Context(), "cli", filepath.Base(reportFilePath), data)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Archivado como %s\n", id)
	return nil
}
