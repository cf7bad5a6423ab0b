package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/campaign-lens/backend/internal/extract"
	"github.com/campaign-lens/backend/internal/models"
	"github.com/spf13/cobra"
)

var (
	extractFilePath  string
	extractMediaType string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Print the text extracted from a campaign report",
	Long:  "Extract the plain text of a PDF, CSV or TXT file exactly as it would be sent to the model.",
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractFilePath, "file", "f", "", "Path to the report file (required)")
	extractCmd.Flags().StringVar(&extractMediaType, "media-type", "", "Declared media type (derived from the extension when empty)")
	extractCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	_, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	text, err := extractFile(ctx, extract.NewRegistry(logger), extractFilePath, extractMediaType)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

// extractFile loads path and runs it through the extractor registry.
func extractFile(ctx context.Context, registry *extract.Registry, path, mediaType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	name := filepath.Base(path)
	file := &models.FileInfo{
		ID:        name,
		Name:      name,
		MediaType: models.DetectMediaType(mediaType, name),
		Size:      int64(len(data)),
	}

	text, err := registry.Extract(ctx, file, data)
	if err != nil {
		var extractErr *extract.ExtractionError
		if errors.As(err, &extractErr) {
			return "", errors.New(extractErr.Message)
		}
		return "", err
	}
	return text, nil
}
