package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/campaign-lens/backend/internal/archive"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the most recent archived analyses",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", archive.DefaultRecentLimit, "Number of reports to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := archive.Open(cfg.GetArchivePath(), archive.Options{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer store.Close()

	list, err := store.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAMPAIGN\tFILE\tKPIS\tCREATED")
	for _, r := range list {
		created := time.UnixMilli(r.CreatedAt).Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.CampaignTitle, r.FileName, r.KPICount, created)
	}
	return w.Flush()
}
