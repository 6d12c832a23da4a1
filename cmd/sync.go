package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/licitabr/pncp-mirror/internal/config"
	"github.com/licitabr/pncp-mirror/internal/ingest"
)

const cliDateLayout = "2006-01-02"

type syncFlags struct {
	start        string
	end          string
	test         string
	workers      int
	pageSize     int
	refreshItems bool
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the incremental ingestion pipeline",
	}
	cmd.AddCommand(newSyncDatasetCmd("notices", "Sync procurement notices and their line items"))
	cmd.AddCommand(newSyncDatasetCmd("plans", "Sync annual planning entries (PCA) and their line items"))
	return cmd
}

func newSyncDatasetCmd(dataset, short string) *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   dataset,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, dataset, flags)
		},
	}
	cmd.Flags().StringVar(&flags.start, "start", "", "explicit window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.end, "end", "", "explicit window end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.test, "test", "", "process exactly one date, bypassing the checkpoint short-circuit")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "override partition worker pool size")
	cmd.Flags().IntVar(&flags.pageSize, "page-size", 0, "override upstream page size")
	cmd.Flags().BoolVar(&flags.refreshItems, "refresh-items", false, "re-check dependent records even when nothing new was written")
	return cmd
}

func runSync(cmd *cobra.Command, dataset string, flags *syncFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flags.workers > 0 {
		cfg.Sync.Workers = flags.workers
	}
	if flags.pageSize > 0 {
		cfg.Sync.PageSize = flags.pageSize
	}

	start, err := parseDateFlag(flags.start, "--start")
	if err != nil {
		return err
	}
	end, err := parseDateFlag(flags.end, "--end")
	if err != nil {
		return err
	}
	test, err := parseDateFlag(flags.test, "--test")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := newApp(ctx, cfg, trace)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer application.Close()

	deps := application.IngestDeps()
	opts := ingest.Options{
		Workers:      cfg.Sync.Workers,
		PageSize:     cfg.Sync.PageSize,
		ParseRetries: cfg.Sync.ParseRetries,
		Modalities:   cfg.Sync.Modalities,
		ItemChunk:    cfg.Sync.ItemChunkSize,
		ForceItems:   flags.refreshItems,
	}

	var ds ingest.Dataset
	switch dataset {
	case "notices":
		ds = ingest.NewNoticesSyncer(deps, opts)
	case "plans":
		ds = ingest.NewPlansSyncer(deps, opts)
	default:
		return fmt.Errorf("unknown dataset %q", dataset)
	}

	summary, err := ingest.NewOrchestrator(deps, opts, ds).Run(ctx, start, end, test)
	if err != nil {
		return err
	}
	if summary.AllFailed() {
		return fmt.Errorf("all %d dates failed; see skip log and logs", len(summary.Dates))
	}
	return nil
}

func parseDateFlag(value, name string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(cliDateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("%s: want YYYY-MM-DD, got %q", name, value)
	}
	return &t, nil
}
