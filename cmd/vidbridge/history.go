package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/mscrnt/vidbridge/pkg/db"
	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	exportLimit    int
	historyTrigger string
	historyApplied string
	historyFailed  bool
	historySince   time.Duration
	exportFormat   string
	exportOutput   string
	pruneOlderThan time.Duration
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded retimes and preset changes",
	}

	cmd.AddCommand(historyListCmd())
	cmd.AddCommand(historyShowCmd())
	cmd.AddCommand(historyExportCmd())
	cmd.AddCommand(historyPruneCmd())
	cmd.AddCommand(historyStatsCmd())
	return cmd
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&historyTrigger, "trigger", "", "Filter by trigger (edge, manual, preset)")
	cmd.Flags().StringVar(&historyApplied, "applied", "", "Filter by applied strategy")
	cmd.Flags().BoolVar(&historyFailed, "failed", false, "Only show probes whose sync timed out")
	cmd.Flags().DurationVar(&historySince, "since", 0, "Only show probes newer than this")
}

func probeFilter(cmd *cobra.Command, limit int) db.ProbeFilter {
	filter := db.ProbeFilter{
		Trigger: historyTrigger,
		Applied: historyApplied,
		Limit:   limit,
	}
	if cmd.Flags().Changed("failed") {
		failed := historyFailed
		filter.Failed = &failed
	}
	if historySince > 0 {
		since := time.Now().Add(-historySince)
		filter.Since = &since
	}
	return filter
}

func historyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded probes, newest first",
		Long: `List recorded probes, newest first.

Examples:
  # Last 20 probes
  vidbridge history list --limit 20

  # Syncs that timed out in the last day
  vidbridge history list --failed --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			probes, err := database.ListProbes(probeFilter(cmd, historyLimit))
			if err != nil {
				return fmt.Errorf("failed to list probes: %w", err)
			}
			if len(probes) == 0 {
				fmt.Println("No probes found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tTRIGGER\tSOURCE\tAPPLIED\tOUTPUT\tSYNC")
			for _, p := range probes {
				source := "-"
				if p.Source != nil {
					source = fmt.Sprintf("%dx%dx%d", p.XRes, p.YRes, 1<<(p.BppLog2&7))
				}
				applied := p.Applied
				if p.PresetID != nil {
					applied = "preset " + strconv.Itoa(*p.PresetID)
				}
				sync := "ok"
				if !p.Committed {
					sync = "timeout"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%dx%d\t%s\n",
					p.ID, p.Time.Format("2006-01-02 15:04:05"), p.Trigger, source, applied,
					p.Output.Uint("xres"), p.Output.Uint("yres"), sync)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of probes")
	addFilterFlags(cmd)
	return cmd
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one probe with the diagnostics raised while it ran",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid probe id %q", args[0])
			}

			database, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			return database.ExportJSON(os.Stdout, id)
		},
	}
}

func historyExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded probes",
		Long: `Export recorded probes as CSV or JSON.

Examples:
  # Everything as CSV
  vidbridge history export --format csv --out probes.csv

  # Last week's preset changes as JSON on stdout
  vidbridge history export --format json --trigger preset --since 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			out := os.Stdout
			if exportOutput != "" {
				out, err = os.Create(exportOutput) // #nosec G304 -- output path given on the command line
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() { _ = out.Close() }()
			}

			if err := database.Export(out, db.ExportFormat(exportFormat), probeFilter(cmd, exportLimit)); err != nil {
				return fmt.Errorf("failed to export: %w", err)
			}
			if exportOutput != "" {
				fmt.Printf("Exported probes to %s\n", exportOutput)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&exportFormat, "format", string(db.ExportFormatCSV), "Export format (csv, json)")
	cmd.Flags().StringVarP(&exportOutput, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().IntVar(&exportLimit, "limit", 0, "Maximum number of probes (0 for all)")
	addFilterFlags(cmd)
	return cmd
}

func historyPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete probes and diagnostics older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if pruneOlderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			database, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			n, err := database.Prune(time.Now().Add(-pruneOlderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d rows from %s\n", n, database.Path())
			return nil
		},
	}

	cmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Age of the rows to delete")
	return cmd
}

func historyStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count recorded retimes by applied strategy",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			database, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			counts, err := database.CountByMode()
			if err != nil {
				return err
			}
			modes := make([]string, 0, len(counts))
			for m := range counts {
				modes = append(modes, m)
			}
			sort.Strings(modes)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "APPLIED\tCOUNT")
			for _, m := range modes {
				fmt.Fprintf(w, "%s\t%d\n", m, counts[m])
			}
			return w.Flush()
		},
	}
}
