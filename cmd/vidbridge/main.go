package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mscrnt/vidbridge/internal/version"
	"github.com/mscrnt/vidbridge/pkg/sim"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	useSim     bool
	simMode    string
	dbPath     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vidbridge",
		Short: "vidbridge - video timing bridge",
		Long: `vidbridge watches the timing registers of a source video controller and
retimes the output stage to match, doubling lines or pixels where the
output needs it.`,
		Version:       version.Get().Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $VIDBRIDGE_CONFIG or ~/.vidbridge/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false, "Use the simulated bridge instead of hardware")
	rootCmd.PersistentFlags().StringVar(&simMode, "sim-mode", "", "Source mode of the simulated bridge, implies --sim ("+strings.Join(sim.Modes(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "History database path")

	// Add commands
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(decodeCmd())
	rootCmd.AddCommand(modeCmd())
	rootCmd.AddCommand(presetsCmd())
	rootCmd.AddCommand(timingCmd())
	rootCmd.AddCommand(cursorCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(certCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			info := version.Get()
			if short {
				fmt.Println(info.Short())
				return
			}
			fmt.Println(info.String())
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version")
	return cmd
}
