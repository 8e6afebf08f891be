package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/mscrnt/vidbridge/pkg/timing"
	"github.com/mscrnt/vidbridge/pkg/vidc"
	"github.com/mscrnt/vidbridge/pkg/video"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	syncAfter  bool
)

// withBridge opens the bridge for one command and closes it afterwards
func withBridge(history bool, fn func(*bridge) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := openBridge(cfg, history)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return fn(b)
}

func printOutcome(o engine.Outcome) error {
	if jsonOutput {
		return printJSON(o)
	}

	fmt.Printf("Trigger:     %s\n", o.Trigger)
	if o.Trigger == engine.TriggerPreset {
		fmt.Printf("Preset:      %d\n", o.PresetID)
	} else {
		fmt.Printf("Source:      %s\n", o.Source)
		fmt.Printf("Classified:  %s\n", o.Result.Classified)
		fmt.Printf("Applied:     %s\n", o.Result.Applied)
	}
	fmt.Printf("Output:      %s\n", o.Result.Output)
	for _, d := range o.Result.Diagnostics {
		fmt.Printf("Diagnostic:  %s\n", d)
	}
	printSync(o.Sync)
	return nil
}

func printSync(sr video.SyncResult) {
	if sr.Committed {
		fmt.Printf("Sync:        committed after %d polls (reg %02x)\n", sr.Polls, sr.Status)
		return
	}
	fmt.Printf("Sync:        timeout after %d polls (reg %02x)\n", sr.Polls, sr.Status)
}

func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Retime the output to the current source mode",
		Long: `Decode the source timing registers, pick a retiming strategy and program
the output stage, whether or not the source reported a change.

Examples:
  # Retime real hardware and record the result
  vidbridge probe

  # Try a source mode on the simulator
  vidbridge probe --sim-mode 640x256x4 --json`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withBridge(true, func(b *bridge) error {
				return printOutcome(b.engine.Retime())
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the outcome as JSON")
	return cmd
}

// DecodeReport is the result of decoding the source registers
type DecodeReport struct {
	Snapshot   vidc.Snapshot       `json:"snapshot"`
	Control    vidc.ControlInfo    `json:"control"`
	Source     timing.SourceTiming `json:"source"`
	FrameRate  *uint32             `json:"frame_rate,omitempty"`
	Classified timing.Mode         `json:"classified"`
	Result     timing.Result       `json:"result"`
	Registers  video.Registers     `json:"registers"`
}

func decodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode the source timing without touching the output",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withBridge(false, func(b *bridge) error {
				snap, src := b.engine.Source()
				res := timing.Retime(src)
				report := DecodeReport{
					Snapshot:   snap,
					Control:    vidc.DecodeControl(snap.Control),
					Source:     src,
					Classified: timing.Classify(src),
					Result:     res,
					Registers:  video.Pack(res.Output),
				}
				if hz, ok := src.FrameRate(); ok {
					report.FrameRate = &hz
				}

				if jsonOutput {
					return printJSON(report)
				}
				fmt.Println(snap)
				fmt.Printf("\nSource:      %s\n", src)
				fmt.Printf("Classified:  %s\n", report.Classified)
				fmt.Printf("Would apply: %s\n", res.Applied)
				fmt.Printf("Output:      %s\n", res.Output)
				for _, d := range res.Diagnostics {
					fmt.Printf("Diagnostic:  %s\n", d)
				}
				fmt.Printf("\nVideo timing regs:\n%s\n", report.Registers)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}

func modeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode <id>",
		Short: "Apply a preset output timing",
		Long: `Apply one of the preset output timings by source mode number and sync.
The id is decimal, or hex with a 0x prefix. See "vidbridge presets".`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseUint(args[0])
			if err != nil {
				return err
			}
			return withBridge(true, func(b *bridge) error {
				o, err := b.engine.ApplyPreset(int(id))
				if err != nil {
					return err
				}
				return printOutcome(o)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the outcome as JSON")
	return cmd
}

func presetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List the preset output timings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := cfg.PresetRegistry()
			if err != nil {
				return err
			}
			presets := reg.List()
			if jsonOutput {
				return printJSON(presets)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tHEX\tNAME\tRESOLUTION\tBPP")
			for _, p := range presets {
				fmt.Fprintf(w, "%d\t0x%02x\t%s\t%dx%d\t%d\n", p.ID, p.ID, p.Name,
					p.Timing.XRes, p.Timing.YRes, 1<<(p.Timing.BppLog2&7))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the presets as JSON")
	return cmd
}

func timingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timing",
		Short: "Write output timing registers by hand",
		Long: `Write the horizontal or vertical output timing registers verbatim. The
new values take effect at the next sync; pass --sync to sync straight away.`,
	}

	x := &cobra.Command{
		Use:   "x <xres> <fp> <sync width> <bp> <dma wpl-1>",
		Short: "Set horizontal timing",
		Args:  cobra.ExactArgs(5),
		RunE: func(_ *cobra.Command, args []string) error {
			v, err := parseUints(args)
			if err != nil {
				return err
			}
			return withBridge(false, func(b *bridge) error {
				b.engine.SetHorizontalTiming(v[0], v[1], v[2], v[3], v[4])
				return maybeSync(b)
			})
		},
	}

	y := &cobra.Command{
		Use:   "y <yres> <fp> <sync width> <bp>",
		Short: "Set vertical timing",
		Args:  cobra.ExactArgs(4),
		RunE: func(_ *cobra.Command, args []string) error {
			v, err := parseUints(args)
			if err != nil {
				return err
			}
			return withBridge(false, func(b *bridge) error {
				b.engine.SetVerticalTiming(v[0], v[1], v[2], v[3])
				return maybeSync(b)
			})
		},
	}

	cmd.PersistentFlags().BoolVar(&syncAfter, "sync", false, "Sync after writing")
	cmd.AddCommand(x, y)
	return cmd
}

func cursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor <x offset>",
		Short: "Set the cursor X offset",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			offset, err := parseUint(args[0])
			if err != nil {
				return err
			}
			return withBridge(false, func(b *bridge) error {
				b.engine.SetCursorOffset(offset)
				return maybeSync(b)
			})
		},
	}

	cmd.Flags().BoolVar(&syncAfter, "sync", false, "Sync after writing")
	return cmd
}

func maybeSync(b *bridge) error {
	if !syncAfter {
		return nil
	}
	sr, err := b.engine.CommitSync()
	printSync(sr)
	return err
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Latch the output timing registers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withBridge(false, func(b *bridge) error {
				sr, err := b.engine.CommitSync()
				printSync(sr)
				if errors.Is(err, video.ErrSyncTimeout) {
					return fmt.Errorf("output stage did not acknowledge: %w", err)
				}
				return err
			})
		},
	}
}

// ShowReport is the state of the output stage
type ShowReport struct {
	Registers  video.Registers     `json:"registers"`
	Output     timing.OutputTiming `json:"output"`
	SyncStatus uint32              `json:"sync_status"`
	Synced     bool                `json:"synced"`
	Autoprobe  bool                `json:"autoprobe"`
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the output timing registers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withBridge(false, func(b *bridge) error {
				regs := b.engine.ReadBack()
				status := b.engine.SyncStatus()
				report := ShowReport{
					Registers:  regs,
					Output:     regs.Unpack(),
					SyncStatus: status,
					Synced:     video.Synced(status),
					Autoprobe:  b.engine.Autoprobe(),
				}
				if jsonOutput {
					return printJSON(report)
				}
				fmt.Printf("Video timing regs:\n%s\n", regs)
				fmt.Printf("Sync status %02x (synced %t)\n", status, report.Synced)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the registers as JSON")
	return cmd
}
