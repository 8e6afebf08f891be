package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mscrnt/vidbridge/pkg/agent"
	"github.com/mscrnt/vidbridge/pkg/config"
	"github.com/mscrnt/vidbridge/pkg/console"
	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/mscrnt/vidbridge/pkg/schedule"
	"github.com/spf13/cobra"
)

var (
	runInterval  time.Duration
	runAgent     bool
	runNoConsole bool
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the source and retime the output on every mode change",
		Long: `Run the polling loop. Every source mode change is decoded and the output
retimed (while autoprobe is on). The configured maintenance jobs are
scheduled, the control agent is started when enabled, and an interactive
console is attached to the terminal.

Examples:
  # Run against hardware with the console
  vidbridge run

  # Run the simulator headless with the agent
  vidbridge run --sim --agent --no-console`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.Engine.PollInterval = runInterval
			}
			if runAgent {
				cfg.Agent.Enabled = true
			}
			return serve(cfg, !runNoConsole)
		},
	}

	cmd.Flags().DurationVar(&runInterval, "interval", 0, "Pause between polls (default from config)")
	cmd.Flags().BoolVar(&runAgent, "agent", false, "Start the control agent")
	cmd.Flags().BoolVar(&runNoConsole, "no-console", false, "Do not attach the interactive console")
	return cmd
}

// serve runs the loop with everything wired to it until a signal arrives
// or the console quits
func serve(cfg config.Config, withConsole bool) error {
	b, err := openBridge(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := engine.NewLoop(b.engine, cfg.Engine.PollInterval)
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()

	runner := schedule.NewRunner(loop, b.history, b.logger("[schedule] "))
	for _, job := range cfg.Jobs {
		if err := runner.Add(job); err != nil {
			cancel()
			<-loopErr
			return fmt.Errorf("failed to add job %s: %w", job.Name, err)
		}
	}
	runner.Start()
	defer runner.Stop()

	backend := agent.Backend{
		Engine:      loop,
		Diagnostics: b.diags,
		History:     b.history,
		Jobs:        runner,
	}

	var server *agent.Server
	serverErr := make(chan error, 1)
	if cfg.Agent.Enabled {
		ac := agent.DefaultConfig()
		ac.Port = cfg.Agent.Port
		ac.CertFile = cfg.Agent.CertFile
		ac.KeyFile = cfg.Agent.KeyFile
		ac.CAFile = cfg.Agent.CAFile
		ac.LogFile = cfg.Agent.LogFile

		// With a log file the agent opens its own logger
		var agentLogger *log.Logger
		if ac.LogFile == "" {
			agentLogger = b.logger("[agent] ")
		}
		server, err = agent.NewServer(ac, backend, agentLogger)
		if err != nil {
			cancel()
			<-loopErr
			return fmt.Errorf("failed to create agent: %w", err)
		}
		go func() {
			if err := server.Start(); err != nil {
				serverErr <- err
			}
		}()
	}

	consoleDone := make(chan error, 1)
	if withConsole {
		con := console.New(loop, b.diags)
		go func() {
			consoleDone <- con.ServeTerminal(ctx, os.Stdin, os.Stdout, console.DefaultPrompt, b.setLogOutput)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-consoleDone:
		runErr = err
		withConsole = false
	case err := <-serverErr:
		runErr = fmt.Errorf("agent error: %w", err)
	case err := <-loopErr:
		loopErr <- err
	}
	cancel()
	if withConsole {
		// The terminal is restored once the console returns
		<-consoleDone
	}
	b.setLogOutput(os.Stderr)
	fmt.Fprintln(os.Stderr, "Shutting down...")

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Agent shutdown error: %v", err)
		}
	}

	if err := <-loopErr; err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
