package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/mscrnt/vidbridge/pkg/agent"
	"github.com/spf13/cobra"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Remote control agent",
		Long:  "Serve or query the mutual-TLS control agent",
	}

	cmd.AddCommand(agentServeCmd())
	cmd.AddCommand(agentGetCmd())

	return cmd
}

func agentServeCmd() *cobra.Command {
	var (
		port     int
		certFile string
		keyFile  string
		caFile   string
		logFile  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the polling loop headless with the agent",
		Long: `Run the polling loop without a console and serve the control agent over
HTTPS with mutual TLS. Certificates default to the agent section of the
config file and the VIDBRIDGE_AGENT_CERT, VIDBRIDGE_AGENT_KEY and
VIDBRIDGE_AGENT_CA environment variables.

Examples:
  # Using certificates from "vidbridge cert init"
  vidbridge agent serve --cert ~/.vidbridge/certs/server.crt \
    --key ~/.vidbridge/certs/server.key --ca ~/.vidbridge/certs/ca.crt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cfg.Agent.Enabled = true
			if cmd.Flags().Changed("port") {
				cfg.Agent.Port = port
			}
			if certFile != "" {
				cfg.Agent.CertFile = certFile
			}
			if keyFile != "" {
				cfg.Agent.KeyFile = keyFile
			}
			if caFile != "" {
				cfg.Agent.CAFile = caFile
			}
			if logFile != "" {
				cfg.Agent.LogFile = logFile
			}

			fmt.Fprintf(os.Stderr, "Starting vidbridge agent on port %d...\n", cfg.Agent.Port)
			return serve(cfg, false)
		},
	}

	cmd.Flags().IntVar(&port, "port", agent.DefaultConfig().Port, "Port to listen on")
	cmd.Flags().StringVar(&certFile, "cert", "", "Server certificate file")
	cmd.Flags().StringVar(&keyFile, "key", "", "Server private key file")
	cmd.Flags().StringVar(&caFile, "ca", "", "CA certificate file for client verification")
	cmd.Flags().StringVar(&logFile, "log", "", "Agent request log file (default: stderr)")

	return cmd
}

func agentGetCmd() *cobra.Command {
	var (
		host     string
		port     int
		certFile string
		keyFile  string
		caFile   string
		method   string
		pretty   bool
	)

	cmd := &cobra.Command{
		Use:   "get <endpoint>",
		Short: "Call an agent endpoint",
		Long: `Call an endpoint of a vidbridge agent and print the response.

Available endpoints:
  health       - Health check
  sysinfo      - Host information
  timing       - Output timing registers
  source       - Decoded source timing
  probe        - Retime now (POST)
  mode         - List presets, or apply one with ?id= (POST)
  sync         - Latch the output registers (POST)
  autoprobe    - Show, set (?on=) or toggle (POST) autoprobe
  diagnostics  - Recent diagnostics (?n=, ?kind=)
  history      - Recorded probes (?id=, ?limit=, ?trigger=)
  jobs         - Maintenance jobs, or run one with ?run= (POST)

Examples:
  # Current source mode
  vidbridge agent get source --host bridge.local \
    --cert client.crt --key client.key --ca ca.crt --pretty

  # Apply preset 0x1c
  vidbridge agent get "mode?id=0x1c" -X POST --host bridge.local \
    --cert client.crt --key client.key --ca ca.crt`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Check environment variables for defaults
			if certFile == "" {
				certFile = os.Getenv("VIDBRIDGE_CLIENT_CERT")
			}
			if keyFile == "" {
				keyFile = os.Getenv("VIDBRIDGE_CLIENT_KEY")
			}
			if caFile == "" {
				caFile = os.Getenv("VIDBRIDGE_CLIENT_CA")
			}

			endpoint, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid endpoint %q: %w", args[0], err)
			}

			client, err := agent.NewClient(agent.ClientConfig{
				Host:     host,
				Port:     port,
				CertFile: certFile,
				KeyFile:  keyFile,
				CAFile:   caFile,
			})
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			data, err := client.Do(strings.ToUpper(method), endpoint.Path, endpoint.Query())
			if len(data) > 0 {
				printBody(data, pretty)
			}
			return err
		},
	}

	defaults := agent.DefaultClientConfig()
	cmd.Flags().StringVar(&host, "host", defaults.Host, "Target host")
	cmd.Flags().IntVar(&port, "port", defaults.Port, "Target port")
	cmd.Flags().StringVar(&certFile, "cert", "", "Client certificate file")
	cmd.Flags().StringVar(&keyFile, "key", "", "Client private key file")
	cmd.Flags().StringVar(&caFile, "ca", "", "CA certificate file for server verification")
	cmd.Flags().StringVarP(&method, "request", "X", http.MethodGet, "HTTP method")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty print JSON output")

	return cmd
}

func printBody(data []byte, pretty bool) {
	if pretty && json.Valid(data) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err == nil {
			fmt.Println(buf.String())
			return
		}
	}
	fmt.Print(string(data))
}
