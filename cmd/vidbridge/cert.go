package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mscrnt/vidbridge/pkg/cert"
	"github.com/mscrnt/vidbridge/pkg/config"
	"github.com/spf13/cobra"
)

func certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificate management",
		Long:  "Create and verify the mutual-TLS certificates used by the agent",
	}

	cmd.AddCommand(certInitCmd())
	cmd.AddCommand(certIssueCmd())
	cmd.AddCommand(certVerifyCmd())

	return cmd
}

// defaultCertDir returns ~/.vidbridge/certs
func defaultCertDir() (string, error) {
	dir := config.Dir()
	if dir == "" {
		return "", fmt.Errorf("no home directory, use --dir")
	}
	return filepath.Join(dir, "certs"), nil
}

func certInitCmd() *cobra.Command {
	var (
		dir   string
		hosts []string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a CA with agent server and client certificates",
		Long: `Create a certificate authority and issue a server certificate for the
agent and a client certificate for "vidbridge agent get". An existing CA in
the directory is reused, so clients issued earlier stay valid.

Examples:
  # Certificates for a bridge reachable as bridge.local
  vidbridge cert init --host bridge.local --host 192.168.1.50`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if dir == "" {
				var err error
				if dir, err = defaultCertDir(); err != nil {
					return err
				}
			}

			b, err := cert.InitBundle(dir, hosts)
			if err != nil {
				return err
			}

			fmt.Println("Certificates created successfully")
			fmt.Printf("CA Certificate:     %s\n", b.CACert)
			fmt.Printf("Server Certificate: %s\n", b.ServerCert)
			fmt.Printf("Server Key:         %s\n", b.ServerKey)
			fmt.Printf("Client Certificate: %s\n", b.ClientCert)
			fmt.Printf("Client Key:         %s\n", b.ClientKey)
			fmt.Println("\nIMPORTANT: Keep the CA private key secure and backed up!")
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Certificate directory (default: ~/.vidbridge/certs)")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "Host name or IP the agent is reached at (repeatable)")

	return cmd
}

func certIssueCmd() *cobra.Command {
	var (
		dir      string
		role     string
		name     string
		hosts    []string
		validity time.Duration
		output   string
		keyOut   string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue another certificate from the CA",
		Long: `Issue a further server or client certificate signed by the CA created with
"vidbridge cert init".

Examples:
  # A client certificate for a second workstation
  vidbridge cert issue --name workstation2 --out ws2.crt --key-out ws2.key`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if dir == "" {
				var err error
				if dir, err = defaultCertDir(); err != nil {
					return err
				}
			}
			if output == "" || keyOut == "" {
				return fmt.Errorf("--out and --key-out are required")
			}

			paths := cert.BundlePaths(dir)
			issuer, err := cert.LoadCA(paths.CACert, paths.CAKey)
			if err != nil {
				return fmt.Errorf("failed to load CA: %w", err)
			}

			c, err := issuer.Issue(cert.Role(role), name, hosts, validity)
			if err != nil {
				return err
			}
			if err := c.Save(output, keyOut); err != nil {
				return err
			}

			fmt.Printf("Issued %s certificate for %s\n", role, name)
			fmt.Printf("Certificate: %s\n", output)
			fmt.Printf("Private Key: %s\n", keyOut)
			fmt.Printf("Expires:     %s\n", c.NotAfter.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Certificate directory holding the CA (default: ~/.vidbridge/certs)")
	cmd.Flags().StringVar(&role, "role", string(cert.RoleClient), "Certificate role (server, client)")
	cmd.Flags().StringVar(&name, "name", "vidbridge client", "Common name")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "Host name or IP for a server certificate (repeatable)")
	cmd.Flags().DurationVar(&validity, "validity", 0, "Validity period (default one year)")
	cmd.Flags().StringVarP(&output, "out", "o", "", "Certificate output file")
	cmd.Flags().StringVar(&keyOut, "key-out", "", "Private key output file")

	return cmd
}

func certVerifyCmd() *cobra.Command {
	var (
		caFile string
		host   string
	)

	cmd := &cobra.Command{
		Use:   "verify <certificate>",
		Short: "Verify a certificate against the CA",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if caFile == "" {
				dir, err := defaultCertDir()
				if err != nil {
					return err
				}
				caFile = cert.BundlePaths(dir).CACert
			}

			result, err := cert.VerifyCertificateFile(args[0], caFile)
			if err != nil {
				return err
			}

			fmt.Print(cert.FormatVerifyResult(result))
			if !result.Valid {
				return fmt.Errorf("certificate is not valid")
			}
			if host != "" && !result.MatchesHost(host) {
				return fmt.Errorf("certificate is not valid for host %s", host)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&caFile, "ca", "", "CA certificate (default: ~/.vidbridge/certs/ca.crt)")
	cmd.Flags().StringVar(&host, "host", "", "Also check the certificate is valid for this host")

	return cmd
}
