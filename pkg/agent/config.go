package agent

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// DefaultPort is the port the agent listens on
const DefaultPort = 2223

// Config says where the agent listens and which certificates it presents
// and trusts. Only clients holding a certificate signed by CAFile are
// served. LogFile is used when NewServer is given no logger.
type Config struct {
	Host     string
	Port     int
	CertFile string
	KeyFile  string
	CAFile   string
	LogFile  string
}

// DefaultConfig listens on all interfaces on DefaultPort
func DefaultConfig() Config {
	return Config{Port: DefaultPort}
}

// Validate checks the port and that the certificate files exist
func (c Config) Validate() error {
	if err := checkPort(c.Port); err != nil {
		return err
	}
	return checkFiles("server", c.CertFile, c.KeyFile, c.CAFile)
}

// LoadTLSConfig creates a TLS configuration that requires client
// certificates signed by the CA
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	cert, pool, err := loadKeyPair(c.CertFile, c.KeyFile, c.CAFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig says which agent to call and the client certificate to
// present. The agent's certificate must be signed by CAFile.
type ClientConfig struct {
	Host     string
	Port     int
	CertFile string
	KeyFile  string
	CAFile   string
}

// DefaultClientConfig calls an agent on localhost
func DefaultClientConfig() ClientConfig {
	return ClientConfig{Host: "localhost", Port: DefaultPort}
}

// Validate checks the address and that the certificate files exist
func (c ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if err := checkPort(c.Port); err != nil {
		return err
	}
	return checkFiles("client", c.CertFile, c.KeyFile, c.CAFile)
}

// LoadClientTLSConfig creates TLS configuration for the client
func (c ClientConfig) LoadClientTLSConfig() (*tls.Config, error) {
	cert, pool, err := loadKeyPair(c.CertFile, c.KeyFile, c.CAFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func checkPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

func checkFiles(role, certFile, keyFile, caFile string) error {
	if certFile == "" {
		return fmt.Errorf("%s certificate file is required", role)
	}
	if keyFile == "" {
		return fmt.Errorf("%s key file is required", role)
	}
	if caFile == "" {
		return fmt.Errorf("CA certificate file is required")
	}

	for _, f := range []string{certFile, keyFile, caFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("file not found: %s", f)
		}
	}
	return nil
}

func loadKeyPair(certFile, keyFile, caFile string) (tls.Certificate, *x509.CertPool, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return cert, nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return cert, nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return cert, nil, fmt.Errorf("failed to parse CA certificate")
	}
	return cert, pool, nil
}
