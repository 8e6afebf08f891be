// Package cert generates the CA, server and client certificates used for the
// agent's mutual TLS.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// KeyBits is the RSA key size of every generated key
const KeyBits = 2048

const organization = "vidbridge"

// Role is what an issued certificate may be used for
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

func (r Role) extKeyUsage() (x509.ExtKeyUsage, error) {
	switch r {
	case RoleServer:
		return x509.ExtKeyUsageServerAuth, nil
	case RoleClient:
		return x509.ExtKeyUsageClientAuth, nil
	default:
		return 0, fmt.Errorf("unknown certificate role %q", r)
	}
}

// Issuer is a certificate authority
type Issuer struct {
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
}

func serial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
}

// NewIssuer creates a self-signed CA valid for ten years
func NewIssuer() (*Issuer, error) {
	caKey, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	sn, err := serial()
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()
	caTemplate := &x509.Certificate{
		SerialNumber: sn,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   "vidbridge agent CA",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &Issuer{
		caCert: caCert,
		caKey:  caKey,
	}, nil
}

// CA returns the CA certificate
func (i *Issuer) CA() *x509.Certificate {
	return i.caCert
}

// SaveCA saves the CA certificate and key to files
func (i *Issuer) SaveCA(certPath, keyPath string) error {
	if err := writePEM(certPath, "CERTIFICATE", i.caCert.Raw, 0o644); err != nil {
		return fmt.Errorf("failed to write CA cert: %w", err)
	}
	if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(i.caKey), 0o600); err != nil {
		return fmt.Errorf("failed to write CA key: %w", err)
	}
	return nil
}

// LoadCA loads CA certificate and key from files
func LoadCA(certPath, keyPath string) (*Issuer, error) {
	caCert, err := LoadCertificate(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA cert: %w", err)
	}
	if !caCert.IsCA {
		return nil, fmt.Errorf("%s is not a CA certificate", certPath)
	}

	keyPEM, err := os.ReadFile(keyPath) // #nosec G304 -- keyPath is a user-specified CA key file path
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode CA key PEM")
	}

	caKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA key: %w", err)
	}

	return &Issuer{
		caCert: caCert,
		caKey:  caKey,
	}, nil
}

// Issue generates a certificate signed by the CA. Server certificates carry
// hosts as DNS or IP subject alternative names.
func (i *Issuer) Issue(role Role, commonName string, hosts []string, validity time.Duration) (*Certificate, error) {
	usage, err := role.extKeyUsage()
	if err != nil {
		return nil, err
	}
	if validity <= 0 {
		validity = 365 * 24 * time.Hour
	}

	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	sn, err := serial()
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: sn,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   commonName,
		},
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(validity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{usage},
	}
	if role == RoleServer {
		for _, h := range hosts {
			if ip := net.ParseIP(h); ip != nil {
				template.IPAddresses = append(template.IPAddresses, ip)
			} else {
				template.DNSNames = append(template.DNSNames, h)
			}
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, i.caCert, &key.PublicKey, i.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Certificate{
		Certificate: cert,
		PrivateKey:  key,
		Role:        role,
	}, nil
}

// Verify checks that cert was signed by the CA for the given role
func (i *Issuer) Verify(cert *x509.Certificate, role Role) error {
	usage, err := role.extKeyUsage()
	if err != nil {
		return err
	}

	roots := x509.NewCertPool()
	roots.AddCert(i.caCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{usage},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// Certificate is an issued certificate and its key
type Certificate struct {
	*x509.Certificate
	PrivateKey *rsa.PrivateKey
	Role       Role
}

// Save saves the certificate and, if keyPath is set, its key
func (c *Certificate) Save(certPath, keyPath string) error {
	if err := writePEM(certPath, "CERTIFICATE", c.Raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cert: %w", err)
	}
	if keyPath != "" {
		if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(c.PrivateKey), 0o600); err != nil {
			return fmt.Errorf("failed to write key: %w", err)
		}
	}
	return nil
}

// PEM returns the certificate PEM-encoded
func (c *Certificate) PEM() string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: c.Raw,
	}))
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm) // #nosec G304 -- path is provided by the user
	if err != nil {
		return err
	}
	if err := pem.Encode(out, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile does not change the mode of an existing file
	return os.Chmod(path, perm)
}

// LoadCertificate reads a PEM certificate file
func LoadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path) // #nosec G304 -- path is a user-specified certificate file
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

// Bundle is the set of files the agent and its clients need
type Bundle struct {
	CACert     string `json:"ca_cert"`
	CAKey      string `json:"ca_key"`
	ServerCert string `json:"server_cert"`
	ServerKey  string `json:"server_key"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
}

// BundlePaths returns the file names of a bundle stored in dir
func BundlePaths(dir string) Bundle {
	return Bundle{
		CACert:     filepath.Join(dir, "ca.crt"),
		CAKey:      filepath.Join(dir, "ca.key"),
		ServerCert: filepath.Join(dir, "server.crt"),
		ServerKey:  filepath.Join(dir, "server.key"),
		ClientCert: filepath.Join(dir, "client.crt"),
		ClientKey:  filepath.Join(dir, "client.key"),
	}
}

// InitBundle creates a CA in dir and issues a server certificate for hosts
// and a client certificate from it. An existing CA in dir is reused.
func InitBundle(dir string, hosts []string) (Bundle, error) {
	b := BundlePaths(dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return b, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	var issuer *Issuer
	if _, err := os.Stat(b.CACert); err == nil {
		issuer, err = LoadCA(b.CACert, b.CAKey)
		if err != nil {
			return b, err
		}
	} else {
		issuer, err = NewIssuer()
		if err != nil {
			return b, fmt.Errorf("failed to create CA: %w", err)
		}
		if err := issuer.SaveCA(b.CACert, b.CAKey); err != nil {
			return b, err
		}
	}

	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	server, err := issuer.Issue(RoleServer, hosts[0], hosts, 0)
	if err != nil {
		return b, fmt.Errorf("failed to issue server certificate: %w", err)
	}
	if err := server.Save(b.ServerCert, b.ServerKey); err != nil {
		return b, err
	}

	client, err := issuer.Issue(RoleClient, "vidbridge client", nil, 0)
	if err != nil {
		return b, fmt.Errorf("failed to issue client certificate: %w", err)
	}
	if err := client.Save(b.ClientCert, b.ClientKey); err != nil {
		return b, err
	}
	return b, nil
}
