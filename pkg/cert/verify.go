package cert

import (
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"time"
)

// VerifyResult contains the result of certificate verification
type VerifyResult struct {
	Valid       bool
	Role        Role
	CommonName  string
	Hosts       []string
	NotAfter    time.Time
	Error       string
	Certificate *x509.Certificate
}

func roleOf(cert *x509.Certificate) Role {
	for _, u := range cert.ExtKeyUsage {
		switch u {
		case x509.ExtKeyUsageServerAuth:
			return RoleServer
		case x509.ExtKeyUsageClientAuth:
			return RoleClient
		}
	}
	return ""
}

// VerifyCertificateFile verifies a certificate file against a CA file
func VerifyCertificateFile(certPath, caCertPath string) (*VerifyResult, error) {
	cert, err := LoadCertificate(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	caCert, err := LoadCertificate(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}

	result := &VerifyResult{
		Role:        roleOf(cert),
		CommonName:  cert.Subject.CommonName,
		NotAfter:    cert.NotAfter,
		Certificate: cert,
	}
	result.Hosts = append(result.Hosts, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		result.Hosts = append(result.Hosts, ip.String())
	}

	roots := x509.NewCertPool()
	roots.AddCert(caCert)
	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	if _, err := cert.Verify(opts); err != nil {
		result.Error = err.Error()
	} else if result.Role == "" {
		result.Error = "certificate is neither a server nor a client certificate"
	} else {
		result.Valid = true
	}

	return result, nil
}

// FormatVerifyResult renders a result for "vidbridge cert verify"
func FormatVerifyResult(result *VerifyResult) string {
	var sb strings.Builder

	status := "VALID"
	if !result.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(&sb, "Status: %s\n", status)
	if result.Error != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", result.Error)
	}

	c := result.Certificate
	rows := [][2]string{
		{"Subject", c.Subject.String()},
		{"Issuer", c.Issuer.String()},
		{"Serial", c.SerialNumber.String()},
		{"Not before", c.NotBefore.Format(time.RFC3339)},
		{"Not after", result.NotAfter.Format(time.RFC3339)},
	}
	if result.Role != "" {
		rows = append(rows, [2]string{"Role", string(result.Role)})
	}
	if len(result.Hosts) > 0 {
		rows = append(rows, [2]string{"Hosts", strings.Join(result.Hosts, ", ")})
	}
	for _, r := range rows {
		fmt.Fprintf(&sb, "  %-11s %s\n", r[0]+":", r[1])
	}

	return sb.String()
}

// MatchesHost reports whether a server certificate is valid for host
func (r *VerifyResult) MatchesHost(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		for _, h := range r.Certificate.IPAddresses {
			if h.Equal(ip) {
				return true
			}
		}
		return false
	}
	return r.Certificate.VerifyHostname(host) == nil
}
