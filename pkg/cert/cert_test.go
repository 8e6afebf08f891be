package cert

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	if !issuer.CA().IsCA {
		t.Fatal("CA certificate is not a CA")
	}

	server, err := issuer.Issue(RoleServer, "bridge", []string{"bridge.local", "10.0.0.5"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(server.DNSNames) != 1 || len(server.IPAddresses) != 1 {
		t.Errorf("SANs = %v %v", server.DNSNames, server.IPAddresses)
	}
	if err := issuer.Verify(server.Certificate, RoleServer); err != nil {
		t.Errorf("server as server: %v", err)
	}
	if err := issuer.Verify(server.Certificate, RoleClient); err == nil {
		t.Error("server certificate verified as a client")
	}

	client, err := issuer.Issue(RoleClient, "ops", []string{"ignored"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(client.DNSNames) != 0 {
		t.Error("client certificate carries host names")
	}
	if err := issuer.Verify(client.Certificate, RoleClient); err != nil {
		t.Errorf("client as client: %v", err)
	}

	other, _ := NewIssuer()
	if err := other.Verify(client.Certificate, RoleClient); err == nil {
		t.Error("certificate verified against a foreign CA")
	}

	if _, err := issuer.Issue("peer", "x", nil, 0); err == nil {
		t.Error("unknown role accepted")
	}
	if !strings.HasPrefix(client.PEM(), "-----BEGIN CERTIFICATE-----") {
		t.Error("PEM output malformed")
	}
}

func TestInitBundle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	b, err := InitBundle(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{b.CACert, b.CAKey, b.ServerCert, b.ServerKey, b.ClientCert, b.ClientKey} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s: %v", p, err)
		}
	}
	if fi, err := os.Stat(b.CAKey); err == nil && fi.Mode().Perm() != 0o600 {
		t.Errorf("CA key mode = %v", fi.Mode().Perm())
	}

	res, err := VerifyCertificateFile(b.ServerCert, b.CACert)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Role != RoleServer || !res.MatchesHost("localhost") || !res.MatchesHost("127.0.0.1") {
		t.Errorf("server result = %+v", res)
	}
	if res.MatchesHost("example.com") {
		t.Error("server certificate matches an unrelated host")
	}

	res, err = VerifyCertificateFile(b.ClientCert, b.CACert)
	if err != nil || !res.Valid || res.Role != RoleClient {
		t.Errorf("client result = %+v, %v", res, err)
	}
	if !strings.Contains(FormatVerifyResult(res), "Status: VALID") {
		t.Error("formatted result does not report validity")
	}

	caBefore, _ := os.ReadFile(b.CACert)
	if _, err := InitBundle(dir, []string{"bridge.local"}); err != nil {
		t.Fatal(err)
	}
	caAfter, _ := os.ReadFile(b.CACert)
	if string(caBefore) != string(caAfter) {
		t.Error("existing CA was replaced")
	}
	res, _ = VerifyCertificateFile(b.ServerCert, b.CACert)
	if !res.Valid || !res.MatchesHost("bridge.local") {
		t.Errorf("reissued server result = %+v", res)
	}
}

func TestLoadCAErrors(t *testing.T) {
	dir := t.TempDir()
	b, err := InitBundle(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := LoadCA(b.ServerCert, b.ServerKey); err == nil {
		t.Error("leaf certificate loaded as a CA")
	}
	if _, err := LoadCA(filepath.Join(dir, "missing.crt"), b.CAKey); err == nil {
		t.Error("missing CA accepted")
	}

	bad := filepath.Join(dir, "bad.key")
	_ = os.WriteFile(bad, []byte("not pem"), 0o600)
	if _, err := LoadCA(b.CACert, bad); err == nil {
		t.Error("garbage key accepted")
	}
}
