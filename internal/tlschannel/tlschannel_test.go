package tlschannel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testPKI struct {
	dir        string
	caCert     string
	serverCert string
	serverKey  string
	clientCert string
	clientKey  string
}

func buildTestPKI(t *testing.T) testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate ca key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "palioxis-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	caCertPath := writePEMCert(t, dir, "ca.pem", caDER)
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}

	serverCertPath, serverKeyPath := issueLeaf(t, dir, "server", "palioxis-server", caCert, caKey)
	clientCertPath, clientKeyPath := issueLeaf(t, dir, "client", "palioxis-client", caCert, caKey)

	return testPKI{
		dir:        dir,
		caCert:     caCertPath,
		serverCert: serverCertPath,
		serverKey:  serverKeyPath,
		clientCert: clientCertPath,
		clientKey:  clientKeyPath,
	}
}

func issueLeaf(t *testing.T, dir, name, cn string, caCert *x509.Certificate, caKey *rsa.PrivateKey) (certPath, keyPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate %s key: %v", name, err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"palioxis-server"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create %s cert: %v", name, err)
	}
	certPath = writePEMCert(t, dir, name+".pem", der)
	keyPath = writePEMKey(t, dir, name+"-key.pem", key)
	return certPath, keyPath
}

func writePEMCert(t *testing.T, dir, filename string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
	return path
}

func writePEMKey(t *testing.T, dir, filename string, key *rsa.PrivateKey) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
	return path
}

func TestMutualHandshakeAndPeerIdentity(t *testing.T) {
	pki := buildTestPKI(t)

	serverCfg, err := ServerConfig(Material{
		CACert:     pki.caCert,
		ServerCert: pki.serverCert,
		ServerKey:  pki.serverKey,
	})
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	clientCfg, err := ClientConfig(Material{
		CACert:     pki.caCert,
		ClientCert: pki.clientCert,
		ClientKey:  pki.clientKey,
	}, DefaultServerName)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen(ctx, "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan *PeerIdentity, 1)
	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			serverErr <- err
			return
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			serverErr <- err
			return
		}
		identity, err := ExtractPeerIdentity(tlsConn.ConnectionState())
		if err != nil {
			serverErr <- err
			return
		}
		serverDone <- identity
	}()

	clientConn, err := Dial(ctx, ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()

	select {
	case identity := <-serverDone:
		if identity.CommonName != "palioxis-client" {
			t.Errorf("CommonName = %q, want palioxis-client", identity.CommonName)
		}
		if len(identity.PublicKey) == 0 {
			t.Error("expected a non-empty SubjectPublicKeyInfo")
		}
	case err := <-serverErr:
		t.Fatalf("server side failed: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for server handshake")
	}
}

func TestLoadSignerParsesPKCS1Key(t *testing.T) {
	pki := buildTestPKI(t)

	signer, err := LoadSigner(pki.clientKey)
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}

	rsaPub, ok := signer.Public().(*rsa.PublicKey)
	if !ok {
		t.Fatalf("signer.Public() = %T, want *rsa.PublicKey", signer.Public())
	}
	if rsaPub.N.BitLen() == 0 {
		t.Error("expected a populated RSA public key modulus")
	}
}

func TestLoadSignerMissingFile(t *testing.T) {
	_, err := LoadSigner(filepath.Join(t.TempDir(), "missing-key.pem"))
	if err == nil {
		t.Fatal("expected an error for a missing key file")
	}
}

func TestDialRejectsUntrustedServer(t *testing.T) {
	pkiA := buildTestPKI(t)
	pkiB := buildTestPKI(t) // a second, unrelated CA

	serverCfg, err := ServerConfig(Material{
		CACert:     pkiA.caCert,
		ServerCert: pkiA.serverCert,
		ServerKey:  pkiA.serverKey,
	})
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	clientCfg, err := ClientConfig(Material{
		CACert:     pkiB.caCert,
		ClientCert: pkiB.clientCert,
		ClientKey:  pkiB.clientKey,
	}, DefaultServerName)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln, err := Listen(ctx, "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	_, err = Dial(ctx, ln.Addr().String(), clientCfg)
	if err == nil {
		t.Fatal("expected Dial to fail against a server signed by an untrusted CA")
	}
}
