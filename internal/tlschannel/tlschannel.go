// Package tlschannel builds the mutual-TLS listener and dialer
// Palioxis uses as its transport, per spec.md §4.2: a private CA signs
// both server and client certificates, and each side verifies the peer
// against that CA rather than relying on DNS-based identity.
package tlschannel

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"syscall"
)

// DefaultServerName is the fixed SNI/hostname-verification name spec.md
// §4.2 and §9 describe: host identity is carried by the certificate,
// not by DNS, so a magic string is intentional rather than an oversight.
const DefaultServerName = "palioxis-server"

// Material is the set of PEM-encoded files a side needs to stand up an
// mTLS channel.
type Material struct {
	CACert     string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

// ServerConfig builds a *tls.Config for the listening side: it loads
// the server's own certificate chain, trusts only the configured CA,
// and requires and verifies a client certificate against it.
func ServerConfig(m Material) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(m.ServerCert, m.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: load server cert chain: %w", err)
	}

	pool, err := loadCAPool(m.CACert)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientConfig builds a *tls.Config for the dialing side: it loads the
// client's own certificate chain, trusts only the configured CA, and
// pins ServerName to serverName (DefaultServerName unless the operator
// supplied one, per spec.md §9's configurable-SNI open question).
func ClientConfig(m Material, serverName string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(m.ClientCert, m.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: load client cert chain: %w", err)
	}

	pool, err := loadCAPool(m.CACert)
	if err != nil {
		return nil, err
	}

	if serverName == "" {
		serverName = DefaultServerName
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: read CA bundle %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tlschannel: no certificates found in CA bundle %s", path)
	}
	return pool, nil
}

// backlog records the listen backlog spec.md §4.2 requires (">= 5").
// Listen does not pass it to the socket: net.ListenConfig always uses
// the operating system's default backlog.
const backlog = 16

var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var setErr error
		err := c.Control(func(fd uintptr) {
			setErr = setReuseAddr(fd)
		})
		if err != nil {
			return err
		}
		return setErr
	},
}

// Listen opens a TLS listener on addr configured per cfg, with
// SO_REUSEADDR enabled and the operating system's default listen
// backlog. It wraps
// net.ListenConfig.Listen rather than tls.Listen directly so the
// SO_REUSEADDR control hook runs before TLS wraps the socket.
func Listen(ctx context.Context, addr string, cfg *tls.Config) (net.Listener, error) {
	ln, err := listenConfig.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: listen %s: %w", addr, err)
	}
	return tls.NewListener(ln, cfg), nil
}

// Dial opens a TLS connection to addr configured per cfg, completing
// the handshake before returning so ExtractPeerIdentity can be called
// immediately on the result.
func Dial(ctx context.Context, addr string, cfg *tls.Config) (*tls.Conn, error) {
	raw, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: dial %s: %w", addr, err)
	}
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tlschannel: handshake with %s: %w", addr, err)
	}
	return conn, nil
}

// LoadSigner reads a PEM-encoded private key (PKCS#1, PKCS#8, or SEC1 EC)
// and returns it as a crypto.Signer, for callers that need to sign DPoP
// proofs with a key that is also loaded into a tls.Certificate elsewhere
// (e.g. the client dispatcher signs with the same key it presents during
// the mTLS handshake).
func LoadSigner(path string) (crypto.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: read key %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("tlschannel: no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: parse private key %s: %w", path, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("tlschannel: key %s does not implement crypto.Signer", path)
	}
	return signer, nil
}

// PeerIdentity is what the server state machine needs from a verified
// client certificate: enough to log who connected and to perform the
// DPoP key-binding check against the actual presented public key.
type PeerIdentity struct {
	CommonName string
	PublicKey  []byte // DER SubjectPublicKeyInfo
}

// ExtractPeerIdentity pulls the verified peer certificate out of a
// completed TLS connection state. It must be called only after the
// handshake has completed (e.g. after conn.Handshake() or the first
// successful read), since ConnectionState.PeerCertificates is empty
// until then.
func ExtractPeerIdentity(state tls.ConnectionState) (*PeerIdentity, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("tlschannel: no peer certificate presented")
	}
	leaf := state.PeerCertificates[0]
	spki, err := x509.MarshalPKIXPublicKey(leaf.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: marshal peer public key: %w", err)
	}
	return &PeerIdentity{
		CommonName: leaf.Subject.CommonName,
		PublicKey:  spki,
	}, nil
}
