// Package agent implements the server-side self-destruct state
// machine described in spec.md §4.5: per connection it moves through
// Accepted → ParsedRequest → Authenticated → Executing → Terminated,
// and on a valid trigger it acknowledges the client before it ever
// touches the filesystem.
package agent

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SWORDIntel/palioxis/internal/destroyer"
	"github.com/SWORDIntel/palioxis/internal/dpop"
	"github.com/SWORDIntel/palioxis/internal/system"
	"github.com/SWORDIntel/palioxis/internal/target"
	"github.com/SWORDIntel/palioxis/internal/tlschannel"
	"github.com/SWORDIntel/palioxis/internal/wire"
)

// Shutdowner issues the final host shutdown. It is an interface so
// tests can substitute a no-op without actually halting the test
// runner; the production implementation shells out to the platform
// shutdown command.
type Shutdowner interface {
	Shutdown() error
}

// commandShutdown invokes the real host shutdown command, per spec.md
// §4.5 step 5.
type commandShutdown struct{}

func (commandShutdown) Shutdown() error {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("shutdown", "/s", "/t", "0")
	} else {
		cmd = exec.Command("shutdown", "-h", "now")
	}
	return cmd.Run()
}

// DefaultShutdowner is the production Shutdowner.
var DefaultShutdowner Shutdowner = commandShutdown{}

// Config is everything a connection handler needs, assembled once at
// startup and treated as read-only thereafter (spec.md §5: "Settings
// and Target Registry are frozen after startup").
type Config struct {
	Host string
	Port int
	Key  string

	HandshakeTimeout time.Duration

	DestroyerModule          string
	DestroyerSettings        destroyer.Settings
	ShutdownOnPartialFailure bool

	Targets    *target.Registry
	Replay     *dpop.ReplayCache
	Shutdowner Shutdowner
	Logger     *logrus.Entry

	HostInfo system.Info
}

func (c *Config) shutdowner() Shutdowner {
	if c.Shutdowner != nil {
		return c.Shutdowner
	}
	return DefaultShutdowner
}

// Agent serves one or more connections according to Config.
type Agent struct {
	cfg Config
}

// New builds an Agent from cfg.
func New(cfg Config) *Agent {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	return &Agent{cfg: cfg}
}

// Serve runs the accept loop over ln until it returns an error (e.g.
// because Close was called on it). Per spec.md §5, the server accepts
// and handles exactly one connection at a time: the accept loop never
// overlaps with a destruction run.
func (a *Agent) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		a.handleConnection(conn)
	}
}

// handleConnection drives a single connection through the state
// machine. It never returns an error: every failure path closes the
// connection, and every failure after the TLS handshake and peer
// identity extraction writes an error response first, matching the
// Python original's catch-all connection handler.
func (a *Agent) handleConnection(conn net.Conn) {
	defer conn.Close()

	log := a.cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	conn.SetDeadline(time.Now().Add(a.cfg.HandshakeTimeout))

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		log.Error("agent: connection is not TLS, rejecting")
		return
	}
	if err := tlsConn.Handshake(); err != nil {
		log.WithError(err).Warn("agent: TLS handshake failed")
		return
	}

	identity, err := tlschannel.ExtractPeerIdentity(tlsConn.ConnectionState())
	if err != nil {
		log.WithError(err).Error("agent: could not extract peer identity")
		return
	}
	log = log.WithField("peer_cn", identity.CommonName)
	log.Info("agent: accepted connection")

	peerKey := tlsConn.ConnectionState().PeerCertificates[0].PublicKey

	reader := bufio.NewReader(conn)
	req, err := wire.ReadRequest(reader)
	if err != nil {
		log.WithError(err).Warn("agent: malformed request")
		a.reject(conn, log, wire.StatusBadRequest, "Malformed Request", "")
		return
	}
	log = log.WithFields(logrus.Fields{"method": req.Method, "path": req.Path})

	dpopToken, hasDPoP := req.Header("dpop")
	if !hasDPoP {
		log.Warn("agent: missing DPoP header")
		a.reject(conn, log, wire.StatusUnauthorized, "Invalid DPoP Proof", "")
		return
	}

	htu := fmt.Sprintf("https://%s:%d%s", a.cfg.Host, a.cfg.Port, req.Path)
	_, verr := dpop.Verify(dpopToken, req.Method, htu, peerKey, a.cfg.Replay)
	if verr != nil {
		log.WithField("reason", string(verr.Reason)).Warn("agent: DPoP verification failed")
		a.reject(conn, log, wire.StatusUnauthorized, "Invalid DPoP Proof", fmt.Sprintf("DpopInvalid/%s", verr.Reason))
		return
	}

	if req.Method != "POST" || req.Path != "/destroy" {
		log.Warn("agent: unsupported request")
		a.reject(conn, log, wire.StatusMethodNotAllowed, "Unsupported Request", "")
		return
	}

	if strings.TrimSpace(string(req.Body)) != a.cfg.Key {
		log.Warn("agent: invalid destroy key")
		a.reject(conn, log, wire.StatusForbidden, "Invalid Key", "")
		return
	}

	log.Warn("agent: valid destroy key received, initiating self-destruct")
	w := bufio.NewWriter(conn)
	if err := wire.WriteResponse(w, wire.StatusOK, "Signal Accepted. Initiating self-destruct."); err != nil {
		log.WithError(err).Error("agent: failed to write acknowledgement")
		return
	}
	conn.Close()

	a.executeSelfDestruct(log)
}

func (a *Agent) reject(conn net.Conn, log *logrus.Entry, status wire.Status, message, auditReason string) {
	if auditReason != "" {
		log.WithField("audit_reason", auditReason).Info("agent: rejecting request")
	}
	w := bufio.NewWriter(conn)
	if err := wire.WriteResponse(w, status, message); err != nil {
		log.WithError(err).Error("agent: failed to write rejection response")
	}
}

// executeSelfDestruct runs the trigger path's remaining steps (2-5 of
// spec.md §4.5) after the acknowledgement has already been flushed and
// the connection closed.
func (a *Agent) executeSelfDestruct(log *logrus.Entry) {
	log.Warn("agent: EXECUTING SELF-DESTRUCT SEQUENCE")

	a.logAdvisory(log)

	d := destroyer.NewFromName(a.cfg.DestroyerModule, a.cfg.DestroyerSettings, log)

	targets := a.cfg.Targets.Targets()
	result := d.DestroyPaths(targets)
	log.WithFields(logrus.Fields{
		"targets":  len(targets),
		"failures": len(result.Failures()),
	}).Info("agent: destroyer run complete")

	a.destroyEncryptedVolumes(d, log)

	if !result.Successful() && !a.cfg.ShutdownOnPartialFailure {
		log.Warn("agent: partial destruction failure and shutdown_on_partial_failure is false, skipping shutdown")
		return
	}

	log.Warn("agent: self-destruct sequence complete, shutting down host")
	if err := a.cfg.shutdowner().Shutdown(); err != nil {
		log.WithError(err).Error("agent: failed to invoke host shutdown")
	}
}

// logAdvisory logs, but never blocks on, any configured target that
// overlaps a well-known platform-critical path. SPEC_FULL.md §4.5
// expansion: purely informational.
func (a *Agent) logAdvisory(log *logrus.Entry) {
	for _, t := range a.cfg.Targets.Targets() {
		if critical, overlaps := a.cfg.HostInfo.Overlaps(t.Path); overlaps {
			log.WithFields(logrus.Fields{
				"target":        t.Path,
				"critical_path": critical,
			}).Warn("agent: target overlaps a well-known critical system path")
		}
	}
}
