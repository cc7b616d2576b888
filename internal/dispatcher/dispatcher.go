package dispatcher

import (
	"bufio"
	"context"
	"crypto"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/SWORDIntel/palioxis/internal/dpop"
	"github.com/SWORDIntel/palioxis/internal/tlschannel"
	"github.com/SWORDIntel/palioxis/internal/wire"
)

// NodeResult is the outcome of dispatching to a single node, per
// spec.md §4.6's `{host, port, success, message}` shape.
type NodeResult struct {
	Host    string
	Port    int
	Success bool
	Message string
}

// FleetResult aggregates every NodeResult plus counts, per spec.md
// §4.6. Overall success is lenient: at least one node accepting is
// enough, since the client's value is "trigger as much as possible".
type FleetResult struct {
	Results []NodeResult
	Success int
	Failed  int
}

// Successful reports the fleet-level outcome: true iff at least one
// node accepted the signal.
func (f FleetResult) Successful() bool {
	return f.Success > 0
}

// Dialer abstracts the mTLS connection step so tests can substitute a
// fake transport. The production Dialer is backed by tlschannel.Dial.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// TLSDialer is the production Dialer: it dials with a fixed *tls.Config
// built once (per Client settings), used for every node.
type TLSDialer struct {
	Config *tls.Config
}

// Dial implements Dialer.
func (d TLSDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return tlschannel.Dial(ctx, addr, d.Config)
}

// Client dispatches destroy signals to a fleet of nodes.
type Client struct {
	Dialer     Dialer
	Signer     crypto.Signer
	Timeout    time.Duration
	Concurrent int // 0 or 1 = sequential, matching spec.md §5's reference design
	Logger     *logrus.Entry
}

// DispatchFile reads the node list at path and dispatches to every
// entry, per spec.md §4.6.
func (c *Client) DispatchFile(ctx context.Context, path string) (FleetResult, error) {
	entries, err := readNodeList(path)
	if err != nil {
		return FleetResult{}, err
	}
	return c.dispatchEntries(ctx, entries), nil
}

func (c *Client) dispatchEntries(ctx context.Context, entries []entry) FleetResult {
	results := make([]NodeResult, len(entries))

	run := func(i int) {
		e := entries[i]
		if e.err != nil {
			results[i] = NodeResult{Success: false, Message: e.err.Error()}
			return
		}
		results[i] = c.dispatchOne(ctx, e.node)
	}

	if c.Concurrent > 1 {
		p := pool.New().WithMaxGoroutines(c.Concurrent)
		for i := range entries {
			i := i
			p.Go(func() { run(i) })
		}
		p.Wait()
	} else {
		for i := range entries {
			run(i)
		}
	}

	fleet := FleetResult{Results: results}
	for _, r := range results {
		if r.Success {
			fleet.Success++
		} else {
			fleet.Failed++
		}
	}
	return fleet
}

// dispatchOne performs the per-node steps of spec.md §4.6: mTLS
// connect, DPoP proof generation, send, classify response.
func (c *Client) dispatchOne(ctx context.Context, node Node) NodeResult {
	log := c.logger().WithFields(logrus.Fields{"host": node.Host, "port": node.Port})

	dialCtx := ctx
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	conn, err := c.Dialer.Dial(dialCtx, node.String())
	if err != nil {
		log.WithError(err).Warn("dispatcher: connection failed")
		return NodeResult{Host: node.Host, Port: node.Port, Success: false, Message: fmt.Sprintf("Connection error: %s", err)}
	}
	defer conn.Close()

	htu := fmt.Sprintf("https://%s:%d/destroy", node.Host, node.Port)
	token, err := dpop.Generate(c.Signer, "POST", htu)
	if err != nil {
		log.WithError(err).Error("dispatcher: DPoP proof generation failed")
		return NodeResult{Host: node.Host, Port: node.Port, Success: false, Message: fmt.Sprintf("DPoP proof generation failed: %s", err)}
	}

	conn.SetDeadline(time.Now().Add(effectiveTimeout(c.Timeout)))

	w := bufio.NewWriter(conn)
	if err := wire.WriteRequest(w, node.Host, node.Port, "/destroy", token, []byte(node.Key)); err != nil {
		log.WithError(err).Warn("dispatcher: failed to send request")
		return NodeResult{Host: node.Host, Port: node.Port, Success: false, Message: fmt.Sprintf("Connection error: %s", err)}
	}

	resp, err := wire.ReadResponse(bufio.NewReader(conn))
	if err != nil {
		log.WithError(err).Warn("dispatcher: failed to read response")
		return NodeResult{Host: node.Host, Port: node.Port, Success: false, Message: fmt.Sprintf("Connection error: %s", err)}
	}

	if resp.Code == 200 {
		log.Info("dispatcher: signal accepted")
		return NodeResult{Host: node.Host, Port: node.Port, Success: true, Message: fmt.Sprintf("Signal accepted by %s", node)}
	}

	log.WithField("code", resp.Code).Warn("dispatcher: signal rejected")
	return NodeResult{Host: node.Host, Port: node.Port, Success: false, Message: fmt.Sprintf("Signal rejected: %d %s", resp.Code, resp.Phrase)}
}

func effectiveTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (c *Client) logger() *logrus.Entry {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
