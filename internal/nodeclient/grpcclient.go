package nodeclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ccdscan/indexer/internal/xlog"
)

var logger = xlog.NewModuleLogger(xlog.NodeClnt)

// transportError wraps a gRPC error with the Retryable() marker IsRetryable
// looks for, generalizing the teacher's "all network errors report as
// retryable errors" contract (spec.md §4.1) to gRPC status codes.
type transportError struct {
	cause error
}

func (e *transportError) Error() string { return "nodeclient: transport error: " + e.cause.Error() }
func (e *transportError) Unwrap() error { return e.cause }
func (e *transportError) Retryable() bool {
	st, ok := status.FromError(e.cause)
	if !ok {
		return true // non-gRPC transport errors (dial failures, EOF) are retryable
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// Dialer opens a gRPC connection to a single endpoint. Exists so tests can
// substitute an in-memory dialer.
type Dialer func(ctx context.Context, endpoint string) (*grpc.ClientConn, error)

// DefaultDialer dials endpoint with insecure transport credentials, matching
// the plaintext node RPC ports Concordium-like nodes expose internally.
func DefaultDialer(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
}

// MultiClient holds an ordered list of node endpoints and picks the first
// reachable one, falling over to the next on a transport-level failure —
// the multi-endpoint contract of spec.md §4.1/§6, modeled on the teacher's
// "first healthy endpoint wins" node-selection idiom in node/cn.
type MultiClient struct {
	endpoints []string
	dial      Dialer
	newStub   func(*grpc.ClientConn) Client

	active   Client
	activeAt string
}

// NewMultiClient constructs a MultiClient. newStub adapts a dialed
// connection into the narrow Client interface (kept as a parameter so tests
// need not bring up a real gRPC server).
func NewMultiClient(endpoints []string, dial Dialer, newStub func(*grpc.ClientConn) Client) *MultiClient {
	if dial == nil {
		dial = DefaultDialer
	}
	return &MultiClient{endpoints: endpoints, dial: dial, newStub: newStub}
}

// Connect dials endpoints in order, keeping the first that succeeds. A
// MultiClient built without a stub constructor (no concrete node protocol
// compiled in) reports this as a configuration error rather than dialing at
// all, the same "fail fast at startup" contract as a bad DSN (spec.md §7).
func (m *MultiClient) Connect(ctx context.Context) error {
	if len(m.endpoints) == 0 {
		return nil
	}
	if m.newStub == nil {
		return fmt.Errorf("nodeclient: no endpoints configured or no stub constructor wired for this build")
	}
	var lastErr error
	for _, ep := range m.endpoints {
		conn, err := m.dial(ctx, ep)
		if err != nil {
			logger.Warn("node endpoint unreachable, trying next", "endpoint", ep, "err", err)
			lastErr = err
			continue
		}
		m.active = m.newStub(conn)
		m.activeAt = ep
		logger.Info("connected to node endpoint", "endpoint", ep)
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no node endpoints configured")
	}
	return &transportError{cause: lastErr}
}

// Endpoint returns the endpoint currently in use, or "" if not connected.
func (m *MultiClient) Endpoint() string { return m.activeAt }

// Client returns the currently active Client, or nil if Connect has not
// succeeded yet.
func (m *MultiClient) Client() Client { return m.active }
