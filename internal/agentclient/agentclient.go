// Package agentclient is a thin wrapper around api/agentpb.StorageAgentClient
// that owns the Agent channel's fixed transport policy (connect timeout,
// per-call timeout, keepalive) and a generic retry classifier, built around
// classifying gRPC status codes rather than error-string substrings.
package agentclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/ndenev/zvolcsi/api/agentpb"
	"github.com/ndenev/zvolcsi/pkg/metrics"
)

// Fixed transport policy for the Agent channel.
const (
	ConnectTimeout = 10 * time.Second
	CallTimeout    = 30 * time.Second
	TCPKeepAlive   = 60 * time.Second
	PingInterval   = 30 * time.Second
	PingTimeout    = 10 * time.Second

	maxRetries = 3
)

// initialBackoff/maxBackoff are package vars rather than consts so tests can
// shrink them; production callers get the 100ms/5000ms values below.
var (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5000 * time.Millisecond
)

// TLSConfig carries the optional mTLS material for the Agent channel.
type TLSConfig struct {
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerNameOverride string
}

// Validate enforces that cert, key and ca are provided together or not at
// all — providing a subset is a startup error.
func (t TLSConfig) Validate() error {
	present := 0
	for _, f := range []string{t.CertFile, t.KeyFile, t.CAFile} {
		if f != "" {
			present++
		}
	}
	if present != 0 && present != 3 {
		return errors.New("agentclient: cert, key and ca must all be set together or all left empty")
	}
	return nil
}

func (t TLSConfig) enabled() bool {
	return t.CertFile != "" && t.KeyFile != "" && t.CAFile != ""
}

// Config configures Dial.
type Config struct {
	Address string
	TLS     TLSConfig
}

// Client wraps the generated StorageAgentClient with the retry/timeout
// policy. It satisfies agentpb.StorageAgentClient's method set.
type Client struct {
	conn *grpc.ClientConn
	raw  agentpb.StorageAgentClient
}

// Dial establishes the Agent channel with a 10s connect timeout, TCP
// keepalive, an HTTP/2 keepalive ping every 30s (10s timeout) while idle,
// and optional mTLS. Nagle's algorithm is already disabled by Go's net
// package default for TCP connections.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.TLS.Validate(); err != nil {
		return nil, err
	}

	creds, err := transportCredentials(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("agentclient: build transport credentials: %w", err)
	}

	dialer := &net.Dialer{Timeout: ConnectTimeout, KeepAlive: TCPKeepAlive}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithContextDialer(func(dialCtx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(dialCtx, "tcp", addr)
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                PingInterval,
			Timeout:             PingTimeout,
			PermitWithoutStream: true,
		}),
	}

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("agentclient: dial %s: %w", cfg.Address, err)
	}
	metrics.RecordConnectionSuccess()
	return &Client{conn: conn, raw: agentpb.NewStorageAgentClient(conn)}, nil
}

func transportCredentials(t TLSConfig) (credentials.TransportCredentials, error) {
	if !t.enabled() {
		return insecure.NewCredentials(), nil
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client keypair: %w", err)
	}
	caPEM, err := os.ReadFile(t.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse ca file %s: no certificates found", t.CAFile)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}
	if t.ServerNameOverride != "" {
		tlsCfg.ServerName = t.ServerNameOverride
	}
	return credentials.NewTLS(tlsCfg), nil
}

// Close tears down the underlying channel.
func (c *Client) Close() error {
	return c.conn.Close()
}

// isRetryable classifies gRPC status codes: Unavailable, ResourceExhausted,
// Aborted and Unknown are retryable; every other code (including
// InvalidArgument, NotFound, PermissionDenied, AlreadyExists, Internal)
// surfaces immediately.
func isRetryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Unknown:
		return true
	default:
		return false
	}
}

// nextBackoff doubles d, capped at maxBackoff.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// withRetry runs fn with a per-call timeout, retrying retryable failures
// with exponential backoff starting at initialBackoff, up to maxRetries
// retries (maxRetries+1 attempts total). The inter-attempt sleep is
// cancellable through ctx.
func withRetry[T any](ctx context.Context, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
		result, err := fn(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == maxRetries {
			return zero, err
		}

		metrics.RecordRetry(operation)
		klog.V(4).Infof("agentclient: %s failed (attempt %d/%d): %v, retrying in %v",
			operation, attempt+1, maxRetries+1, err, backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
	return zero, lastErr
}

func (c *Client) CreateVolume(ctx context.Context, req *agentpb.CreateVolumeRequest) (*agentpb.CreateVolumeResponse, error) {
	return withRetry(ctx, metrics.OpCreateVolume, func(ctx context.Context) (*agentpb.CreateVolumeResponse, error) {
		return c.raw.CreateVolume(ctx, req)
	})
}

func (c *Client) DeleteVolume(ctx context.Context, req *agentpb.DeleteVolumeRequest) (*agentpb.DeleteVolumeResponse, error) {
	return withRetry(ctx, metrics.OpDeleteVolume, func(ctx context.Context) (*agentpb.DeleteVolumeResponse, error) {
		return c.raw.DeleteVolume(ctx, req)
	})
}

func (c *Client) ExpandVolume(ctx context.Context, req *agentpb.ExpandVolumeRequest) (*agentpb.ExpandVolumeResponse, error) {
	return withRetry(ctx, metrics.OpExpandVolume, func(ctx context.Context) (*agentpb.ExpandVolumeResponse, error) {
		return c.raw.ExpandVolume(ctx, req)
	})
}

func (c *Client) GetVolume(ctx context.Context, req *agentpb.GetVolumeRequest) (*agentpb.GetVolumeResponse, error) {
	return withRetry(ctx, metrics.OpGetVolume, func(ctx context.Context) (*agentpb.GetVolumeResponse, error) {
		return c.raw.GetVolume(ctx, req)
	})
}

func (c *Client) ListVolumes(ctx context.Context, req *agentpb.ListVolumesRequest) (*agentpb.ListVolumesResponse, error) {
	return withRetry(ctx, metrics.OpListVolumes, func(ctx context.Context) (*agentpb.ListVolumesResponse, error) {
		return c.raw.ListVolumes(ctx, req)
	})
}

func (c *Client) CreateSnapshot(ctx context.Context, req *agentpb.CreateSnapshotRequest) (*agentpb.CreateSnapshotResponse, error) {
	return withRetry(ctx, metrics.OpCreateSnapshot, func(ctx context.Context) (*agentpb.CreateSnapshotResponse, error) {
		return c.raw.CreateSnapshot(ctx, req)
	})
}

func (c *Client) DeleteSnapshot(ctx context.Context, req *agentpb.DeleteSnapshotRequest) (*agentpb.DeleteSnapshotResponse, error) {
	return withRetry(ctx, metrics.OpDeleteSnapshot, func(ctx context.Context) (*agentpb.DeleteSnapshotResponse, error) {
		return c.raw.DeleteSnapshot(ctx, req)
	})
}

func (c *Client) GetSnapshot(ctx context.Context, req *agentpb.GetSnapshotRequest) (*agentpb.GetSnapshotResponse, error) {
	return withRetry(ctx, metrics.OpGetSnapshot, func(ctx context.Context) (*agentpb.GetSnapshotResponse, error) {
		return c.raw.GetSnapshot(ctx, req)
	})
}

func (c *Client) ListSnapshots(ctx context.Context, req *agentpb.ListSnapshotsRequest) (*agentpb.ListSnapshotsResponse, error) {
	return withRetry(ctx, metrics.OpListSnapshots, func(ctx context.Context) (*agentpb.ListSnapshotsResponse, error) {
		return c.raw.ListSnapshots(ctx, req)
	})
}

func (c *Client) GetCapacity(ctx context.Context, req *agentpb.GetCapacityRequest) (*agentpb.GetCapacityResponse, error) {
	return withRetry(ctx, metrics.OpGetCapacity, func(ctx context.Context) (*agentpb.GetCapacityResponse, error) {
		return c.raw.GetCapacity(ctx, req)
	})
}
