package driver

import (
	"context"
	"strings"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/ndenev/zvolcsi/api/agentpb"
	"github.com/ndenev/zvolcsi/internal/agentclient"
	"github.com/ndenev/zvolcsi/pkg/metrics"
)

// AgentClient is the subset of internal/agentclient.Client the controller
// service depends on. Defined here so tests can substitute a fake.
type AgentClient interface {
	CreateVolume(ctx context.Context, req *agentpb.CreateVolumeRequest) (*agentpb.CreateVolumeResponse, error)
	DeleteVolume(ctx context.Context, req *agentpb.DeleteVolumeRequest) (*agentpb.DeleteVolumeResponse, error)
	ExpandVolume(ctx context.Context, req *agentpb.ExpandVolumeRequest) (*agentpb.ExpandVolumeResponse, error)
	GetVolume(ctx context.Context, req *agentpb.GetVolumeRequest) (*agentpb.GetVolumeResponse, error)
	ListVolumes(ctx context.Context, req *agentpb.ListVolumesRequest) (*agentpb.ListVolumesResponse, error)
	CreateSnapshot(ctx context.Context, req *agentpb.CreateSnapshotRequest) (*agentpb.CreateSnapshotResponse, error)
	DeleteSnapshot(ctx context.Context, req *agentpb.DeleteSnapshotRequest) (*agentpb.DeleteSnapshotResponse, error)
	GetSnapshot(ctx context.Context, req *agentpb.GetSnapshotRequest) (*agentpb.GetSnapshotResponse, error)
	ListSnapshots(ctx context.Context, req *agentpb.ListSnapshotsRequest) (*agentpb.ListSnapshotsResponse, error)
	GetCapacity(ctx context.Context, req *agentpb.GetCapacityRequest) (*agentpb.GetCapacityResponse, error)
	Close() error
}

// invalidateSubstrings are the error-message fragments that, combined with
// one of invalidateCodes, indicate the cached channel itself is broken
// rather than the RPC having failed for a request-level reason.
var invalidateSubstrings = []string{"transport", "connection", "broken pipe", "reset by peer"}

func shouldInvalidate(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.Unknown, codes.Internal:
	default:
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range invalidateSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// dialFunc opens a fresh Agent channel. Overridden in tests.
type dialFunc func(ctx context.Context) (AgentClient, error)

// agentConnCache is a read-biased, double-checked-locking cache around a
// single Agent channel: the common path only needs an RLock, and a fresh
// dial only happens once per invalidation even if many RPCs race to
// rebuild it concurrently.
type agentConnCache struct {
	mu     sync.RWMutex
	client AgentClient
	dial   dialFunc
}

func newAgentConnCache(cfg agentclient.Config) *agentConnCache {
	return &agentConnCache{
		dial: func(ctx context.Context) (AgentClient, error) {
			return agentclient.Dial(ctx, cfg)
		},
	}
}

// get returns the cached client, dialing a new one if none is live yet.
func (c *agentConnCache) get(ctx context.Context) (AgentClient, error) {
	c.mu.RLock()
	if c.client != nil {
		cl := c.client
		c.mu.RUnlock()
		return cl, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	cl, err := c.dial(ctx)
	if err != nil {
		metrics.SetAgentConnected(false)
		return nil, err
	}
	c.client = cl
	metrics.SetAgentConnected(true)
	return cl, nil
}

// invalidateIfBroken drops the cached client if cur is still the one
// currently cached and err indicates the channel, not just the request,
// failed. The next get call will dial a replacement.
func (c *agentConnCache) invalidateIfBroken(cur AgentClient, err error) {
	if !shouldInvalidate(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != cur {
		return
	}
	klog.Warningf("agent connection looks broken (%v), dropping cached channel", err)
	if closeErr := c.client.Close(); closeErr != nil {
		klog.Warningf("error closing broken agent connection: %v", closeErr)
	}
	c.client = nil
	metrics.SetAgentConnected(false)
}

// close tears down the cached channel, if any.
func (c *agentConnCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
}
