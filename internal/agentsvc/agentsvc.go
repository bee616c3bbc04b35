// Package agentsvc implements api/agentpb.StorageAgentServer: request
// validation, the concurrency gate, the create/delete pipelines, and
// startup reconciliation, wiring together internal/zfsmgr, internal/ctlmgr
// and internal/authstore.
package agentsvc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/ndenev/zvolcsi/api/agentpb"
	"github.com/ndenev/zvolcsi/internal/authstore"
	"github.com/ndenev/zvolcsi/internal/ctlmgr"
	"github.com/ndenev/zvolcsi/internal/validate"
	"github.com/ndenev/zvolcsi/internal/zfsmgr"
	"github.com/ndenev/zvolcsi/pkg/metrics"
)

// DefaultMaxConcurrentOps is used when New is given a non-positive limit.
const DefaultMaxConcurrentOps = 10

const (
	lunIDISCSI uint32 = 0
	nsIDNVMeOF uint32 = 1
)

// Server implements agentpb.StorageAgentServer over a ZFS manager, a CTL
// manager and an auth store. The zero value is not usable; construct with
// New.
type Server struct {
	agentpb.UnimplementedStorageAgentServer

	zm  *zfsmgr.Manager
	cm  *ctlmgr.Manager
	as  *authstore.Store
	sem chan struct{}
}

// New returns a Server bound to zm, cm and as. maxConcurrentOps bounds the
// number of in-flight state-mutating RPCs; non-positive values fall back to
// DefaultMaxConcurrentOps.
func New(zm *zfsmgr.Manager, cm *ctlmgr.Manager, as *authstore.Store, maxConcurrentOps int) *Server {
	if maxConcurrentOps <= 0 {
		maxConcurrentOps = DefaultMaxConcurrentOps
	}
	return &Server{
		zm:  zm,
		cm:  cm,
		as:  as,
		sem: make(chan struct{}, maxConcurrentOps),
	}
}

// acquire takes a concurrency permit without blocking. A saturated semaphore
// fails fast with ResourceExhausted rather than queuing the caller.
func (s *Server) acquire(op string) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		metrics.SetConcurrentOps(len(s.sem))
		return func() {
			<-s.sem
			metrics.SetConcurrentOps(len(s.sem))
		}, nil
	default:
		metrics.RecordRateLimited(op)
		return nil, status.Error(codes.ResourceExhausted, "agent: concurrency limit reached")
	}
}

// Reconcile rebuilds in-memory state on startup: the auth store, then the
// CTL manager's cache from the config file, then ZFS's view of CSI-managed
// zvols. Any zvol ZFS knows about that the config file didn't is
// re-exported; credentials come from the auth store when present, otherwise
// the export is reinserted without auth and the gap is logged. If anything
// was inserted, the config file is written once.
func (s *Server) Reconcile(ctx context.Context) error {
	if healthy, detail, err := s.zm.PoolHealthy(ctx); err != nil {
		klog.Warningf("agentsvc: reconcile: pool health check failed: %v", err)
	} else {
		metrics.SetPoolHealthy(healthy)
		if !healthy {
			klog.Warningf("agentsvc: reconcile: backing pool is not healthy: %s", detail)
		}
	}

	if err := s.as.Load(); err != nil {
		return fmt.Errorf("reconcile: load auth store: %w", err)
	}
	if err := s.cm.LoadConfig(); err != nil {
		return fmt.Errorf("reconcile: load ctl config: %w", err)
	}
	entries, err := s.zm.ListVolumesWithMetadata(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: scan zfs metadata: %w", err)
	}

	inserted := 0
	for _, e := range entries {
		if _, ok := s.cm.GetExport(e.Name); ok {
			continue
		}

		kind := ctlmgr.KindISCSI
		lunOrNSID := lunIDISCSI
		if e.Metadata.ExportType == ctlmgr.KindNVMeOF.String() {
			kind = ctlmgr.KindNVMeOF
			lunOrNSID = nsIDNVMeOF
		}
		if e.Metadata.LunID != nil {
			lunOrNSID = *e.Metadata.LunID
		}
		if e.Metadata.NamespaceID != nil {
			lunOrNSID = *e.Metadata.NamespaceID
		}

		_, hasAuth := s.as.Get(e.Name)
		auth := e.Metadata.Auth && hasAuth
		if e.Metadata.Auth && !hasAuth {
			klog.Warningf("agentsvc: reconcile: %s was exported with auth but has no auth store entry, re-exporting without auth", e.Name)
		}

		if _, err := s.cm.ExportVolume(e.Name, s.zm.GetDevicePath(e.Name), kind, lunOrNSID, auth); err != nil {
			klog.Warningf("agentsvc: reconcile: failed to re-insert export for %s: %v", e.Name, err)
			continue
		}
		inserted++
	}

	if inserted > 0 {
		if err := s.cm.WriteConfig(ctx); err != nil {
			return fmt.Errorf("reconcile: write config: %w", err)
		}
	}
	klog.Infof("agentsvc: reconciliation complete, %d export(s) re-inserted", inserted)
	return nil
}

// CreateVolume runs the 10-step create pipeline from validation through
// metadata and auth persistence.
func (s *Server) CreateVolume(ctx context.Context, req *agentpb.CreateVolumeRequest) (*agentpb.CreateVolumeResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCreateVolume)
	resp, err := s.createVolume(ctx, req)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return resp, nil
}

// createOrCloneVolume creates an empty zvol, or, when req carries a
// source_snapshot_id, a ZFS clone of that snapshot so the new volume starts
// with its data. A clone smaller than the requested capacity is grown to
// match; ZFS clones cannot be created smaller than their origin.
func (s *Server) createOrCloneVolume(ctx context.Context, req *agentpb.CreateVolumeRequest) (*zfsmgr.VolumeInfo, error) {
	sourceSnapshotID := req.GetSourceSnapshotId()
	if sourceSnapshotID == "" {
		info, err := s.zm.CreateVolume(ctx, req.GetVolumeId(), req.GetCapacityBytes())
		if err != nil {
			if errors.Is(err, zfsmgr.ErrAlreadyExists) {
				return nil, status.Errorf(codes.AlreadyExists, "volume %s already exists", req.GetVolumeId())
			}
			return nil, status.Errorf(codes.Internal, "create zvol: %v", err)
		}
		return info, nil
	}

	sourceVolume, sourceSnap, err := splitSnapshotID(sourceSnapshotID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	info, err := s.zm.CloneVolume(ctx, sourceVolume, sourceSnap, req.GetVolumeId())
	if err != nil {
		if errors.Is(err, zfsmgr.ErrAlreadyExists) {
			return nil, status.Errorf(codes.AlreadyExists, "volume %s already exists", req.GetVolumeId())
		}
		if errors.Is(err, zfsmgr.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "source snapshot %s not found", sourceSnapshotID)
		}
		return nil, status.Errorf(codes.Internal, "clone volume from %s: %v", sourceSnapshotID, err)
	}

	if req.GetCapacityBytes() > info.SizeBytes {
		if err := s.zm.ResizeVolume(ctx, req.GetVolumeId(), req.GetCapacityBytes()); err != nil {
			return nil, status.Errorf(codes.Internal, "grow cloned volume %s: %v", req.GetVolumeId(), err)
		}
		info.SizeBytes = req.GetCapacityBytes()
	}
	return info, nil
}

func (s *Server) createVolume(ctx context.Context, req *agentpb.CreateVolumeRequest) (*agentpb.CreateVolumeResponse, error) {
	// 1. validate
	if err := validate.Name("volume_id", req.GetVolumeId()); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.GetCapacityBytes() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "capacity_bytes must be positive")
	}

	// 2. acquire permit
	release, err := s.acquire(metrics.OpCreateVolume)
	if err != nil {
		return nil, err
	}
	defer release()

	// 3. create zvol, cloning from a source snapshot when one was requested
	info, err := s.createOrCloneVolume(ctx, req)
	if err != nil {
		return nil, err
	}

	// 4. device path is already resolved on info.DevicePath

	// 5. choose LUN/NS id per kind
	kind := ctlmgr.KindISCSI
	lunOrNSID := lunIDISCSI
	if req.GetProtocol() == agentpb.Protocol_PROTOCOL_NVME_OF {
		kind = ctlmgr.KindNVMeOF
		lunOrNSID = nsIDNVMeOF
	}
	auth := hasCredentials(req.GetChapCredentials())

	// 6. insert into export cache with auth
	export, err := s.cm.ExportVolume(req.GetVolumeId(), info.DevicePath, kind, lunOrNSID, auth)
	if err != nil {
		if delErr := s.zm.DeleteVolume(ctx, req.GetVolumeId()); delErr != nil {
			klog.Errorf("agentsvc: rollback delete of %s after failed export also failed: %v", req.GetVolumeId(), delErr)
		}
		return nil, status.Errorf(codes.Internal, "export volume: %v", err)
	}

	// 7. write target-config file and reload — fatal on failure
	if err := s.cm.WriteConfig(ctx); err != nil {
		klog.Errorf("agentsvc: write config for %s failed, export is cached but not live: %v", req.GetVolumeId(), err)
		return nil, status.Errorf(codes.Internal, "export %s is cached but the kernel target config failed to write: %v", req.GetVolumeId(), err)
	}

	// 8. write ZFS user-property metadata — non-fatal
	createdAt := zfsmgr.NowUnix()
	meta := zfsmgr.Metadata{
		ExportType: kind.String(),
		TargetName: export.TargetName,
		Parameters: req.GetParameters(),
		CreatedAt:  createdAt,
		Auth:       auth,
	}
	switch kind {
	case ctlmgr.KindISCSI:
		lun := lunOrNSID
		meta.LunID = &lun
	case ctlmgr.KindNVMeOF:
		ns := lunOrNSID
		meta.NamespaceID = &ns
	}
	if err := s.zm.SetVolumeMetadata(ctx, req.GetVolumeId(), meta); err != nil {
		klog.Warningf("agentsvc: failed to write csi metadata for %s: %v", req.GetVolumeId(), err)
	}

	// 9. write auth store if credentials were supplied
	if auth {
		creds := chapCredentialsToStore(req.GetChapCredentials(), kind)
		if err := s.as.Set(req.GetVolumeId(), creds); err != nil {
			klog.Warningf("agentsvc: failed to persist auth for %s: %v", req.GetVolumeId(), err)
		}
	}

	// 10. return
	return &agentpb.CreateVolumeResponse{
		Volume: volumeToPB(req.GetVolumeId(), info.SizeBytes, info.DevicePath, *export, req.GetParameters(), req.GetSourceSnapshotId(), createdAt),
	}, nil
}

// DeleteVolume runs the 5-step delete pipeline. A volume that is already
// absent is reported as success, per CSI semantics.
// If the zvol destroy (step 5) fails or is cancelled after step 4 has
// cleared the CSI metadata, the zvol stays on disk without metadata and
// is no longer listed by Reconcile or ListVolumes; no record of it is
// kept. A repeated DeleteVolume for the same id still destroys it.
func (s *Server) DeleteVolume(ctx context.Context, req *agentpb.DeleteVolumeRequest) (*agentpb.DeleteVolumeResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpDeleteVolume)
	if err := s.deleteVolume(ctx, req); err != nil {
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return &agentpb.DeleteVolumeResponse{}, nil
}

func (s *Server) deleteVolume(ctx context.Context, req *agentpb.DeleteVolumeRequest) error {
	// 1. validate
	if err := validate.Name("volume_id", req.GetVolumeId()); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	// 2. acquire permit
	release, err := s.acquire(metrics.OpDeleteVolume)
	if err != nil {
		return err
	}
	defer release()

	// 3. remove export from cache and call write_config; a missing export
	// is not fatal, but we skip the write since the cache did not change.
	if err := s.cm.UnexportVolume(req.GetVolumeId()); err != nil {
		if !errors.Is(err, ctlmgr.ErrTargetNotFound) {
			return status.Errorf(codes.Internal, "unexport volume: %v", err)
		}
	} else if err := s.cm.WriteConfig(ctx); err != nil {
		return status.Errorf(codes.Internal, "write config after unexport %s: %v", req.GetVolumeId(), err)
	}

	// 4. clear ZFS user-property metadata
	if err := s.zm.ClearVolumeMetadata(ctx, req.GetVolumeId()); err != nil {
		klog.Warningf("agentsvc: failed to clear csi metadata for %s: %v", req.GetVolumeId(), err)
	}

	// 5. destroy zvol idempotently
	if err := s.zm.DeleteVolume(ctx, req.GetVolumeId()); err != nil {
		return status.Errorf(codes.Internal, "destroy zvol %s: %v", req.GetVolumeId(), err)
	}
	return nil
}

// ExpandVolume resizes the zvol. No kernel reload is needed: the new size is
// visible through the existing LUN/namespace.
func (s *Server) ExpandVolume(ctx context.Context, req *agentpb.ExpandVolumeRequest) (*agentpb.ExpandVolumeResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpExpandVolume)
	resp, err := s.expandVolume(ctx, req)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return resp, nil
}

func (s *Server) expandVolume(ctx context.Context, req *agentpb.ExpandVolumeRequest) (*agentpb.ExpandVolumeResponse, error) {
	if err := validate.Name("volume_id", req.GetVolumeId()); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.GetRequestedBytes() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "requested_bytes must be positive")
	}

	release, err := s.acquire(metrics.OpExpandVolume)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.zm.ResizeVolume(ctx, req.GetVolumeId(), req.GetRequestedBytes()); err != nil {
		if errors.Is(err, zfsmgr.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "volume %s not found", req.GetVolumeId())
		}
		return nil, status.Errorf(codes.Internal, "resize zvol: %v", err)
	}

	info, err := s.zm.GetVolumeInfo(ctx, req.GetVolumeId())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read resized volume: %v", err)
	}
	return &agentpb.ExpandVolumeResponse{CapacityBytes: info.SizeBytes}, nil
}

// GetVolume reads a single volume's size, metadata and export state.
func (s *Server) GetVolume(ctx context.Context, req *agentpb.GetVolumeRequest) (*agentpb.GetVolumeResponse, error) {
	if err := validate.Name("volume_id", req.GetVolumeId()); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	info, err := s.zm.GetVolumeInfo(ctx, req.GetVolumeId())
	if err != nil {
		if errors.Is(err, zfsmgr.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "volume %s not found", req.GetVolumeId())
		}
		return nil, status.Errorf(codes.Internal, "read volume: %v", err)
	}

	meta, err := s.zm.GetVolumeMetadata(ctx, req.GetVolumeId())
	if err != nil {
		if !errors.Is(err, zfsmgr.ErrNotFound) {
			return nil, status.Errorf(codes.Internal, "read volume metadata: %v", err)
		}
		meta = &zfsmgr.Metadata{}
	}

	export, _ := s.cm.GetExport(req.GetVolumeId())
	return &agentpb.GetVolumeResponse{
		Volume: volumeToPB(req.GetVolumeId(), info.SizeBytes, info.DevicePath, export, meta.Parameters, "", meta.CreatedAt),
	}, nil
}

// ListVolumes returns a page of volumes ordered by name. max_entries <= 0
// means "all remaining"; starting_token is the decimal index of the first
// row to return.
func (s *Server) ListVolumes(ctx context.Context, req *agentpb.ListVolumesRequest) (*agentpb.ListVolumesResponse, error) {
	entries, err := s.zm.ListVolumesWithMetadata(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list volumes: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	start, err := paginationStart(req.GetStartingToken(), len(entries))
	if err != nil {
		return nil, err
	}
	end := paginationEnd(start, int(req.GetMaxEntries()), len(entries))

	volumes := make([]*agentpb.Volume, 0, end-start)
	for _, e := range entries[start:end] {
		info, err := s.zm.GetVolumeInfo(ctx, e.Name)
		if err != nil {
			klog.Warningf("agentsvc: ListVolumes: skipping %s: %v", e.Name, err)
			continue
		}
		export, _ := s.cm.GetExport(e.Name)
		volumes = append(volumes, volumeToPB(e.Name, info.SizeBytes, info.DevicePath, export, e.Metadata.Parameters, "", e.Metadata.CreatedAt))
	}

	return &agentpb.ListVolumesResponse{Volumes: volumes, NextToken: nextToken(end, len(entries))}, nil
}

// CreateSnapshot creates volume@snap.
func (s *Server) CreateSnapshot(ctx context.Context, req *agentpb.CreateSnapshotRequest) (*agentpb.CreateSnapshotResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCreateSnapshot)
	resp, err := s.createSnapshot(ctx, req)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return resp, nil
}

func (s *Server) createSnapshot(ctx context.Context, req *agentpb.CreateSnapshotRequest) (*agentpb.CreateSnapshotResponse, error) {
	if err := validate.Name("source_volume_id", req.GetSourceVolumeId()); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := validate.Name("snapshot_id", req.GetSnapshotId()); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	release, err := s.acquire(metrics.OpCreateSnapshot)
	if err != nil {
		return nil, err
	}
	defer release()

	name, err := s.zm.CreateSnapshot(ctx, req.GetSourceVolumeId(), req.GetSnapshotId())
	if err != nil {
		if errors.Is(err, zfsmgr.ErrAlreadyExists) {
			return nil, status.Errorf(codes.AlreadyExists, "snapshot %s already exists", req.GetSnapshotId())
		}
		return nil, status.Errorf(codes.Internal, "create snapshot: %v", err)
	}

	info, err := s.zm.GetSnapshotInfo(ctx, req.GetSourceVolumeId(), req.GetSnapshotId())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read created snapshot %s: %v", name, err)
	}
	return &agentpb.CreateSnapshotResponse{Snapshot: snapshotToPB(*info)}, nil
}

// DeleteSnapshot destroys a snapshot idempotently; a missing snapshot is
// success.
func (s *Server) DeleteSnapshot(ctx context.Context, req *agentpb.DeleteSnapshotRequest) (*agentpb.DeleteSnapshotResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpDeleteSnapshot)
	if err := s.deleteSnapshot(ctx, req); err != nil {
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return &agentpb.DeleteSnapshotResponse{}, nil
}

func (s *Server) deleteSnapshot(ctx context.Context, req *agentpb.DeleteSnapshotRequest) error {
	volume, snap, err := splitSnapshotID(req.GetSnapshotId())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	release, err := s.acquire(metrics.OpDeleteSnapshot)
	if err != nil {
		return err
	}
	defer release()

	if err := s.zm.DeleteSnapshot(ctx, volume, snap); err != nil {
		return status.Errorf(codes.Internal, "delete snapshot: %v", err)
	}
	return nil
}

// GetSnapshot reads a single snapshot by its "volume@snap" id.
func (s *Server) GetSnapshot(ctx context.Context, req *agentpb.GetSnapshotRequest) (*agentpb.GetSnapshotResponse, error) {
	volume, snap, err := splitSnapshotID(req.GetSnapshotId())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	info, err := s.zm.GetSnapshotInfo(ctx, volume, snap)
	if err != nil {
		if errors.Is(err, zfsmgr.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "snapshot %s not found", req.GetSnapshotId())
		}
		return nil, status.Errorf(codes.Internal, "get snapshot: %v", err)
	}
	return &agentpb.GetSnapshotResponse{Snapshot: snapshotToPB(*info)}, nil
}

// ListSnapshots returns a page of snapshots, optionally filtered to one
// source volume, using the same pagination rules as ListVolumes.
func (s *Server) ListSnapshots(ctx context.Context, req *agentpb.ListSnapshotsRequest) (*agentpb.ListSnapshotsResponse, error) {
	if req.GetSourceVolumeId() != "" {
		if err := validate.Name("source_volume_id", req.GetSourceVolumeId()); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	entries, err := s.zm.ListSnapshotsInfo(ctx, req.GetSourceVolumeId())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list snapshots: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	start, err := paginationStart(req.GetStartingToken(), len(entries))
	if err != nil {
		return nil, err
	}
	end := paginationEnd(start, int(req.GetMaxEntries()), len(entries))

	snapshots := make([]*agentpb.Snapshot, 0, end-start)
	for _, e := range entries[start:end] {
		snapshots = append(snapshots, snapshotToPB(e))
	}
	return &agentpb.ListSnapshotsResponse{Snapshots: snapshots, NextToken: nextToken(end, len(entries))}, nil
}

// GetCapacity reports available bytes on the parent dataset.
func (s *Server) GetCapacity(ctx context.Context, req *agentpb.GetCapacityRequest) (*agentpb.GetCapacityResponse, error) {
	available, _, err := s.zm.GetCapacity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get capacity: %v", err)
	}
	return &agentpb.GetCapacityResponse{AvailableBytes: available}, nil
}

// paginationStart decodes starting_token: the decimal string of the next
// index to return, empty meaning "from the start".
func paginationStart(token string, total int) (int, error) {
	if token == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 || n > total {
		return 0, status.Errorf(codes.Aborted, "invalid starting_token %q", token)
	}
	return n, nil
}

// paginationEnd caps max_entries at the remaining row count when <= 0.
func paginationEnd(start, maxEntries, total int) int {
	if maxEntries <= 0 {
		maxEntries = total
	}
	end := start + maxEntries
	if end > total {
		end = total
	}
	return end
}

// nextToken is empty once the page reaches the end of the result set.
func nextToken(end, total int) string {
	if end >= total {
		return ""
	}
	return strconv.Itoa(end)
}

func hasCredentials(c *agentpb.CHAPCredentials) bool {
	return c != nil && (c.GetUsername() != "" || c.GetSecret() != "")
}

func chapCredentialsToStore(c *agentpb.CHAPCredentials, kind ctlmgr.Kind) authstore.Credentials {
	if c == nil {
		return authstore.Credentials{}
	}
	creds := authstore.Credentials{
		Username:       c.GetUsername(),
		Secret:         c.GetSecret(),
		MutualUsername: c.GetMutualUsername(),
		MutualSecret:   c.GetMutualSecret(),
	}
	if kind == ctlmgr.KindNVMeOF {
		creds.HashFunction = authstore.DefaultHashFunction
	}
	return creds
}

func splitSnapshotID(id string) (volume, snap string, err error) {
	idx := strings.Index(id, "@")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("snapshot_id must be of the form volume@snapshot, got %q", id)
	}
	volume, snap = id[:idx], id[idx+1:]
	if err := validate.Name("volume name", volume); err != nil {
		return "", "", err
	}
	if err := validate.Name("snapshot name", snap); err != nil {
		return "", "", err
	}
	return volume, snap, nil
}

func volumeToPB(volumeID string, sizeBytes int64, devicePath string, export ctlmgr.Export, parameters map[string]string, sourceSnapshotID string, createdAt int64) *agentpb.Volume {
	v := &agentpb.Volume{
		VolumeId:         volumeID,
		CapacityBytes:    sizeBytes,
		DatasetPath:      strings.TrimPrefix(devicePath, "/dev/zvol/"),
		DevicePath:       devicePath,
		Parameters:       parameters,
		SourceSnapshotId: sourceSnapshotID,
		CreatedAtUnix:    createdAt,
	}
	if export.TargetName != "" {
		protocol := agentpb.Protocol_PROTOCOL_ISCSI
		if export.Kind == ctlmgr.KindNVMeOF {
			protocol = agentpb.Protocol_PROTOCOL_NVME_OF
		}
		v.Export = &agentpb.Export{
			TargetName:  export.TargetName,
			Protocol:    protocol,
			LunId:       export.LunOrNSID,
			NamespaceId: export.LunOrNSID,
			ChapEnabled: export.Auth,
		}
	}
	return v
}

func snapshotToPB(info zfsmgr.SnapshotInfo) *agentpb.Snapshot {
	return &agentpb.Snapshot{
		SnapshotId:     info.Name,
		SourceVolumeId: info.Volume,
		SizeBytes:      info.SizeBytes,
		CreatedAtUnix:  info.CreatedAt,
		ReadyToUse:     true,
	}
}
