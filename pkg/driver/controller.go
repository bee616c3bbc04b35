// Package driver implements the CSI driver's Controller, Node and Identity
// services on top of internal/agentclient.
package driver

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ndenev/zvolcsi/api/agentpb"
	"github.com/ndenev/zvolcsi/internal/agentclient"
	"github.com/ndenev/zvolcsi/pkg/metrics"
)

// ErrVolumeCloningUnsupported is returned when CreateVolume is asked to
// populate a volume from an existing volume rather than a snapshot.
var ErrVolumeCloningUnsupported = errors.New("volume cloning is not supported, only snapshot-backed creation is")

// singleNodeAccessModes are always honored: a zvol-backed volume attached
// through one iSCSI/NVMe-oF session at a time still supports every
// single-node mode.
var singleNodeAccessModes = map[csi.VolumeCapability_AccessMode_Mode]bool{
	csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER:        true,
	csi.VolumeCapability_AccessMode_SINGLE_NODE_SINGLE_WRITER: true,
	csi.VolumeCapability_AccessMode_SINGLE_NODE_MULTI_WRITER:  true,
	csi.VolumeCapability_AccessMode_SINGLE_NODE_READER_ONLY:   true,
}

// ControllerService implements the CSI Controller service by translating
// CSI RPCs onto internal/agentclient calls against the Storage Agent.
type ControllerService struct {
	csi.UnimplementedControllerServer
	cache          *agentConnCache
	storageAddress string
}

// NewControllerService dials the Agent lazily through an agentConnCache.
// storageAddress is the iSCSI/NVMe-oF portal address the node layer should
// connect to; it is handed back in every Volume's VolumeContext.
func NewControllerService(agentCfg agentclient.Config, storageAddress string) *ControllerService {
	return &ControllerService{
		cache:          newAgentConnCache(agentCfg),
		storageAddress: storageAddress,
	}
}

func newControllerServiceForTest(dial dialFunc, storageAddress string) *ControllerService {
	return &ControllerService{
		cache:          &agentConnCache{dial: dial},
		storageAddress: storageAddress,
	}
}

// Close releases the cached Agent channel.
func (s *ControllerService) Close() {
	s.cache.close()
}

// agentClient returns the cached Agent connection, wrapping dial failures
// as Unavailable.
func (s *ControllerService) agentClient(ctx context.Context) (AgentClient, error) {
	client, err := s.cache.get(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "agent connection unavailable: %v", err)
	}
	return client, nil
}

// afterCall invalidates the cached channel when err looks like a transport
// failure, so the next request dials fresh instead of failing repeatedly.
func (s *ControllerService) afterCall(client AgentClient, err error) {
	s.cache.invalidateIfBroken(client, err)
}

func parseProtocol(s string) (agentpb.Protocol, error) {
	switch strings.ToLower(s) {
	case "", "iscsi":
		return agentpb.Protocol_PROTOCOL_ISCSI, nil
	case "nvmeof", "nvme-of", "nvme":
		return agentpb.Protocol_PROTOCOL_NVME_OF, nil
	default:
		return agentpb.Protocol_PROTOCOL_UNSPECIFIED, status.Errorf(codes.InvalidArgument, "unsupported protocol parameter: %s", s)
	}
}

func protocolLabel(p agentpb.Protocol) string {
	if p == agentpb.Protocol_PROTOCOL_NVME_OF {
		return metrics.KindNVMeOF
	}
	return metrics.KindISCSI
}

func chapCredentialsFromParameters(params map[string]string) *agentpb.CHAPCredentials {
	username := params["chapUsername"]
	secret := params["chapSecret"]
	if username == "" && secret == "" {
		return nil
	}
	return &agentpb.CHAPCredentials{
		Username:       username,
		Secret:         secret,
		MutualUsername: params["chapMutualUsername"],
		MutualSecret:   params["chapMutualSecret"],
	}
}

func capacityFromRange(r *csi.CapacityRange) int64 {
	if r == nil {
		return 0
	}
	if r.GetRequiredBytes() > 0 {
		return r.GetRequiredBytes()
	}
	return r.GetLimitBytes()
}

// isSupportedAccessMode decides whether mode is usable for a capability of
// the given access type. MULTI_NODE_READER_ONLY is always fine since
// nothing prevents fanning a read-only export out to several readers at
// the block layer; MULTI_NODE_SINGLE_WRITER/MULTI_NODE_MULTI_WRITER only
// make sense for raw-block volumes, where CSI leaves concurrent-writer
// safety to the workload rather than a shared filesystem.
func isSupportedAccessMode(mode csi.VolumeCapability_AccessMode_Mode, isBlock bool) bool {
	if singleNodeAccessModes[mode] {
		return true
	}
	switch mode {
	case csi.VolumeCapability_AccessMode_MULTI_NODE_READER_ONLY:
		return true
	case csi.VolumeCapability_AccessMode_MULTI_NODE_SINGLE_WRITER,
		csi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER:
		return isBlock
	default:
		return false
	}
}

func volumeFromAgent(v *agentpb.Volume, storageAddress string) *csi.Volume {
	if v == nil {
		return nil
	}
	export := v.GetExport()
	ctx := map[string]string{
		"protocol":       protocolLabel(export.GetProtocol()),
		"storageAddress": storageAddress,
	}
	if v.GetSourceSnapshotId() != "" {
		ctx[VolumeContextKeyClonedFromSnap] = VolumeContextValueTrue
	}
	switch export.GetProtocol() {
	case agentpb.Protocol_PROTOCOL_ISCSI:
		ctx["lun"] = strconv.FormatUint(uint64(export.GetLunId()), 10)
	case agentpb.Protocol_PROTOCOL_NVME_OF:
		ctx["namespaceId"] = strconv.FormatUint(uint64(export.GetNamespaceId()), 10)
	}
	out := &csi.Volume{
		VolumeId:      v.GetVolumeId(),
		CapacityBytes: v.GetCapacityBytes(),
		VolumeContext: ctx,
	}
	if v.GetSourceSnapshotId() != "" {
		out.ContentSource = &csi.VolumeContentSource{
			Type: &csi.VolumeContentSource_Snapshot{
				Snapshot: &csi.VolumeContentSource_SnapshotSource{
					SnapshotId: v.GetSourceSnapshotId(),
				},
			},
		}
	}
	return out
}

func snapshotFromAgent(s *agentpb.Snapshot) *csi.Snapshot {
	if s == nil {
		return nil
	}
	return &csi.Snapshot{
		SnapshotId:     s.GetSnapshotId(),
		SourceVolumeId: s.GetSourceVolumeId(),
		SizeBytes:      s.GetSizeBytes(),
		ReadyToUse:     s.GetReadyToUse(),
	}
}

// CreateVolume creates a new zvol-backed volume, optionally from a snapshot.
func (s *ControllerService) CreateVolume(ctx context.Context, req *csi.CreateVolumeRequest) (*csi.CreateVolumeResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCSICreateVolume)
	resp, err := s.createVolume(ctx, req)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return resp, nil
}

func (s *ControllerService) createVolume(ctx context.Context, req *csi.CreateVolumeRequest) (*csi.CreateVolumeResponse, error) {
	if req.GetName() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume name is required")
	}
	if len(req.GetVolumeCapabilities()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "at least one volume capability is required")
	}
	for _, cap := range req.GetVolumeCapabilities() {
		if !isSupportedAccessMode(cap.GetAccessMode().GetMode(), cap.GetBlock() != nil) {
			return nil, status.Errorf(codes.InvalidArgument, "unsupported access mode %v", cap.GetAccessMode().GetMode())
		}
	}

	capacityBytes := capacityFromRange(req.GetCapacityRange())
	if capacityBytes <= 0 {
		return nil, status.Error(codes.InvalidArgument, "a positive capacity is required")
	}

	params := req.GetParameters()
	protocol, err := parseProtocol(params["protocol"])
	if err != nil {
		return nil, err
	}

	volumeID, err := ResolveVolumeName(params, req.GetName())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid volume name: %v", err)
	}

	var sourceSnapshotID string
	if src := req.GetVolumeContentSource(); src != nil {
		switch {
		case src.GetSnapshot() != nil:
			sourceSnapshotID = src.GetSnapshot().GetSnapshotId()
		case src.GetVolume() != nil:
			return nil, status.Error(codes.InvalidArgument, ErrVolumeCloningUnsupported.Error())
		}
	}

	client, err := s.agentClient(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateVolume(ctx, &agentpb.CreateVolumeRequest{
		VolumeId:         volumeID,
		CapacityBytes:    capacityBytes,
		Protocol:         protocol,
		Parameters:       params,
		SourceSnapshotId: sourceSnapshotID,
		ChapCredentials:  chapCredentialsFromParameters(params),
	})
	if err != nil {
		s.afterCall(client, err)
		return nil, err
	}

	return &csi.CreateVolumeResponse{Volume: volumeFromAgent(resp.GetVolume(), s.storageAddress)}, nil
}

// DeleteVolume deletes a volume. Per the CSI spec this must be idempotent:
// a volume the Agent no longer knows about is treated as already deleted.
func (s *ControllerService) DeleteVolume(ctx context.Context, req *csi.DeleteVolumeRequest) (*csi.DeleteVolumeResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCSIDeleteVolume)
	defer timer.ObserveSuccess()

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume ID is required")
	}

	client, err := s.agentClient(ctx)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}

	_, err = client.DeleteVolume(ctx, &agentpb.DeleteVolumeRequest{VolumeId: req.GetVolumeId()})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return &csi.DeleteVolumeResponse{}, nil
		}
		s.afterCall(client, err)
		timer.ObserveError()
		return nil, err
	}
	return &csi.DeleteVolumeResponse{}, nil
}

// ControllerPublishVolume is unimplemented: attachment is handled entirely
// by the node's NodeStageVolume/NodePublishVolume against the Agent's
// exported target, with no controller-side ACL step.
func (s *ControllerService) ControllerPublishVolume(_ context.Context, _ *csi.ControllerPublishVolumeRequest) (*csi.ControllerPublishVolumeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "ControllerPublishVolume is not implemented")
}

// ControllerUnpublishVolume is unimplemented for the same reason as
// ControllerPublishVolume.
func (s *ControllerService) ControllerUnpublishVolume(_ context.Context, _ *csi.ControllerUnpublishVolumeRequest) (*csi.ControllerUnpublishVolumeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "ControllerUnpublishVolume is not implemented")
}

// ControllerGetVolume is unimplemented.
func (s *ControllerService) ControllerGetVolume(_ context.Context, _ *csi.ControllerGetVolumeRequest) (*csi.ControllerGetVolumeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "ControllerGetVolume is not implemented")
}

// ControllerModifyVolume is unimplemented.
func (s *ControllerService) ControllerModifyVolume(_ context.Context, _ *csi.ControllerModifyVolumeRequest) (*csi.ControllerModifyVolumeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "ControllerModifyVolume is not implemented")
}

// ValidateVolumeCapabilities confirms whether the requested capabilities
// are compatible with a zvol-backed block volume.
func (s *ControllerService) ValidateVolumeCapabilities(ctx context.Context, req *csi.ValidateVolumeCapabilitiesRequest) (*csi.ValidateVolumeCapabilitiesResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCSIValidateVolumeCapabilities)
	resp, err := s.validateVolumeCapabilities(ctx, req)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return resp, nil
}

func (s *ControllerService) validateVolumeCapabilities(ctx context.Context, req *csi.ValidateVolumeCapabilitiesRequest) (*csi.ValidateVolumeCapabilitiesResponse, error) {
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume ID is required")
	}
	if len(req.GetVolumeCapabilities()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "at least one volume capability is required")
	}

	client, err := s.agentClient(ctx)
	if err != nil {
		return nil, err
	}
	_, err = client.GetVolume(ctx, &agentpb.GetVolumeRequest{VolumeId: req.GetVolumeId()})
	if err != nil {
		s.afterCall(client, err)
		return nil, err
	}

	for _, cap := range req.GetVolumeCapabilities() {
		if !isSupportedAccessMode(cap.GetAccessMode().GetMode(), cap.GetBlock() != nil) {
			return &csi.ValidateVolumeCapabilitiesResponse{
				Message: "unsupported access mode " + cap.GetAccessMode().GetMode().String(),
			}, nil
		}
	}

	return &csi.ValidateVolumeCapabilitiesResponse{
		Confirmed: &csi.ValidateVolumeCapabilitiesResponse_Confirmed{
			VolumeCapabilities: req.GetVolumeCapabilities(),
		},
	}, nil
}

// ListVolumes paginates through the Agent's volume inventory.
func (s *ControllerService) ListVolumes(ctx context.Context, req *csi.ListVolumesRequest) (*csi.ListVolumesResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCSIListVolumes)

	client, err := s.agentClient(ctx)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}

	resp, err := client.ListVolumes(ctx, &agentpb.ListVolumesRequest{
		MaxEntries:    req.GetMaxEntries(),
		StartingToken: req.GetStartingToken(),
	})
	if err != nil {
		s.afterCall(client, err)
		timer.ObserveError()
		if status.Code(err) == codes.InvalidArgument {
			return nil, status.Error(codes.Aborted, err.Error())
		}
		return nil, err
	}

	entries := make([]*csi.ListVolumesResponse_Entry, 0, len(resp.GetVolumes()))
	for _, v := range resp.GetVolumes() {
		entries = append(entries, &csi.ListVolumesResponse_Entry{Volume: volumeFromAgent(v, s.storageAddress)})
	}
	timer.ObserveSuccess()
	return &csi.ListVolumesResponse{Entries: entries, NextToken: resp.GetNextToken()}, nil
}

// GetCapacity reports the pool's available capacity for the requested
// protocol (defaulting to iSCSI, matching CreateVolume's default).
func (s *ControllerService) GetCapacity(ctx context.Context, req *csi.GetCapacityRequest) (*csi.GetCapacityResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCSIGetCapacity)

	protocol, err := parseProtocol(req.GetParameters()["protocol"])
	if err != nil {
		timer.ObserveError()
		return nil, err
	}

	client, err := s.agentClient(ctx)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}
	resp, err := client.GetCapacity(ctx, &agentpb.GetCapacityRequest{Protocol: protocol})
	if err != nil {
		s.afterCall(client, err)
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return &csi.GetCapacityResponse{AvailableCapacity: resp.GetAvailableBytes()}, nil
}

// ControllerGetCapabilities advertises the RPCs this controller supports.
func (s *ControllerService) ControllerGetCapabilities(_ context.Context, _ *csi.ControllerGetCapabilitiesRequest) (*csi.ControllerGetCapabilitiesResponse, error) {
	rpcTypes := []csi.ControllerServiceCapability_RPC_Type{
		csi.ControllerServiceCapability_RPC_CREATE_DELETE_VOLUME,
		csi.ControllerServiceCapability_RPC_LIST_VOLUMES,
		csi.ControllerServiceCapability_RPC_GET_CAPACITY,
		csi.ControllerServiceCapability_RPC_EXPAND_VOLUME,
		csi.ControllerServiceCapability_RPC_CREATE_DELETE_SNAPSHOT,
		csi.ControllerServiceCapability_RPC_LIST_SNAPSHOTS,
	}
	caps := make([]*csi.ControllerServiceCapability, 0, len(rpcTypes))
	for _, t := range rpcTypes {
		caps = append(caps, &csi.ControllerServiceCapability{
			Type: &csi.ControllerServiceCapability_Rpc{
				Rpc: &csi.ControllerServiceCapability_RPC{Type: t},
			},
		})
	}
	return &csi.ControllerGetCapabilitiesResponse{Capabilities: caps}, nil
}

// ControllerExpandVolume grows the underlying zvol. The node must still
// run a filesystem-level grow, so node_expansion_required is always true.
func (s *ControllerService) ControllerExpandVolume(ctx context.Context, req *csi.ControllerExpandVolumeRequest) (*csi.ControllerExpandVolumeResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCSIControllerExpandVolume)

	if req.GetVolumeId() == "" {
		timer.ObserveError()
		return nil, status.Error(codes.InvalidArgument, "volume ID is required")
	}
	if req.GetCapacityRange() == nil {
		timer.ObserveError()
		return nil, status.Error(codes.InvalidArgument, "capacity range is required")
	}

	client, err := s.agentClient(ctx)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}
	resp, err := client.ExpandVolume(ctx, &agentpb.ExpandVolumeRequest{
		VolumeId:       req.GetVolumeId(),
		RequestedBytes: capacityFromRange(req.GetCapacityRange()),
	})
	if err != nil {
		s.afterCall(client, err)
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return &csi.ControllerExpandVolumeResponse{
		CapacityBytes:         resp.GetCapacityBytes(),
		NodeExpansionRequired: true,
	}, nil
}

// CreateSnapshot creates a ZFS snapshot of an existing volume.
func (s *ControllerService) CreateSnapshot(ctx context.Context, req *csi.CreateSnapshotRequest) (*csi.CreateSnapshotResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCSICreateSnapshot)

	if req.GetName() == "" {
		timer.ObserveError()
		return nil, status.Error(codes.InvalidArgument, "snapshot name is required")
	}
	if req.GetSourceVolumeId() == "" {
		timer.ObserveError()
		return nil, status.Error(codes.InvalidArgument, "source volume ID is required")
	}

	client, err := s.agentClient(ctx)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}
	resp, err := client.CreateSnapshot(ctx, &agentpb.CreateSnapshotRequest{
		SnapshotId:     req.GetSourceVolumeId() + "@" + req.GetName(),
		SourceVolumeId: req.GetSourceVolumeId(),
	})
	if err != nil {
		s.afterCall(client, err)
		timer.ObserveError()
		return nil, err
	}
	timer.ObserveSuccess()
	return &csi.CreateSnapshotResponse{Snapshot: snapshotFromAgent(resp.GetSnapshot())}, nil
}

// DeleteSnapshot deletes a ZFS snapshot, idempotently.
func (s *ControllerService) DeleteSnapshot(ctx context.Context, req *csi.DeleteSnapshotRequest) (*csi.DeleteSnapshotResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCSIDeleteSnapshot)
	defer timer.ObserveSuccess()

	if req.GetSnapshotId() == "" {
		return nil, status.Error(codes.InvalidArgument, "snapshot ID is required")
	}

	client, err := s.agentClient(ctx)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}
	_, err = client.DeleteSnapshot(ctx, &agentpb.DeleteSnapshotRequest{SnapshotId: req.GetSnapshotId()})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return &csi.DeleteSnapshotResponse{}, nil
		}
		s.afterCall(client, err)
		timer.ObserveError()
		return nil, err
	}
	return &csi.DeleteSnapshotResponse{}, nil
}

// ListSnapshots lists snapshots, optionally scoped to a source volume or a
// single snapshot ID.
func (s *ControllerService) ListSnapshots(ctx context.Context, req *csi.ListSnapshotsRequest) (*csi.ListSnapshotsResponse, error) {
	timer := metrics.NewOperationTimer(metrics.OpCSIListSnapshots)

	client, err := s.agentClient(ctx)
	if err != nil {
		timer.ObserveError()
		return nil, err
	}

	if id := req.GetSnapshotId(); id != "" {
		resp, err := client.GetSnapshot(ctx, &agentpb.GetSnapshotRequest{SnapshotId: id})
		if err != nil {
			s.afterCall(client, err)
			timer.ObserveError()
			if status.Code(err) == codes.NotFound {
				return &csi.ListSnapshotsResponse{}, nil
			}
			return nil, err
		}
		timer.ObserveSuccess()
		return &csi.ListSnapshotsResponse{
			Entries: []*csi.ListSnapshotsResponse_Entry{{Snapshot: snapshotFromAgent(resp.GetSnapshot())}},
		}, nil
	}

	resp, err := client.ListSnapshots(ctx, &agentpb.ListSnapshotsRequest{
		MaxEntries:     req.GetMaxEntries(),
		StartingToken:  req.GetStartingToken(),
		SourceVolumeId: req.GetSourceVolumeId(),
	})
	if err != nil {
		s.afterCall(client, err)
		timer.ObserveError()
		if status.Code(err) == codes.InvalidArgument {
			return nil, status.Error(codes.Aborted, err.Error())
		}
		return nil, err
	}

	entries := make([]*csi.ListSnapshotsResponse_Entry, 0, len(resp.GetSnapshots()))
	for _, snap := range resp.GetSnapshots() {
		entries = append(entries, &csi.ListSnapshotsResponse_Entry{Snapshot: snapshotFromAgent(snap)})
	}
	timer.ObserveSuccess()
	return &csi.ListSnapshotsResponse{Entries: entries, NextToken: resp.GetNextToken()}, nil
}
