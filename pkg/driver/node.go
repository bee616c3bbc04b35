package driver

import (
	"context"
	"errors"
	"syscall"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// Protocol values carried in VolumeContext, set by the controller and never
// stored locally by the node: every RPC re-derives target names and device
// paths from the volume ID instead of consulting cached state.
const (
	ProtocolISCSI  = "iscsi"
	ProtocolNVMeOF = "nvmeof"
)

// VolumeContext keys the controller populates and the node reads back.
const (
	VolumeContextKeyProtocol         = "protocol"
	VolumeContextKeyServer           = "storageAddress"
	VolumeContextKeyExpectedCapacity = "expectedCapacity"
	VolumeContextKeyClonedFromSnap   = "clonedFromSnapshot"
	VolumeContextValueTrue           = "true"
)

// errUnsupportedProtocol is returned when VolumeContext carries a protocol
// value the node does not know how to stage.
var errUnsupportedProtocol = errors.New("unsupported protocol in volume context")

// NodeService implements the CSI Node service. It holds no per-volume state:
// the iSCSI/NVMe-oF base prefixes are the only configuration it needs to
// re-derive a target name from a volume ID on every call.
type NodeService struct {
	csi.UnimplementedNodeServer
	nodeID          string
	iscsiBasePrefix string
	nvmeBasePrefix  string
}

// NewNodeService creates a new node service. basePrefixes must match the
// values the Storage Agent was configured with, since target names are
// computed independently on each side from the same volume ID.
func NewNodeService(nodeID, iscsiBasePrefix, nvmeBasePrefix string) *NodeService {
	return &NodeService{
		nodeID:          nodeID,
		iscsiBasePrefix: iscsiBasePrefix,
		nvmeBasePrefix:  nvmeBasePrefix,
	}
}

// NodeStageVolume stages a volume to a staging path.
func (s *NodeService) NodeStageVolume(ctx context.Context, req *csi.NodeStageVolumeRequest) (*csi.NodeStageVolumeResponse, error) {
	klog.V(4).Infof("NodeStageVolume called for volume %s", req.GetVolumeId())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "Volume ID is required")
	}
	if req.GetStagingTargetPath() == "" {
		return nil, status.Error(codes.InvalidArgument, "Staging target path is required")
	}
	if req.GetVolumeCapability() == nil {
		return nil, status.Error(codes.InvalidArgument, "Volume capability is required")
	}
	if err := validateStagingPath(req.GetStagingTargetPath()); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid staging target path: %v", err)
	}

	volumeContext := req.GetVolumeContext()
	switch volumeContext[VolumeContextKeyProtocol] {
	case ProtocolISCSI:
		return s.stageISCSIVolume(ctx, req, volumeContext)
	case ProtocolNVMeOF:
		return s.stageNVMeOFVolume(ctx, req, volumeContext)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "%v: %q", errUnsupportedProtocol, volumeContext[VolumeContextKeyProtocol])
	}
}

// NodeUnstageVolume unstages a volume from a staging path.
func (s *NodeService) NodeUnstageVolume(ctx context.Context, req *csi.NodeUnstageVolumeRequest) (*csi.NodeUnstageVolumeResponse, error) {
	klog.V(4).Infof("NodeUnstageVolume called for volume %s", req.GetVolumeId())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "Volume ID is required")
	}
	if req.GetStagingTargetPath() == "" {
		return nil, status.Error(codes.InvalidArgument, "Staging target path is required")
	}

	// The CSI spec does not hand VolumeContext to NodeUnstageVolume, so both
	// protocols are tried: the node keeps no local record of which one was
	// used to stage this volume id, and each disconnect call is a no-op if
	// nothing of that protocol is attached.
	volumeContext := map[string]string{}
	iscsiResp, iscsiErr := s.unstageISCSIVolume(ctx, req, volumeContext)
	nvmeResp, nvmeErr := s.unstageNVMeOFVolume(ctx, req, volumeContext)
	if iscsiErr == nil {
		return iscsiResp, nil
	}
	if nvmeErr == nil {
		return nvmeResp, nil
	}
	return nil, status.Errorf(codes.Internal, "failed to unstage volume %s: iscsi=%v nvmeof=%v", req.GetVolumeId(), iscsiErr, nvmeErr)
}

// NodePublishVolume publishes a volume to a target path.
func (s *NodeService) NodePublishVolume(ctx context.Context, req *csi.NodePublishVolumeRequest) (*csi.NodePublishVolumeResponse, error) {
	klog.V(4).Infof("NodePublishVolume called for volume %s", req.GetVolumeId())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "Volume ID is required")
	}
	if req.GetStagingTargetPath() == "" {
		return nil, status.Error(codes.InvalidArgument, "Staging target path is required")
	}
	if req.GetTargetPath() == "" {
		return nil, status.Error(codes.InvalidArgument, "Target path is required")
	}
	if req.GetVolumeCapability() == nil {
		return nil, status.Error(codes.InvalidArgument, "Volume capability is required")
	}

	if req.GetVolumeCapability().GetBlock() != nil {
		return s.publishBlockVolume(ctx, req.GetStagingTargetPath(), req.GetTargetPath(), req.GetReadonly())
	}
	return s.publishFilesystemVolume(ctx, req.GetStagingTargetPath(), req.GetTargetPath(), req.GetReadonly())
}

// NodeUnpublishVolume unpublishes a volume from a target path.
func (s *NodeService) NodeUnpublishVolume(_ context.Context, req *csi.NodeUnpublishVolumeRequest) (*csi.NodeUnpublishVolumeResponse, error) {
	klog.V(4).Infof("NodeUnpublishVolume called for volume %s", req.GetVolumeId())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "Volume ID is required")
	}
	targetPath := req.GetTargetPath()
	if targetPath == "" {
		return nil, status.Error(codes.InvalidArgument, "Target path is required")
	}

	return unpublishTargetPath(targetPath)
}

// NodeGetVolumeStats returns capacity statistics for a staged/published volume.
func (s *NodeService) NodeGetVolumeStats(_ context.Context, req *csi.NodeGetVolumeStatsRequest) (*csi.NodeGetVolumeStatsResponse, error) {
	volumePath := req.GetVolumePath()
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "Volume ID is required")
	}
	if volumePath == "" {
		return nil, status.Error(codes.InvalidArgument, "Volume path is required")
	}

	isBlock, err := isBlockDevicePath(volumePath)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "volume path %s not found: %v", volumePath, err)
	}
	if isBlock {
		size, sizeErr := blockDeviceSize(volumePath)
		if sizeErr != nil {
			return nil, status.Errorf(codes.Internal, "failed to stat block device %s: %v", volumePath, sizeErr)
		}
		return &csi.NodeGetVolumeStatsResponse{
			Usage: []*csi.VolumeUsage{{Total: size, Unit: csi.VolumeUsage_BYTES}},
		}, nil
	}

	var statfs syscall.Statfs_t
	if statErr := syscall.Statfs(volumePath, &statfs); statErr != nil {
		return nil, status.Errorf(codes.Internal, "failed to statfs %s: %v", volumePath, statErr)
	}

	blockSize := getBlockSize(&statfs)
	total := safeUint64ToInt64(statfs.Blocks * blockSize)
	avail := safeUint64ToInt64(statfs.Bavail * blockSize)
	used := total - avail
	totalInodes := safeUint64ToInt64(statfs.Files)
	freeInodes := safeUint64ToInt64(statfs.Ffree)
	usedInodes := totalInodes - freeInodes

	return &csi.NodeGetVolumeStatsResponse{
		Usage: []*csi.VolumeUsage{
			{Total: total, Available: avail, Used: used, Unit: csi.VolumeUsage_BYTES},
			{Total: totalInodes, Available: freeInodes, Used: usedInodes, Unit: csi.VolumeUsage_INODES},
		},
	}, nil
}

// NodeExpandVolume grows the filesystem at a mount point to use the full
// size of the already-expanded underlying device.
func (s *NodeService) NodeExpandVolume(ctx context.Context, req *csi.NodeExpandVolumeRequest) (*csi.NodeExpandVolumeResponse, error) {
	volumePath := req.GetVolumePath()
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "Volume ID is required")
	}
	if volumePath == "" {
		return nil, status.Error(codes.InvalidArgument, "Volume path is required")
	}

	isBlock, err := isBlockDevicePath(volumePath)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "volume path %s not found: %v", volumePath, err)
	}
	if isBlock {
		// Raw-block volumes have no filesystem to grow; the workload sees
		// the device's new size directly once the block device is resized.
		size, sizeErr := blockDeviceSize(volumePath)
		if sizeErr != nil {
			return nil, status.Errorf(codes.Internal, "failed to stat block device %s: %v", volumePath, sizeErr)
		}
		return &csi.NodeExpandVolumeResponse{CapacityBytes: size}, nil
	}

	devicePath, err := sourceDeviceForMount(ctx, volumePath)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to determine device backing %s: %v", volumePath, err)
	}

	fsType, err := detectDeviceFilesystemType(ctx, devicePath)
	if err != nil || fsType == "" {
		return nil, status.Errorf(codes.Internal, "failed to detect filesystem type on %s: %v", devicePath, err)
	}

	if err := ExpandFilesystem(ctx, devicePath, volumePath, fsType); err != nil && !isNoGrowNeeded(err) {
		return nil, status.Errorf(codes.Internal, "failed to expand filesystem on %s: %v", devicePath, err)
	}

	var statfs syscall.Statfs_t
	if statErr := syscall.Statfs(volumePath, &statfs); statErr != nil {
		return nil, status.Errorf(codes.Internal, "failed to statfs %s after expansion: %v", volumePath, statErr)
	}
	capacity := safeUint64ToInt64(statfs.Blocks * getBlockSize(&statfs))

	return &csi.NodeExpandVolumeResponse{CapacityBytes: capacity}, nil
}

// NodeGetCapabilities returns the capabilities supported by this node service.
func (s *NodeService) NodeGetCapabilities(_ context.Context, _ *csi.NodeGetCapabilitiesRequest) (*csi.NodeGetCapabilitiesResponse, error) {
	capabilities := []*csi.NodeServiceCapability{
		{Type: &csi.NodeServiceCapability_Rpc{Rpc: &csi.NodeServiceCapability_RPC{Type: csi.NodeServiceCapability_RPC_STAGE_UNSTAGE_VOLUME}}},
		{Type: &csi.NodeServiceCapability_Rpc{Rpc: &csi.NodeServiceCapability_RPC{Type: csi.NodeServiceCapability_RPC_GET_VOLUME_STATS}}},
		{Type: &csi.NodeServiceCapability_Rpc{Rpc: &csi.NodeServiceCapability_RPC{Type: csi.NodeServiceCapability_RPC_EXPAND_VOLUME}}},
	}
	return &csi.NodeGetCapabilitiesResponse{Capabilities: capabilities}, nil
}

// NodeGetInfo returns information about this node.
func (s *NodeService) NodeGetInfo(_ context.Context, _ *csi.NodeGetInfoRequest) (*csi.NodeGetInfoResponse, error) {
	return &csi.NodeGetInfoResponse{NodeId: s.nodeID}, nil
}

// safeUint64ToInt64 converts a uint64 to int64, clamping to MaxInt64 rather
// than wrapping negative on overflow.
func safeUint64ToInt64(v uint64) int64 {
	const maxInt64 = ^uint64(0) >> 1
	if v > maxInt64 {
		return int64(maxInt64)
	}
	return int64(v)
}
