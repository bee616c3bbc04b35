// Code generated by hand in the style of protoc-gen-go (APIv1, no
// protoreflect descriptor machinery). Source: agent.proto.

package agentpb

import (
	"fmt"

	proto "github.com/golang/protobuf/proto"
)

// Protocol identifies the export transport for a volume.
type Protocol int32

const (
	Protocol_PROTOCOL_UNSPECIFIED Protocol = 0
	Protocol_PROTOCOL_ISCSI       Protocol = 1
	Protocol_PROTOCOL_NVME_OF     Protocol = 2
)

var protocolName = map[Protocol]string{
	0: "PROTOCOL_UNSPECIFIED",
	1: "PROTOCOL_ISCSI",
	2: "PROTOCOL_NVME_OF",
}

func (p Protocol) String() string {
	if s, ok := protocolName[p]; ok {
		return s
	}
	return fmt.Sprintf("Protocol(%d)", int32(p))
}

type CHAPCredentials struct {
	Username       string `protobuf:"bytes,1,opt,name=username,proto3" json:"username,omitempty"`
	Secret         string `protobuf:"bytes,2,opt,name=secret,proto3" json:"secret,omitempty"`
	MutualUsername string `protobuf:"bytes,3,opt,name=mutual_username,json=mutualUsername,proto3" json:"mutual_username,omitempty"`
	MutualSecret   string `protobuf:"bytes,4,opt,name=mutual_secret,json=mutualSecret,proto3" json:"mutual_secret,omitempty"`
}

func (m *CHAPCredentials) Reset()         { *m = CHAPCredentials{} }
func (m *CHAPCredentials) String() string { return proto.CompactTextString(m) }
func (*CHAPCredentials) ProtoMessage()    {}

func (m *CHAPCredentials) GetUsername() string {
	if m != nil {
		return m.Username
	}
	return ""
}

func (m *CHAPCredentials) GetSecret() string {
	if m != nil {
		return m.Secret
	}
	return ""
}

func (m *CHAPCredentials) GetMutualUsername() string {
	if m != nil {
		return m.MutualUsername
	}
	return ""
}

func (m *CHAPCredentials) GetMutualSecret() string {
	if m != nil {
		return m.MutualSecret
	}
	return ""
}

type Export struct {
	TargetName   string   `protobuf:"bytes,1,opt,name=target_name,json=targetName,proto3" json:"target_name,omitempty"`
	Protocol     Protocol `protobuf:"varint,2,opt,name=protocol,proto3,enum=agentpb.Protocol" json:"protocol,omitempty"`
	LunId        uint32   `protobuf:"varint,3,opt,name=lun_id,json=lunId,proto3" json:"lun_id,omitempty"`
	NamespaceId  uint32   `protobuf:"varint,4,opt,name=namespace_id,json=namespaceId,proto3" json:"namespace_id,omitempty"`
	PortalGroup  string   `protobuf:"bytes,5,opt,name=portal_group,json=portalGroup,proto3" json:"portal_group,omitempty"`
	ChapEnabled  bool     `protobuf:"varint,6,opt,name=chap_enabled,json=chapEnabled,proto3" json:"chap_enabled,omitempty"`
}

func (m *Export) Reset()         { *m = Export{} }
func (m *Export) String() string { return proto.CompactTextString(m) }
func (*Export) ProtoMessage()    {}

func (m *Export) GetTargetName() string {
	if m != nil {
		return m.TargetName
	}
	return ""
}

func (m *Export) GetProtocol() Protocol {
	if m != nil {
		return m.Protocol
	}
	return Protocol_PROTOCOL_UNSPECIFIED
}

func (m *Export) GetLunId() uint32 {
	if m != nil {
		return m.LunId
	}
	return 0
}

func (m *Export) GetNamespaceId() uint32 {
	if m != nil {
		return m.NamespaceId
	}
	return 0
}

func (m *Export) GetPortalGroup() string {
	if m != nil {
		return m.PortalGroup
	}
	return ""
}

func (m *Export) GetChapEnabled() bool {
	if m != nil {
		return m.ChapEnabled
	}
	return false
}

type Volume struct {
	VolumeId         string            `protobuf:"bytes,1,opt,name=volume_id,json=volumeId,proto3" json:"volume_id,omitempty"`
	CapacityBytes    int64             `protobuf:"varint,2,opt,name=capacity_bytes,json=capacityBytes,proto3" json:"capacity_bytes,omitempty"`
	DatasetPath      string            `protobuf:"bytes,3,opt,name=dataset_path,json=datasetPath,proto3" json:"dataset_path,omitempty"`
	DevicePath       string            `protobuf:"bytes,4,opt,name=device_path,json=devicePath,proto3" json:"device_path,omitempty"`
	Parameters       map[string]string `protobuf:"bytes,5,rep,name=parameters,proto3" json:"parameters,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
	Export           *Export           `protobuf:"bytes,6,opt,name=export,proto3" json:"export,omitempty"`
	SourceSnapshotId string            `protobuf:"bytes,7,opt,name=source_snapshot_id,json=sourceSnapshotId,proto3" json:"source_snapshot_id,omitempty"`
	CreatedAtUnix    int64             `protobuf:"varint,8,opt,name=created_at_unix,json=createdAtUnix,proto3" json:"created_at_unix,omitempty"`
}

func (m *Volume) Reset()         { *m = Volume{} }
func (m *Volume) String() string { return proto.CompactTextString(m) }
func (*Volume) ProtoMessage()    {}

func (m *Volume) GetVolumeId() string {
	if m != nil {
		return m.VolumeId
	}
	return ""
}

func (m *Volume) GetCapacityBytes() int64 {
	if m != nil {
		return m.CapacityBytes
	}
	return 0
}

func (m *Volume) GetDatasetPath() string {
	if m != nil {
		return m.DatasetPath
	}
	return ""
}

func (m *Volume) GetDevicePath() string {
	if m != nil {
		return m.DevicePath
	}
	return ""
}

func (m *Volume) GetParameters() map[string]string {
	if m != nil {
		return m.Parameters
	}
	return nil
}

func (m *Volume) GetExport() *Export {
	if m != nil {
		return m.Export
	}
	return nil
}

func (m *Volume) GetSourceSnapshotId() string {
	if m != nil {
		return m.SourceSnapshotId
	}
	return ""
}

func (m *Volume) GetCreatedAtUnix() int64 {
	if m != nil {
		return m.CreatedAtUnix
	}
	return 0
}

type Snapshot struct {
	SnapshotId     string `protobuf:"bytes,1,opt,name=snapshot_id,json=snapshotId,proto3" json:"snapshot_id,omitempty"`
	SourceVolumeId string `protobuf:"bytes,2,opt,name=source_volume_id,json=sourceVolumeId,proto3" json:"source_volume_id,omitempty"`
	SizeBytes      int64  `protobuf:"varint,3,opt,name=size_bytes,json=sizeBytes,proto3" json:"size_bytes,omitempty"`
	CreatedAtUnix  int64  `protobuf:"varint,4,opt,name=created_at_unix,json=createdAtUnix,proto3" json:"created_at_unix,omitempty"`
	ReadyToUse     bool   `protobuf:"varint,5,opt,name=ready_to_use,json=readyToUse,proto3" json:"ready_to_use,omitempty"`
}

func (m *Snapshot) Reset()         { *m = Snapshot{} }
func (m *Snapshot) String() string { return proto.CompactTextString(m) }
func (*Snapshot) ProtoMessage()    {}

func (m *Snapshot) GetSnapshotId() string {
	if m != nil {
		return m.SnapshotId
	}
	return ""
}

func (m *Snapshot) GetSourceVolumeId() string {
	if m != nil {
		return m.SourceVolumeId
	}
	return ""
}

func (m *Snapshot) GetSizeBytes() int64 {
	if m != nil {
		return m.SizeBytes
	}
	return 0
}

func (m *Snapshot) GetCreatedAtUnix() int64 {
	if m != nil {
		return m.CreatedAtUnix
	}
	return 0
}

func (m *Snapshot) GetReadyToUse() bool {
	if m != nil {
		return m.ReadyToUse
	}
	return false
}

type CreateVolumeRequest struct {
	VolumeId         string            `protobuf:"bytes,1,opt,name=volume_id,json=volumeId,proto3" json:"volume_id,omitempty"`
	CapacityBytes    int64             `protobuf:"varint,2,opt,name=capacity_bytes,json=capacityBytes,proto3" json:"capacity_bytes,omitempty"`
	Protocol         Protocol          `protobuf:"varint,3,opt,name=protocol,proto3,enum=agentpb.Protocol" json:"protocol,omitempty"`
	Parameters       map[string]string `protobuf:"bytes,4,rep,name=parameters,proto3" json:"parameters,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
	SourceSnapshotId string            `protobuf:"bytes,5,opt,name=source_snapshot_id,json=sourceSnapshotId,proto3" json:"source_snapshot_id,omitempty"`
	ChapCredentials  *CHAPCredentials  `protobuf:"bytes,6,opt,name=chap_credentials,json=chapCredentials,proto3" json:"chap_credentials,omitempty"`
}

func (m *CreateVolumeRequest) Reset()         { *m = CreateVolumeRequest{} }
func (m *CreateVolumeRequest) String() string { return proto.CompactTextString(m) }
func (*CreateVolumeRequest) ProtoMessage()    {}

func (m *CreateVolumeRequest) GetVolumeId() string {
	if m != nil {
		return m.VolumeId
	}
	return ""
}

func (m *CreateVolumeRequest) GetCapacityBytes() int64 {
	if m != nil {
		return m.CapacityBytes
	}
	return 0
}

func (m *CreateVolumeRequest) GetProtocol() Protocol {
	if m != nil {
		return m.Protocol
	}
	return Protocol_PROTOCOL_UNSPECIFIED
}

func (m *CreateVolumeRequest) GetParameters() map[string]string {
	if m != nil {
		return m.Parameters
	}
	return nil
}

func (m *CreateVolumeRequest) GetSourceSnapshotId() string {
	if m != nil {
		return m.SourceSnapshotId
	}
	return ""
}

func (m *CreateVolumeRequest) GetChapCredentials() *CHAPCredentials {
	if m != nil {
		return m.ChapCredentials
	}
	return nil
}

type CreateVolumeResponse struct {
	Volume *Volume `protobuf:"bytes,1,opt,name=volume,proto3" json:"volume,omitempty"`
}

func (m *CreateVolumeResponse) Reset()         { *m = CreateVolumeResponse{} }
func (m *CreateVolumeResponse) String() string { return proto.CompactTextString(m) }
func (*CreateVolumeResponse) ProtoMessage()    {}

func (m *CreateVolumeResponse) GetVolume() *Volume {
	if m != nil {
		return m.Volume
	}
	return nil
}

type DeleteVolumeRequest struct {
	VolumeId string `protobuf:"bytes,1,opt,name=volume_id,json=volumeId,proto3" json:"volume_id,omitempty"`
}

func (m *DeleteVolumeRequest) Reset()         { *m = DeleteVolumeRequest{} }
func (m *DeleteVolumeRequest) String() string { return proto.CompactTextString(m) }
func (*DeleteVolumeRequest) ProtoMessage()    {}

func (m *DeleteVolumeRequest) GetVolumeId() string {
	if m != nil {
		return m.VolumeId
	}
	return ""
}

type DeleteVolumeResponse struct{}

func (m *DeleteVolumeResponse) Reset()         { *m = DeleteVolumeResponse{} }
func (m *DeleteVolumeResponse) String() string { return proto.CompactTextString(m) }
func (*DeleteVolumeResponse) ProtoMessage()    {}

type ExpandVolumeRequest struct {
	VolumeId       string `protobuf:"bytes,1,opt,name=volume_id,json=volumeId,proto3" json:"volume_id,omitempty"`
	RequestedBytes int64  `protobuf:"varint,2,opt,name=requested_bytes,json=requestedBytes,proto3" json:"requested_bytes,omitempty"`
}

func (m *ExpandVolumeRequest) Reset()         { *m = ExpandVolumeRequest{} }
func (m *ExpandVolumeRequest) String() string { return proto.CompactTextString(m) }
func (*ExpandVolumeRequest) ProtoMessage()    {}

func (m *ExpandVolumeRequest) GetVolumeId() string {
	if m != nil {
		return m.VolumeId
	}
	return ""
}

func (m *ExpandVolumeRequest) GetRequestedBytes() int64 {
	if m != nil {
		return m.RequestedBytes
	}
	return 0
}

type ExpandVolumeResponse struct {
	CapacityBytes int64 `protobuf:"varint,1,opt,name=capacity_bytes,json=capacityBytes,proto3" json:"capacity_bytes,omitempty"`
}

func (m *ExpandVolumeResponse) Reset()         { *m = ExpandVolumeResponse{} }
func (m *ExpandVolumeResponse) String() string { return proto.CompactTextString(m) }
func (*ExpandVolumeResponse) ProtoMessage()    {}

func (m *ExpandVolumeResponse) GetCapacityBytes() int64 {
	if m != nil {
		return m.CapacityBytes
	}
	return 0
}

type GetVolumeRequest struct {
	VolumeId string `protobuf:"bytes,1,opt,name=volume_id,json=volumeId,proto3" json:"volume_id,omitempty"`
}

func (m *GetVolumeRequest) Reset()         { *m = GetVolumeRequest{} }
func (m *GetVolumeRequest) String() string { return proto.CompactTextString(m) }
func (*GetVolumeRequest) ProtoMessage()    {}

func (m *GetVolumeRequest) GetVolumeId() string {
	if m != nil {
		return m.VolumeId
	}
	return ""
}

type GetVolumeResponse struct {
	Volume *Volume `protobuf:"bytes,1,opt,name=volume,proto3" json:"volume,omitempty"`
}

func (m *GetVolumeResponse) Reset()         { *m = GetVolumeResponse{} }
func (m *GetVolumeResponse) String() string { return proto.CompactTextString(m) }
func (*GetVolumeResponse) ProtoMessage()    {}

func (m *GetVolumeResponse) GetVolume() *Volume {
	if m != nil {
		return m.Volume
	}
	return nil
}

type ListVolumesRequest struct {
	MaxEntries    int32  `protobuf:"varint,1,opt,name=max_entries,json=maxEntries,proto3" json:"max_entries,omitempty"`
	StartingToken string `protobuf:"bytes,2,opt,name=starting_token,json=startingToken,proto3" json:"starting_token,omitempty"`
}

func (m *ListVolumesRequest) Reset()         { *m = ListVolumesRequest{} }
func (m *ListVolumesRequest) String() string { return proto.CompactTextString(m) }
func (*ListVolumesRequest) ProtoMessage()    {}

func (m *ListVolumesRequest) GetMaxEntries() int32 {
	if m != nil {
		return m.MaxEntries
	}
	return 0
}

func (m *ListVolumesRequest) GetStartingToken() string {
	if m != nil {
		return m.StartingToken
	}
	return ""
}

type ListVolumesResponse struct {
	Volumes   []*Volume `protobuf:"bytes,1,rep,name=volumes,proto3" json:"volumes,omitempty"`
	NextToken string    `protobuf:"bytes,2,opt,name=next_token,json=nextToken,proto3" json:"next_token,omitempty"`
}

func (m *ListVolumesResponse) Reset()         { *m = ListVolumesResponse{} }
func (m *ListVolumesResponse) String() string { return proto.CompactTextString(m) }
func (*ListVolumesResponse) ProtoMessage()    {}

func (m *ListVolumesResponse) GetVolumes() []*Volume {
	if m != nil {
		return m.Volumes
	}
	return nil
}

func (m *ListVolumesResponse) GetNextToken() string {
	if m != nil {
		return m.NextToken
	}
	return ""
}

type CreateSnapshotRequest struct {
	SnapshotId     string `protobuf:"bytes,1,opt,name=snapshot_id,json=snapshotId,proto3" json:"snapshot_id,omitempty"`
	SourceVolumeId string `protobuf:"bytes,2,opt,name=source_volume_id,json=sourceVolumeId,proto3" json:"source_volume_id,omitempty"`
}

func (m *CreateSnapshotRequest) Reset()         { *m = CreateSnapshotRequest{} }
func (m *CreateSnapshotRequest) String() string { return proto.CompactTextString(m) }
func (*CreateSnapshotRequest) ProtoMessage()    {}

func (m *CreateSnapshotRequest) GetSnapshotId() string {
	if m != nil {
		return m.SnapshotId
	}
	return ""
}

func (m *CreateSnapshotRequest) GetSourceVolumeId() string {
	if m != nil {
		return m.SourceVolumeId
	}
	return ""
}

type CreateSnapshotResponse struct {
	Snapshot *Snapshot `protobuf:"bytes,1,opt,name=snapshot,proto3" json:"snapshot,omitempty"`
}

func (m *CreateSnapshotResponse) Reset()         { *m = CreateSnapshotResponse{} }
func (m *CreateSnapshotResponse) String() string { return proto.CompactTextString(m) }
func (*CreateSnapshotResponse) ProtoMessage()    {}

func (m *CreateSnapshotResponse) GetSnapshot() *Snapshot {
	if m != nil {
		return m.Snapshot
	}
	return nil
}

type DeleteSnapshotRequest struct {
	SnapshotId string `protobuf:"bytes,1,opt,name=snapshot_id,json=snapshotId,proto3" json:"snapshot_id,omitempty"`
}

func (m *DeleteSnapshotRequest) Reset()         { *m = DeleteSnapshotRequest{} }
func (m *DeleteSnapshotRequest) String() string { return proto.CompactTextString(m) }
func (*DeleteSnapshotRequest) ProtoMessage()    {}

func (m *DeleteSnapshotRequest) GetSnapshotId() string {
	if m != nil {
		return m.SnapshotId
	}
	return ""
}

type DeleteSnapshotResponse struct{}

func (m *DeleteSnapshotResponse) Reset()         { *m = DeleteSnapshotResponse{} }
func (m *DeleteSnapshotResponse) String() string { return proto.CompactTextString(m) }
func (*DeleteSnapshotResponse) ProtoMessage()    {}

type GetSnapshotRequest struct {
	SnapshotId string `protobuf:"bytes,1,opt,name=snapshot_id,json=snapshotId,proto3" json:"snapshot_id,omitempty"`
}

func (m *GetSnapshotRequest) Reset()         { *m = GetSnapshotRequest{} }
func (m *GetSnapshotRequest) String() string { return proto.CompactTextString(m) }
func (*GetSnapshotRequest) ProtoMessage()    {}

func (m *GetSnapshotRequest) GetSnapshotId() string {
	if m != nil {
		return m.SnapshotId
	}
	return ""
}

type GetSnapshotResponse struct {
	Snapshot *Snapshot `protobuf:"bytes,1,opt,name=snapshot,proto3" json:"snapshot,omitempty"`
}

func (m *GetSnapshotResponse) Reset()         { *m = GetSnapshotResponse{} }
func (m *GetSnapshotResponse) String() string { return proto.CompactTextString(m) }
func (*GetSnapshotResponse) ProtoMessage()    {}

func (m *GetSnapshotResponse) GetSnapshot() *Snapshot {
	if m != nil {
		return m.Snapshot
	}
	return nil
}

type ListSnapshotsRequest struct {
	MaxEntries     int32  `protobuf:"varint,1,opt,name=max_entries,json=maxEntries,proto3" json:"max_entries,omitempty"`
	StartingToken  string `protobuf:"bytes,2,opt,name=starting_token,json=startingToken,proto3" json:"starting_token,omitempty"`
	SourceVolumeId string `protobuf:"bytes,3,opt,name=source_volume_id,json=sourceVolumeId,proto3" json:"source_volume_id,omitempty"`
}

func (m *ListSnapshotsRequest) Reset()         { *m = ListSnapshotsRequest{} }
func (m *ListSnapshotsRequest) String() string { return proto.CompactTextString(m) }
func (*ListSnapshotsRequest) ProtoMessage()    {}

func (m *ListSnapshotsRequest) GetMaxEntries() int32 {
	if m != nil {
		return m.MaxEntries
	}
	return 0
}

func (m *ListSnapshotsRequest) GetStartingToken() string {
	if m != nil {
		return m.StartingToken
	}
	return ""
}

func (m *ListSnapshotsRequest) GetSourceVolumeId() string {
	if m != nil {
		return m.SourceVolumeId
	}
	return ""
}

type ListSnapshotsResponse struct {
	Snapshots []*Snapshot `protobuf:"bytes,1,rep,name=snapshots,proto3" json:"snapshots,omitempty"`
	NextToken string      `protobuf:"bytes,2,opt,name=next_token,json=nextToken,proto3" json:"next_token,omitempty"`
}

func (m *ListSnapshotsResponse) Reset()         { *m = ListSnapshotsResponse{} }
func (m *ListSnapshotsResponse) String() string { return proto.CompactTextString(m) }
func (*ListSnapshotsResponse) ProtoMessage()    {}

func (m *ListSnapshotsResponse) GetSnapshots() []*Snapshot {
	if m != nil {
		return m.Snapshots
	}
	return nil
}

func (m *ListSnapshotsResponse) GetNextToken() string {
	if m != nil {
		return m.NextToken
	}
	return ""
}

type GetCapacityRequest struct {
	Protocol Protocol `protobuf:"varint,1,opt,name=protocol,proto3,enum=agentpb.Protocol" json:"protocol,omitempty"`
}

func (m *GetCapacityRequest) Reset()         { *m = GetCapacityRequest{} }
func (m *GetCapacityRequest) String() string { return proto.CompactTextString(m) }
func (*GetCapacityRequest) ProtoMessage()    {}

func (m *GetCapacityRequest) GetProtocol() Protocol {
	if m != nil {
		return m.Protocol
	}
	return Protocol_PROTOCOL_UNSPECIFIED
}

type GetCapacityResponse struct {
	AvailableBytes int64 `protobuf:"varint,1,opt,name=available_bytes,json=availableBytes,proto3" json:"available_bytes,omitempty"`
}

func (m *GetCapacityResponse) Reset()         { *m = GetCapacityResponse{} }
func (m *GetCapacityResponse) String() string { return proto.CompactTextString(m) }
func (*GetCapacityResponse) ProtoMessage()    {}

func (m *GetCapacityResponse) GetAvailableBytes() int64 {
	if m != nil {
		return m.AvailableBytes
	}
	return 0
}
