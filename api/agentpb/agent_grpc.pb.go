// Code generated by hand in the style of protoc-gen-go-grpc.
// Source: agent.proto.

package agentpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	StorageAgent_CreateVolume_FullMethodName   = "/agentpb.StorageAgent/CreateVolume"
	StorageAgent_DeleteVolume_FullMethodName   = "/agentpb.StorageAgent/DeleteVolume"
	StorageAgent_ExpandVolume_FullMethodName   = "/agentpb.StorageAgent/ExpandVolume"
	StorageAgent_GetVolume_FullMethodName      = "/agentpb.StorageAgent/GetVolume"
	StorageAgent_ListVolumes_FullMethodName    = "/agentpb.StorageAgent/ListVolumes"
	StorageAgent_CreateSnapshot_FullMethodName = "/agentpb.StorageAgent/CreateSnapshot"
	StorageAgent_DeleteSnapshot_FullMethodName = "/agentpb.StorageAgent/DeleteSnapshot"
	StorageAgent_GetSnapshot_FullMethodName    = "/agentpb.StorageAgent/GetSnapshot"
	StorageAgent_ListSnapshots_FullMethodName  = "/agentpb.StorageAgent/ListSnapshots"
	StorageAgent_GetCapacity_FullMethodName    = "/agentpb.StorageAgent/GetCapacity"
)

// StorageAgentClient is the client API for StorageAgent.
type StorageAgentClient interface {
	CreateVolume(ctx context.Context, in *CreateVolumeRequest, opts ...grpc.CallOption) (*CreateVolumeResponse, error)
	DeleteVolume(ctx context.Context, in *DeleteVolumeRequest, opts ...grpc.CallOption) (*DeleteVolumeResponse, error)
	ExpandVolume(ctx context.Context, in *ExpandVolumeRequest, opts ...grpc.CallOption) (*ExpandVolumeResponse, error)
	GetVolume(ctx context.Context, in *GetVolumeRequest, opts ...grpc.CallOption) (*GetVolumeResponse, error)
	ListVolumes(ctx context.Context, in *ListVolumesRequest, opts ...grpc.CallOption) (*ListVolumesResponse, error)
	CreateSnapshot(ctx context.Context, in *CreateSnapshotRequest, opts ...grpc.CallOption) (*CreateSnapshotResponse, error)
	DeleteSnapshot(ctx context.Context, in *DeleteSnapshotRequest, opts ...grpc.CallOption) (*DeleteSnapshotResponse, error)
	GetSnapshot(ctx context.Context, in *GetSnapshotRequest, opts ...grpc.CallOption) (*GetSnapshotResponse, error)
	ListSnapshots(ctx context.Context, in *ListSnapshotsRequest, opts ...grpc.CallOption) (*ListSnapshotsResponse, error)
	GetCapacity(ctx context.Context, in *GetCapacityRequest, opts ...grpc.CallOption) (*GetCapacityResponse, error)
}

type storageAgentClient struct {
	cc grpc.ClientConnInterface
}

func NewStorageAgentClient(cc grpc.ClientConnInterface) StorageAgentClient {
	return &storageAgentClient{cc}
}

func (c *storageAgentClient) CreateVolume(ctx context.Context, in *CreateVolumeRequest, opts ...grpc.CallOption) (*CreateVolumeResponse, error) {
	out := new(CreateVolumeResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_CreateVolume_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageAgentClient) DeleteVolume(ctx context.Context, in *DeleteVolumeRequest, opts ...grpc.CallOption) (*DeleteVolumeResponse, error) {
	out := new(DeleteVolumeResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_DeleteVolume_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageAgentClient) ExpandVolume(ctx context.Context, in *ExpandVolumeRequest, opts ...grpc.CallOption) (*ExpandVolumeResponse, error) {
	out := new(ExpandVolumeResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_ExpandVolume_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageAgentClient) GetVolume(ctx context.Context, in *GetVolumeRequest, opts ...grpc.CallOption) (*GetVolumeResponse, error) {
	out := new(GetVolumeResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_GetVolume_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageAgentClient) ListVolumes(ctx context.Context, in *ListVolumesRequest, opts ...grpc.CallOption) (*ListVolumesResponse, error) {
	out := new(ListVolumesResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_ListVolumes_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageAgentClient) CreateSnapshot(ctx context.Context, in *CreateSnapshotRequest, opts ...grpc.CallOption) (*CreateSnapshotResponse, error) {
	out := new(CreateSnapshotResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_CreateSnapshot_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageAgentClient) DeleteSnapshot(ctx context.Context, in *DeleteSnapshotRequest, opts ...grpc.CallOption) (*DeleteSnapshotResponse, error) {
	out := new(DeleteSnapshotResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_DeleteSnapshot_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageAgentClient) GetSnapshot(ctx context.Context, in *GetSnapshotRequest, opts ...grpc.CallOption) (*GetSnapshotResponse, error) {
	out := new(GetSnapshotResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_GetSnapshot_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageAgentClient) ListSnapshots(ctx context.Context, in *ListSnapshotsRequest, opts ...grpc.CallOption) (*ListSnapshotsResponse, error) {
	out := new(ListSnapshotsResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_ListSnapshots_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageAgentClient) GetCapacity(ctx context.Context, in *GetCapacityRequest, opts ...grpc.CallOption) (*GetCapacityResponse, error) {
	out := new(GetCapacityResponse)
	if err := c.cc.Invoke(ctx, StorageAgent_GetCapacity_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StorageAgentServer is the server API for StorageAgent.
type StorageAgentServer interface {
	CreateVolume(context.Context, *CreateVolumeRequest) (*CreateVolumeResponse, error)
	DeleteVolume(context.Context, *DeleteVolumeRequest) (*DeleteVolumeResponse, error)
	ExpandVolume(context.Context, *ExpandVolumeRequest) (*ExpandVolumeResponse, error)
	GetVolume(context.Context, *GetVolumeRequest) (*GetVolumeResponse, error)
	ListVolumes(context.Context, *ListVolumesRequest) (*ListVolumesResponse, error)
	CreateSnapshot(context.Context, *CreateSnapshotRequest) (*CreateSnapshotResponse, error)
	DeleteSnapshot(context.Context, *DeleteSnapshotRequest) (*DeleteSnapshotResponse, error)
	GetSnapshot(context.Context, *GetSnapshotRequest) (*GetSnapshotResponse, error)
	ListSnapshots(context.Context, *ListSnapshotsRequest) (*ListSnapshotsResponse, error)
	GetCapacity(context.Context, *GetCapacityRequest) (*GetCapacityResponse, error)
	mustEmbedUnimplementedStorageAgentServer()
}

// UnimplementedStorageAgentServer must be embedded for forward compatibility.
type UnimplementedStorageAgentServer struct{}

func (UnimplementedStorageAgentServer) CreateVolume(context.Context, *CreateVolumeRequest) (*CreateVolumeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateVolume not implemented")
}

func (UnimplementedStorageAgentServer) DeleteVolume(context.Context, *DeleteVolumeRequest) (*DeleteVolumeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteVolume not implemented")
}

func (UnimplementedStorageAgentServer) ExpandVolume(context.Context, *ExpandVolumeRequest) (*ExpandVolumeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ExpandVolume not implemented")
}

func (UnimplementedStorageAgentServer) GetVolume(context.Context, *GetVolumeRequest) (*GetVolumeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetVolume not implemented")
}

func (UnimplementedStorageAgentServer) ListVolumes(context.Context, *ListVolumesRequest) (*ListVolumesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListVolumes not implemented")
}

func (UnimplementedStorageAgentServer) CreateSnapshot(context.Context, *CreateSnapshotRequest) (*CreateSnapshotResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateSnapshot not implemented")
}

func (UnimplementedStorageAgentServer) DeleteSnapshot(context.Context, *DeleteSnapshotRequest) (*DeleteSnapshotResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteSnapshot not implemented")
}

func (UnimplementedStorageAgentServer) GetSnapshot(context.Context, *GetSnapshotRequest) (*GetSnapshotResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSnapshot not implemented")
}

func (UnimplementedStorageAgentServer) ListSnapshots(context.Context, *ListSnapshotsRequest) (*ListSnapshotsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSnapshots not implemented")
}

func (UnimplementedStorageAgentServer) GetCapacity(context.Context, *GetCapacityRequest) (*GetCapacityResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCapacity not implemented")
}

func (UnimplementedStorageAgentServer) mustEmbedUnimplementedStorageAgentServer() {}

func RegisterStorageAgentServer(s grpc.ServiceRegistrar, srv StorageAgentServer) {
	s.RegisterService(&StorageAgent_ServiceDesc, srv)
}

func _StorageAgent_CreateVolume_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateVolumeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).CreateVolume(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_CreateVolume_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).CreateVolume(ctx, req.(*CreateVolumeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorageAgent_DeleteVolume_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeleteVolumeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).DeleteVolume(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_DeleteVolume_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).DeleteVolume(ctx, req.(*DeleteVolumeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorageAgent_ExpandVolume_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExpandVolumeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).ExpandVolume(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_ExpandVolume_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).ExpandVolume(ctx, req.(*ExpandVolumeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorageAgent_GetVolume_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetVolumeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).GetVolume(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_GetVolume_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).GetVolume(ctx, req.(*GetVolumeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorageAgent_ListVolumes_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListVolumesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).ListVolumes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_ListVolumes_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).ListVolumes(ctx, req.(*ListVolumesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorageAgent_CreateSnapshot_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).CreateSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_CreateSnapshot_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).CreateSnapshot(ctx, req.(*CreateSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorageAgent_DeleteSnapshot_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeleteSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).DeleteSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_DeleteSnapshot_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).DeleteSnapshot(ctx, req.(*DeleteSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorageAgent_GetSnapshot_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_GetSnapshot_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).GetSnapshot(ctx, req.(*GetSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorageAgent_ListSnapshots_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListSnapshotsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).ListSnapshots(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_ListSnapshots_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).ListSnapshots(ctx, req.(*ListSnapshotsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorageAgent_GetCapacity_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetCapacityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageAgentServer).GetCapacity(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorageAgent_GetCapacity_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageAgentServer).GetCapacity(ctx, req.(*GetCapacityRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// StorageAgent_ServiceDesc is the grpc.ServiceDesc for StorageAgent service.
var StorageAgent_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "agentpb.StorageAgent",
	HandlerType: (*StorageAgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateVolume", Handler: _StorageAgent_CreateVolume_Handler},
		{MethodName: "DeleteVolume", Handler: _StorageAgent_DeleteVolume_Handler},
		{MethodName: "ExpandVolume", Handler: _StorageAgent_ExpandVolume_Handler},
		{MethodName: "GetVolume", Handler: _StorageAgent_GetVolume_Handler},
		{MethodName: "ListVolumes", Handler: _StorageAgent_ListVolumes_Handler},
		{MethodName: "CreateSnapshot", Handler: _StorageAgent_CreateSnapshot_Handler},
		{MethodName: "DeleteSnapshot", Handler: _StorageAgent_DeleteSnapshot_Handler},
		{MethodName: "GetSnapshot", Handler: _StorageAgent_GetSnapshot_Handler},
		{MethodName: "ListSnapshots", Handler: _StorageAgent_ListSnapshots_Handler},
		{MethodName: "GetCapacity", Handler: _StorageAgent_GetCapacity_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agent.proto",
}
