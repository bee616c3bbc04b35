package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ndenev/zvolcsi/api/agentpb"
)

// fakeAgentClient is a hand-rolled stand-in for AgentClient; each field is
// nil unless the test sets it, so unconfigured calls panic loudly.
type fakeAgentClient struct {
	closed bool

	createVolume   func(ctx context.Context, req *agentpb.CreateVolumeRequest) (*agentpb.CreateVolumeResponse, error)
	deleteVolume   func(ctx context.Context, req *agentpb.DeleteVolumeRequest) (*agentpb.DeleteVolumeResponse, error)
	expandVolume   func(ctx context.Context, req *agentpb.ExpandVolumeRequest) (*agentpb.ExpandVolumeResponse, error)
	getVolume      func(ctx context.Context, req *agentpb.GetVolumeRequest) (*agentpb.GetVolumeResponse, error)
	listVolumes    func(ctx context.Context, req *agentpb.ListVolumesRequest) (*agentpb.ListVolumesResponse, error)
	createSnapshot func(ctx context.Context, req *agentpb.CreateSnapshotRequest) (*agentpb.CreateSnapshotResponse, error)
	deleteSnapshot func(ctx context.Context, req *agentpb.DeleteSnapshotRequest) (*agentpb.DeleteSnapshotResponse, error)
	getSnapshot    func(ctx context.Context, req *agentpb.GetSnapshotRequest) (*agentpb.GetSnapshotResponse, error)
	listSnapshots  func(ctx context.Context, req *agentpb.ListSnapshotsRequest) (*agentpb.ListSnapshotsResponse, error)
	getCapacity    func(ctx context.Context, req *agentpb.GetCapacityRequest) (*agentpb.GetCapacityResponse, error)
}

func (f *fakeAgentClient) CreateVolume(ctx context.Context, req *agentpb.CreateVolumeRequest) (*agentpb.CreateVolumeResponse, error) {
	return f.createVolume(ctx, req)
}
func (f *fakeAgentClient) DeleteVolume(ctx context.Context, req *agentpb.DeleteVolumeRequest) (*agentpb.DeleteVolumeResponse, error) {
	return f.deleteVolume(ctx, req)
}
func (f *fakeAgentClient) ExpandVolume(ctx context.Context, req *agentpb.ExpandVolumeRequest) (*agentpb.ExpandVolumeResponse, error) {
	return f.expandVolume(ctx, req)
}
func (f *fakeAgentClient) GetVolume(ctx context.Context, req *agentpb.GetVolumeRequest) (*agentpb.GetVolumeResponse, error) {
	return f.getVolume(ctx, req)
}
func (f *fakeAgentClient) ListVolumes(ctx context.Context, req *agentpb.ListVolumesRequest) (*agentpb.ListVolumesResponse, error) {
	return f.listVolumes(ctx, req)
}
func (f *fakeAgentClient) CreateSnapshot(ctx context.Context, req *agentpb.CreateSnapshotRequest) (*agentpb.CreateSnapshotResponse, error) {
	return f.createSnapshot(ctx, req)
}
func (f *fakeAgentClient) DeleteSnapshot(ctx context.Context, req *agentpb.DeleteSnapshotRequest) (*agentpb.DeleteSnapshotResponse, error) {
	return f.deleteSnapshot(ctx, req)
}
func (f *fakeAgentClient) GetSnapshot(ctx context.Context, req *agentpb.GetSnapshotRequest) (*agentpb.GetSnapshotResponse, error) {
	return f.getSnapshot(ctx, req)
}
func (f *fakeAgentClient) ListSnapshots(ctx context.Context, req *agentpb.ListSnapshotsRequest) (*agentpb.ListSnapshotsResponse, error) {
	return f.listSnapshots(ctx, req)
}
func (f *fakeAgentClient) GetCapacity(ctx context.Context, req *agentpb.GetCapacityRequest) (*agentpb.GetCapacityResponse, error) {
	return f.getCapacity(ctx, req)
}
func (f *fakeAgentClient) Close() error {
	f.closed = true
	return nil
}

func newTestController(fake *fakeAgentClient) *ControllerService {
	return newControllerServiceForTest(func(ctx context.Context) (AgentClient, error) {
		return fake, nil
	}, "storage.example.com")
}

func TestCreateVolumeRequiresName(t *testing.T) {
	s := newTestController(&fakeAgentClient{})
	_, err := s.CreateVolume(context.Background(), &csi.CreateVolumeRequest{
		VolumeCapabilities: []*csi.VolumeCapability{{AccessMode: &csi.VolumeCapability_AccessMode{Mode: csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER}}},
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestCreateVolumeRejectsMultiNodeAccessMode(t *testing.T) {
	s := newTestController(&fakeAgentClient{})
	_, err := s.CreateVolume(context.Background(), &csi.CreateVolumeRequest{
		Name:               "pvc-a1",
		CapacityRange:      &csi.CapacityRange{RequiredBytes: 1 << 30},
		VolumeCapabilities: []*csi.VolumeCapability{{AccessMode: &csi.VolumeCapability_AccessMode{Mode: csi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER}}},
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestCreateVolumeRejectsCloneFromVolume(t *testing.T) {
	s := newTestController(&fakeAgentClient{})
	_, err := s.CreateVolume(context.Background(), &csi.CreateVolumeRequest{
		Name:               "pvc-a1",
		CapacityRange:      &csi.CapacityRange{RequiredBytes: 1 << 30},
		VolumeCapabilities: []*csi.VolumeCapability{{AccessMode: &csi.VolumeCapability_AccessMode{Mode: csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER}}},
		VolumeContentSource: &csi.VolumeContentSource{
			Type: &csi.VolumeContentSource_Volume{Volume: &csi.VolumeContentSource_VolumeSource{VolumeId: "pvc-other"}},
		},
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestCreateVolumeSuccess(t *testing.T) {
	fake := &fakeAgentClient{
		createVolume: func(ctx context.Context, req *agentpb.CreateVolumeRequest) (*agentpb.CreateVolumeResponse, error) {
			if req.GetVolumeId() != "pvc-a1" || req.GetCapacityBytes() != 1<<30 {
				t.Fatalf("unexpected request: %+v", req)
			}
			return &agentpb.CreateVolumeResponse{
				Volume: &agentpb.Volume{VolumeId: "pvc-a1", CapacityBytes: 1 << 30},
			}, nil
		},
	}
	s := newTestController(fake)
	resp, err := s.CreateVolume(context.Background(), &csi.CreateVolumeRequest{
		Name:               "pvc-a1",
		CapacityRange:      &csi.CapacityRange{RequiredBytes: 1 << 30},
		VolumeCapabilities: []*csi.VolumeCapability{{AccessMode: &csi.VolumeCapability_AccessMode{Mode: csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER}}},
	})
	if err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if resp.GetVolume().GetVolumeContext()["storageAddress"] != "storage.example.com" {
		t.Fatalf("unexpected volume context: %+v", resp.GetVolume().GetVolumeContext())
	}
}

func TestDeleteVolumeTreatsNotFoundAsSuccess(t *testing.T) {
	fake := &fakeAgentClient{
		deleteVolume: func(ctx context.Context, req *agentpb.DeleteVolumeRequest) (*agentpb.DeleteVolumeResponse, error) {
			return nil, status.Error(codes.NotFound, "no such volume")
		},
	}
	s := newTestController(fake)
	_, err := s.DeleteVolume(context.Background(), &csi.DeleteVolumeRequest{VolumeId: "pvc-a1"})
	if err != nil {
		t.Fatalf("DeleteVolume: %v", err)
	}
}

func TestDeleteVolumeRequiresID(t *testing.T) {
	s := newTestController(&fakeAgentClient{})
	_, err := s.DeleteVolume(context.Background(), &csi.DeleteVolumeRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestControllerExpandVolumeRequiresNodeExpansion(t *testing.T) {
	fake := &fakeAgentClient{
		expandVolume: func(ctx context.Context, req *agentpb.ExpandVolumeRequest) (*agentpb.ExpandVolumeResponse, error) {
			return &agentpb.ExpandVolumeResponse{CapacityBytes: 2 << 30}, nil
		},
	}
	s := newTestController(fake)
	resp, err := s.ControllerExpandVolume(context.Background(), &csi.ControllerExpandVolumeRequest{
		VolumeId:      "pvc-a1",
		CapacityRange: &csi.CapacityRange{RequiredBytes: 2 << 30},
	})
	if err != nil {
		t.Fatalf("ControllerExpandVolume: %v", err)
	}
	if !resp.GetNodeExpansionRequired() {
		t.Fatal("expected node_expansion_required to be true")
	}
}

func TestValidateVolumeCapabilitiesConfirmsMultiNodeReaderOnly(t *testing.T) {
	fake := &fakeAgentClient{
		getVolume: func(ctx context.Context, req *agentpb.GetVolumeRequest) (*agentpb.GetVolumeResponse, error) {
			return &agentpb.GetVolumeResponse{Volume: &agentpb.Volume{VolumeId: "pvc-a1"}}, nil
		},
	}
	s := newTestController(fake)
	resp, err := s.ValidateVolumeCapabilities(context.Background(), &csi.ValidateVolumeCapabilitiesRequest{
		VolumeId:           "pvc-a1",
		VolumeCapabilities: []*csi.VolumeCapability{{AccessMode: &csi.VolumeCapability_AccessMode{Mode: csi.VolumeCapability_AccessMode_MULTI_NODE_READER_ONLY}}},
	})
	if err != nil {
		t.Fatalf("ValidateVolumeCapabilities: %v", err)
	}
	if resp.GetConfirmed() == nil {
		t.Fatal("MULTI_NODE_READER_ONLY should always be confirmed")
	}
}

func TestValidateVolumeCapabilitiesRejectsMultiNodeWriterOnMount(t *testing.T) {
	fake := &fakeAgentClient{
		getVolume: func(ctx context.Context, req *agentpb.GetVolumeRequest) (*agentpb.GetVolumeResponse, error) {
			return &agentpb.GetVolumeResponse{Volume: &agentpb.Volume{VolumeId: "pvc-a1"}}, nil
		},
	}
	s := newTestController(fake)
	resp, err := s.ValidateVolumeCapabilities(context.Background(), &csi.ValidateVolumeCapabilitiesRequest{
		VolumeId: "pvc-a1",
		VolumeCapabilities: []*csi.VolumeCapability{{
			AccessMode: &csi.VolumeCapability_AccessMode{Mode: csi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER},
			AccessType: &csi.VolumeCapability_Mount{Mount: &csi.VolumeCapability_MountVolume{}},
		}},
	})
	if err != nil {
		t.Fatalf("ValidateVolumeCapabilities: %v", err)
	}
	if resp.GetConfirmed() != nil {
		t.Fatal("MULTI_NODE_MULTI_WRITER on a mount volume should leave Confirmed unset")
	}
}

func TestValidateVolumeCapabilitiesConfirmsMultiNodeWriterOnBlock(t *testing.T) {
	fake := &fakeAgentClient{
		getVolume: func(ctx context.Context, req *agentpb.GetVolumeRequest) (*agentpb.GetVolumeResponse, error) {
			return &agentpb.GetVolumeResponse{Volume: &agentpb.Volume{VolumeId: "pvc-a1"}}, nil
		},
	}
	s := newTestController(fake)
	resp, err := s.ValidateVolumeCapabilities(context.Background(), &csi.ValidateVolumeCapabilitiesRequest{
		VolumeId: "pvc-a1",
		VolumeCapabilities: []*csi.VolumeCapability{{
			AccessMode: &csi.VolumeCapability_AccessMode{Mode: csi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER},
			AccessType: &csi.VolumeCapability_Block{Block: &csi.VolumeCapability_BlockVolume{}},
		}},
	})
	if err != nil {
		t.Fatalf("ValidateVolumeCapabilities: %v", err)
	}
	if resp.GetConfirmed() == nil {
		t.Fatal("MULTI_NODE_MULTI_WRITER on a raw-block volume should be confirmed")
	}
}

func TestValidateVolumeCapabilitiesNotFound(t *testing.T) {
	fake := &fakeAgentClient{
		getVolume: func(ctx context.Context, req *agentpb.GetVolumeRequest) (*agentpb.GetVolumeResponse, error) {
			return nil, status.Error(codes.NotFound, "no such volume")
		},
	}
	s := newTestController(fake)
	_, err := s.ValidateVolumeCapabilities(context.Background(), &csi.ValidateVolumeCapabilitiesRequest{
		VolumeId:           "pvc-missing",
		VolumeCapabilities: []*csi.VolumeCapability{{AccessMode: &csi.VolumeCapability_AccessMode{Mode: csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER}}},
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestListVolumesTranslatesPagination(t *testing.T) {
	fake := &fakeAgentClient{
		listVolumes: func(ctx context.Context, req *agentpb.ListVolumesRequest) (*agentpb.ListVolumesResponse, error) {
			return &agentpb.ListVolumesResponse{
				Volumes:   []*agentpb.Volume{{VolumeId: "pvc-a1"}, {VolumeId: "pvc-a2"}},
				NextToken: "2",
			}, nil
		},
	}
	s := newTestController(fake)
	resp, err := s.ListVolumes(context.Background(), &csi.ListVolumesRequest{})
	if err != nil {
		t.Fatalf("ListVolumes: %v", err)
	}
	if len(resp.GetEntries()) != 2 || resp.GetNextToken() != "2" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestListVolumesTranslatesInvalidTokenToAborted(t *testing.T) {
	fake := &fakeAgentClient{
		listVolumes: func(ctx context.Context, req *agentpb.ListVolumesRequest) (*agentpb.ListVolumesResponse, error) {
			return nil, status.Error(codes.InvalidArgument, "starting_token out of range")
		},
	}
	s := newTestController(fake)
	_, err := s.ListVolumes(context.Background(), &csi.ListVolumesRequest{StartingToken: "99"})
	if status.Code(err) != codes.Aborted {
		t.Fatalf("err = %v, want Aborted", err)
	}
}

func TestCreateSnapshotComposesCompoundID(t *testing.T) {
	fake := &fakeAgentClient{
		createSnapshot: func(ctx context.Context, req *agentpb.CreateSnapshotRequest) (*agentpb.CreateSnapshotResponse, error) {
			if req.GetSnapshotId() != "pvc-a1@snap1" {
				t.Fatalf("snapshot_id = %q, want pvc-a1@snap1", req.GetSnapshotId())
			}
			return &agentpb.CreateSnapshotResponse{Snapshot: &agentpb.Snapshot{SnapshotId: req.GetSnapshotId(), ReadyToUse: true}}, nil
		},
	}
	s := newTestController(fake)
	resp, err := s.CreateSnapshot(context.Background(), &csi.CreateSnapshotRequest{Name: "snap1", SourceVolumeId: "pvc-a1"})
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if !resp.GetSnapshot().GetReadyToUse() {
		t.Fatal("expected ready_to_use true")
	}
}

func TestDeleteSnapshotTreatsNotFoundAsSuccess(t *testing.T) {
	fake := &fakeAgentClient{
		deleteSnapshot: func(ctx context.Context, req *agentpb.DeleteSnapshotRequest) (*agentpb.DeleteSnapshotResponse, error) {
			return nil, status.Error(codes.NotFound, "no such snapshot")
		},
	}
	s := newTestController(fake)
	if _, err := s.DeleteSnapshot(context.Background(), &csi.DeleteSnapshotRequest{SnapshotId: "pvc-a1@snap1"}); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
}

func TestListSnapshotsBySnapshotID(t *testing.T) {
	fake := &fakeAgentClient{
		getSnapshot: func(ctx context.Context, req *agentpb.GetSnapshotRequest) (*agentpb.GetSnapshotResponse, error) {
			return &agentpb.GetSnapshotResponse{Snapshot: &agentpb.Snapshot{SnapshotId: req.GetSnapshotId()}}, nil
		},
	}
	s := newTestController(fake)
	resp, err := s.ListSnapshots(context.Background(), &csi.ListSnapshotsRequest{SnapshotId: "pvc-a1@snap1"})
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(resp.GetEntries()) != 1 {
		t.Fatalf("entries = %d, want 1", len(resp.GetEntries()))
	}
}

func TestGetCapacityRejectsUnknownProtocol(t *testing.T) {
	s := newTestController(&fakeAgentClient{})
	_, err := s.GetCapacity(context.Background(), &csi.GetCapacityRequest{Parameters: map[string]string{"protocol": "ceph"}})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestControllerPublishUnpublishUnimplemented(t *testing.T) {
	s := newTestController(&fakeAgentClient{})
	if _, err := s.ControllerPublishVolume(context.Background(), &csi.ControllerPublishVolumeRequest{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("ControllerPublishVolume err = %v, want Unimplemented", err)
	}
	if _, err := s.ControllerUnpublishVolume(context.Background(), &csi.ControllerUnpublishVolumeRequest{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("ControllerUnpublishVolume err = %v, want Unimplemented", err)
	}
}

func TestAgentClientDialFailureSurfacesUnavailable(t *testing.T) {
	s := &ControllerService{
		cache: &agentConnCache{dial: func(ctx context.Context) (AgentClient, error) {
			return nil, errors.New("dial tcp: connection refused")
		}},
	}
	_, err := s.CreateVolume(context.Background(), &csi.CreateVolumeRequest{
		Name:               "pvc-a1",
		CapacityRange:      &csi.CapacityRange{RequiredBytes: 1 << 30},
		VolumeCapabilities: []*csi.VolumeCapability{{AccessMode: &csi.VolumeCapability_AccessMode{Mode: csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER}}},
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("err = %v, want Unavailable", err)
	}
}
