package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/ndenev/zvolcsi/internal/targetname"
	"github.com/ndenev/zvolcsi/pkg/mount"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// Static errors for NVMe-oF operations.
var (
	ErrNVMeCLINotFound             = errors.New("nvme command not found - please install nvme-cli")
	ErrNVMeDeviceNotFound          = errors.New("NVMe-oF device not found")
	ErrNVMeDeviceTimeout           = errors.New("timeout waiting for NVMe-oF device to appear")
	ErrNVMeConnectFailed           = errors.New("failed to connect to NVMe-oF target")
	ErrNVMeStillConnected          = errors.New("NVMe-oF subsystem still present after disconnect")
	ErrDeviceInitializationTimeout = errors.New("timeout waiting for device initialization")
	ErrDeviceSizeMismatch          = errors.New("device size does not match expected capacity")
)

// defaultNVMeOFMountOptions are sensible defaults for NVMe-oF filesystem mounts.
var defaultNVMeOFMountOptions = []string{"noatime"}

// nsidNVMeOF is fixed: every volume gets its own subsystem, so there is
// never more than one namespace per controller.
const nsidNVMeOF = 1

// nvmeOFConnectionParams holds validated NVMe-oF connection parameters.
// endpoints holds one or more "host:port" pairs; the node connects to every
// one of them and tolerates individual failures as long as at least one
// succeeds, the same posture as multi-portal iSCSI.
type nvmeOFConnectionParams struct {
	nqn       string
	transport string
	endpoints []string
}

// stageNVMeOFVolume stages an NVMe-oF volume by connecting to the target.
func (s *NodeService) stageNVMeOFVolume(ctx context.Context, req *csi.NodeStageVolumeRequest, volumeContext map[string]string) (*csi.NodeStageVolumeResponse, error) {
	volumeID := req.GetVolumeId()
	stagingTargetPath := req.GetStagingTargetPath()
	volumeCapability := req.GetVolumeCapability()

	params, err := s.buildNVMeOFParams(volumeID, volumeContext)
	if err != nil {
		return nil, err
	}

	isBlockVolume := volumeCapability.GetBlock() != nil
	klog.V(4).Infof("Staging NVMe-oF volume %s (block mode: %v): endpoints=%v, NQN=%s",
		volumeID, isBlockVolume, params.endpoints, params.nqn)

	if devicePath, findErr := s.findNVMeOFDevice(ctx, params.nqn); findErr == nil && devicePath != "" {
		klog.V(4).Infof("NVMe-oF device already connected at %s - reusing existing connection", devicePath)
		return s.stageNVMeOFDevice(ctx, volumeID, devicePath, stagingTargetPath, volumeCapability, isBlockVolume, volumeContext)
	}

	if checkErr := s.checkNVMeCLI(ctx); checkErr != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "nvme-cli not available: %v", checkErr)
	}

	if connectErr := s.connectNVMeOFTarget(ctx, params); connectErr != nil {
		return nil, status.Errorf(codes.Internal, "Failed to connect to NVMe-oF target: %v", connectErr)
	}

	timeout := 1 * time.Second
	if len(params.endpoints) > 1 {
		timeout = 3 * time.Second
	}
	klog.V(4).Infof("Waiting %v for NVMe-oF session settle before device lookup", timeout)
	time.Sleep(timeout)

	devicePath, err := s.waitForNVMeOFDevice(ctx, params.nqn, 30*time.Second)
	if err != nil {
		if disconnectErr := s.disconnectNVMeOFTarget(ctx, params.nqn); disconnectErr != nil {
			klog.Warningf("Failed to disconnect from NVMe-oF target after device wait failure: %v", disconnectErr)
		}
		return nil, status.Errorf(codes.Internal, "Failed to find NVMe-oF device after connect: %v", err)
	}

	klog.V(4).Infof("NVMe-oF device connected at %s (NQN: %s)", devicePath, params.nqn)

	return s.stageNVMeOFDevice(ctx, volumeID, devicePath, stagingTargetPath, volumeCapability, isBlockVolume, volumeContext)
}

// buildNVMeOFParams derives the NQN for volumeID from the node's configured
// base prefix rather than trusting a value out of VolumeContext, and reads
// one or more transport endpoints (comma-separated "host:port" pairs) to
// connect to. Transport defaults to TCP when the volume context omits it.
func (s *NodeService) buildNVMeOFParams(volumeID string, volumeContext map[string]string) (*nvmeOFConnectionParams, error) {
	nqn, err := targetname.NVMe(s.nvmeBasePrefix, volumeID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "cannot derive NVMe-oF target name: %v", err)
	}

	transport := volumeContext["transport"]
	if transport == "" {
		transport = "tcp"
	}

	server := volumeContext[VolumeContextKeyServer]
	if server == "" {
		return nil, status.Error(codes.InvalidArgument, "storage address must be provided in volume context")
	}

	var endpoints []string
	for _, endpoint := range strings.Split(server, ",") {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		if !strings.Contains(endpoint, ":") {
			endpoint += ":4420"
		}
		endpoints = append(endpoints, endpoint)
	}
	if len(endpoints) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no usable NVMe-oF endpoints in storage address")
	}

	return &nvmeOFConnectionParams{nqn: nqn, transport: transport, endpoints: endpoints}, nil
}

// checkNVMeCLI checks if nvme-cli is installed.
func (s *NodeService) checkNVMeCLI(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(checkCtx, "nvme", "version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %w", ErrNVMeCLINotFound, err)
	}
	return nil
}

// connectNVMeOFTarget connects to the NVMe-oF target across every
// configured endpoint. A single endpoint's failure is not fatal as long as
// at least one succeeds; "already connected" is treated as success for each.
func (s *NodeService) connectNVMeOFTarget(ctx context.Context, params *nvmeOFConnectionParams) error {
	g, gctx := errgroup.WithContext(ctx)
	successes := make([]bool, len(params.endpoints))
	errs := make([]error, len(params.endpoints))

	for i, endpoint := range params.endpoints {
		g.Go(func() error {
			err := connectNVMeOFEndpoint(gctx, params.nqn, params.transport, endpoint)
			errs[i] = err
			successes[i] = err == nil
			return nil // never abort siblings on one endpoint's failure
		})
	}
	_ = g.Wait()

	anySucceeded := false
	for i, ok := range successes {
		if ok {
			anySucceeded = true
		} else {
			klog.Warningf("NVMe-oF connect to endpoint %s failed: %v", params.endpoints[i], errs[i])
		}
	}
	if !anySucceeded {
		return fmt.Errorf("%w: all %d endpoint(s) failed", ErrNVMeConnectFailed, len(params.endpoints))
	}
	return nil
}

// connectNVMeOFEndpoint connects to a single NVMe-oF transport endpoint.
func connectNVMeOFEndpoint(ctx context.Context, nqn, transport, endpoint string) error {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return err
	}

	klog.V(4).Infof("Connecting to NVMe-oF target %s at %s:%s (%s)", nqn, host, port, transport)
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	//nolint:gosec // nvme connect with NQN/transport/endpoint from volume context is expected for CSI driver
	cmd := exec.CommandContext(connectCtx, "nvme", "connect", "-t", transport, "-a", host, "-s", port, "-n", nqn)
	output, err := cmd.CombinedOutput()
	if err != nil {
		alreadyConnected := strings.Contains(string(output), "already connected") ||
			strings.Contains(string(output), "Operation already in progress")
		if alreadyConnected {
			klog.V(4).Infof("NVMe-oF target already connected at %s: %s", endpoint, nqn)
			return nil
		}
		klog.Errorf("NVMe-oF connect failed for target %s at %s: %v, output: %s", nqn, endpoint, err, string(output))
		return fmt.Errorf("%w: %s", ErrNVMeConnectFailed, string(output))
	}

	klog.V(4).Infof("Successfully connected to NVMe-oF target %s at %s", nqn, endpoint)
	return nil
}

// disconnectNVMeOFTarget disconnects every controller for nqn. nvme-cli's
// disconnect is keyed on NQN alone and tears down all matching controllers
// in one call regardless of how many endpoints were connected.
func (s *NodeService) disconnectNVMeOFTarget(ctx context.Context, nqn string) error {
	klog.V(4).Infof("Disconnecting from NVMe-oF target: %s", nqn)
	disconnectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	//nolint:gosec // nvme disconnect with NQN from volume context is expected for CSI driver
	cmd := exec.CommandContext(disconnectCtx, "nvme", "disconnect", "-n", nqn)
	output, err := cmd.CombinedOutput()
	if err != nil {
		alreadyDisconnected := strings.Contains(string(output), "no controller") ||
			strings.Contains(string(output), "not found")
		if alreadyDisconnected {
			klog.V(4).Infof("NVMe-oF target already disconnected: %s", nqn)
			return nil
		}
		return fmt.Errorf("%w, output: %s", err, string(output))
	}

	klog.V(4).Infof("Successfully disconnected from NVMe-oF target %s", nqn)
	return nil
}

// splitEndpoint splits a validated "host:port" endpoint string.
func splitEndpoint(endpoint string) (host, port string, err error) {
	idx := strings.LastIndex(endpoint, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("endpoint %q missing port", endpoint)
	}
	return endpoint[:idx], endpoint[idx+1:], nil
}

// nvmeSubsystem mirrors the fields `nvme list-subsys -o json` emits that
// this package cares about; unused fields are left out.
type nvmeSubsystem struct {
	NQN   string `json:"NQN"`
	Paths []struct {
		Name string `json:"Name"`
	} `json:"Paths"`
}

type nvmeListSubsysOutput struct {
	Subsystems []nvmeSubsystem `json:"Subsystems"`
}

// findNVMeOFDevice finds the device path for an NQN by exact-matching
// against nvme-cli's structured JSON output, falling back to sysfs when
// the CLI is unavailable or the subsystem has not registered yet.
func (s *NodeService) findNVMeOFDevice(ctx context.Context, nqn string) (string, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(listCtx, "nvme", "list-subsys", "-o", "json")
	output, err := cmd.CombinedOutput()
	if err != nil {
		klog.V(4).Infof("nvme list-subsys failed: %v, falling back to sysfs", err)
		return findNVMeOFDeviceFromSys(nqn)
	}

	devicePath, parseErr := parseNVMeListSubsysForNQN(output, nqn)
	if parseErr == nil && devicePath != "" {
		return resolveMultipathDevice(devicePath)
	}

	devicePath, err = findNVMeOFDeviceFromSys(nqn)
	if err != nil {
		return "", err
	}
	return resolveMultipathDevice(devicePath)
}

// parseNVMeListSubsysForNQN decodes nvme-cli's structured JSON and returns
// the namespace device path for an exact NQN match, rather than substring
// searching the raw text.
func parseNVMeListSubsysForNQN(output []byte, nqn string) (string, error) {
	var parsed nvmeListSubsysOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return "", err
	}
	for _, sub := range parsed.Subsystems {
		if sub.NQN != nqn {
			continue
		}
		for _, path := range sub.Paths {
			if path.Name == "" {
				continue
			}
			devicePath := fmt.Sprintf("/dev/%sn%d", path.Name, nsidNVMeOF)
			if _, statErr := os.Stat(devicePath); statErr == nil {
				return devicePath, nil
			}
		}
	}
	return "", ErrNVMeDeviceNotFound
}

// findNVMeOFDeviceFromSys is the last-resort device lookup when the CLI is
// unavailable: it walks /sys/class/nvme and compares each controller's
// subsysnqn file for an exact match.
func findNVMeOFDeviceFromSys(nqn string) (string, error) {
	nvmeDir := "/sys/class/nvme"
	entries, err := os.ReadDir(nvmeDir)
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "nvme") || strings.ContainsAny(name[4:], "n-") {
			continue
		}

		data, readErr := os.ReadFile(filepath.Join(nvmeDir, name, "subsysnqn"))
		if readErr != nil {
			continue
		}
		if strings.TrimSpace(string(data)) != nqn {
			continue
		}

		devicePath := fmt.Sprintf("/dev/%sn%d", name, nsidNVMeOF)
		if _, statErr := os.Stat(devicePath); statErr == nil {
			return devicePath, nil
		}
	}
	return "", ErrNVMeDeviceNotFound
}

// waitForNVMeOFDevice waits for the NVMe-oF device to appear after connect.
func (s *NodeService) waitForNVMeOFDevice(ctx context.Context, nqn string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		devicePath, err := s.findNVMeOFDevice(ctx, nqn)
		if err == nil && devicePath != "" {
			if _, statErr := os.Stat(devicePath); statErr == nil {
				klog.V(4).Infof("NVMe-oF device found at %s after %d attempts", devicePath, attempt)
				return devicePath, nil
			}
		}
		time.Sleep(1 * time.Second)
	}

	return "", ErrNVMeDeviceTimeout
}

// stageNVMeOFDevice stages an NVMe-oF device as either block or filesystem volume.
func (s *NodeService) stageNVMeOFDevice(ctx context.Context, volumeID, devicePath, stagingTargetPath string, volumeCapability *csi.VolumeCapability, isBlockVolume bool, volumeContext map[string]string) (*csi.NodeStageVolumeResponse, error) {
	if !isBlockVolume {
		if err := waitForDeviceInitialization(ctx, devicePath); err != nil {
			return nil, status.Errorf(codes.Internal, "Device initialization timeout: %v", err)
		}

		if err := forceDeviceRescan(ctx, devicePath); err != nil {
			klog.Warningf("Device rescan warning for %s: %v (continuing anyway)", devicePath, err)
		}

		const deviceMetadataDelay = 2 * time.Second
		klog.V(4).Infof("Waiting %v for device %s metadata to stabilize", deviceMetadataDelay, devicePath)
		time.Sleep(deviceMetadataDelay)
	}

	if isBlockVolume {
		return s.stageBlockDevice(devicePath, stagingTargetPath)
	}
	return s.formatAndMountNVMeOFDevice(ctx, volumeID, devicePath, stagingTargetPath, volumeCapability, volumeContext)
}

// formatAndMountNVMeOFDevice formats (if needed) and mounts an NVMe-oF device.
func (s *NodeService) formatAndMountNVMeOFDevice(ctx context.Context, volumeID, devicePath, stagingTargetPath string, volumeCapability *csi.VolumeCapability, volumeContext map[string]string) (*csi.NodeStageVolumeResponse, error) {
	klog.V(4).Infof("Formatting and mounting NVMe-oF device: device=%s, path=%s, volume=%s",
		devicePath, stagingTargetPath, volumeID)

	s.logDeviceInfo(ctx, devicePath)

	if err := s.verifyDeviceSize(ctx, devicePath, volumeContext); err != nil {
		klog.Errorf("Device size verification FAILED for %s: %v", devicePath, err)
		return nil, status.Errorf(codes.FailedPrecondition,
			"Device size mismatch detected - refusing to mount: %v", err)
	}

	fsType := "ext4"
	if mnt := volumeCapability.GetMount(); mnt != nil && mnt.FsType != "" {
		fsType = mnt.FsType
	}

	isClone := false
	if cloned, exists := volumeContext[VolumeContextKeyClonedFromSnap]; exists && cloned == VolumeContextValueTrue {
		isClone = true
		klog.V(4).Infof("Volume %s was cloned from snapshot - adding stabilization delay", volumeID)
		const cloneStabilizationDelay = 5 * time.Second
		time.Sleep(cloneStabilizationDelay)
	}

	if err := s.handleDeviceFormatting(ctx, volumeID, devicePath, fsType, "", "", isClone); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(stagingTargetPath, 0o750); err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to create staging target path: %v", err)
	}

	mounted, err := mount.IsMounted(ctx, stagingTargetPath)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to check if staging path is mounted: %v", err)
	}
	if mounted {
		klog.V(4).Infof("Staging path %s is already mounted", stagingTargetPath)
		return &csi.NodeStageVolumeResponse{}, nil
	}

	klog.V(4).Infof("Mounting device %s to %s", devicePath, stagingTargetPath)

	var userMountOptions []string
	if mnt := volumeCapability.GetMount(); mnt != nil {
		userMountOptions = mnt.MountFlags
	}
	mountOptions := getNVMeOFMountOptions(userMountOptions)

	klog.V(4).Infof("NVMe-oF mount options: user=%v, final=%v", userMountOptions, mountOptions)

	args := []string{devicePath, stagingTargetPath}
	if len(mountOptions) > 0 {
		args = []string{"-o", mount.JoinMountOptions(mountOptions), devicePath, stagingTargetPath}
	}

	mountCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	//nolint:gosec // mount command with dynamic args is expected for CSI driver
	cmd := exec.CommandContext(mountCtx, "mount", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to mount device: %v, output: %s", err, string(output))
	}

	klog.V(4).Infof("Mounted NVMe-oF device to staging path")
	return &csi.NodeStageVolumeResponse{}, nil
}

// unstageNVMeOFVolume unstages an NVMe-oF volume by disconnecting from the
// target. Disconnect failure is fatal for the same reason iSCSI logout
// failure is: leaving the subsystem attached risks a second node attaching
// the same zvol concurrently.
func (s *NodeService) unstageNVMeOFVolume(ctx context.Context, req *csi.NodeUnstageVolumeRequest, volumeContext map[string]string) (*csi.NodeUnstageVolumeResponse, error) {
	volumeID := req.GetVolumeId()
	stagingTargetPath := req.GetStagingTargetPath()

	klog.V(4).Infof("Unstaging NVMe-oF volume %s from %s", volumeID, stagingTargetPath)

	nqn, err := targetname.NVMe(s.nvmeBasePrefix, volumeID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "cannot derive NVMe-oF target name: %v", err)
	}

	mounted, err := mount.IsMounted(ctx, stagingTargetPath)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to check if staging path is mounted: %v", err)
	}
	if mounted {
		klog.V(4).Infof("Unmounting staging path: %s", stagingTargetPath)
		if err := mount.Unmount(ctx, stagingTargetPath); err != nil {
			return nil, status.Errorf(codes.Internal, "Failed to unmount staging path: %v", err)
		}
	}

	if !nvmeOFSubsystemPresent(ctx, nqn) {
		return &csi.NodeUnstageVolumeResponse{}, nil
	}

	klog.V(4).Infof("Disconnecting from NVMe-oF target for volume %s: NQN=%s", volumeID, nqn)
	if err := s.disconnectNVMeOFTarget(ctx, nqn); err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to disconnect from NVMe-oF target: %v", err)
	}

	if nvmeOFSubsystemPresent(ctx, nqn) {
		return nil, status.Errorf(codes.Internal, "%w: %s", ErrNVMeStillConnected, nqn)
	}

	return &csi.NodeUnstageVolumeResponse{}, nil
}

// nvmeOFSubsystemPresent reports whether any controller for nqn remains
// attached, by exact match against nvme-cli's structured output.
func nvmeOFSubsystemPresent(ctx context.Context, nqn string) bool {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(listCtx, "nvme", "list-subsys", "-o", "json")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	var parsed nvmeListSubsysOutput
	if jsonErr := json.Unmarshal(output, &parsed); jsonErr != nil {
		return false
	}
	for _, sub := range parsed.Subsystems {
		if sub.NQN == nqn {
			return true
		}
	}
	return false
}

// getNVMeOFMountOptions merges user-provided mount options with sensible defaults.
func getNVMeOFMountOptions(userOptions []string) []string {
	if len(userOptions) == 0 {
		return defaultNVMeOFMountOptions
	}

	userOptionKeys := make(map[string]bool)
	for _, opt := range userOptions {
		key := extractNVMeOFOptionKey(opt)
		userOptionKeys[key] = true
	}

	result := make([]string, 0, len(userOptions)+len(defaultNVMeOFMountOptions))
	result = append(result, userOptions...)

	for _, defaultOpt := range defaultNVMeOFMountOptions {
		key := extractNVMeOFOptionKey(defaultOpt)
		if !userOptionKeys[key] {
			result = append(result, defaultOpt)
		}
	}

	return result
}

// extractNVMeOFOptionKey extracts the key from a mount option.
func extractNVMeOFOptionKey(option string) string {
	for i, c := range option {
		if c == '=' {
			return option[:i]
		}
	}
	return option
}

// waitForDeviceInitialization waits for a freshly attached block device to
// be fully initialized, i.e. to report a non-zero size. Shared by the iSCSI
// and NVMe-oF staging paths.
func waitForDeviceInitialization(ctx context.Context, devicePath string) error {
	const (
		maxAttempts   = 45
		checkInterval = 1 * time.Second
		totalTimeout  = 60 * time.Second
	)

	klog.V(4).Infof("Waiting for device %s to be fully initialized (non-zero size)", devicePath)

	timeoutCtx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	for attempt := range maxAttempts {
		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("%w for device %s: %w", ErrDeviceInitializationTimeout, devicePath, timeoutCtx.Err())
		default:
		}

		sizeCtx, sizeCancel := context.WithTimeout(ctx, 3*time.Second)
		cmd := exec.CommandContext(sizeCtx, "blockdev", "--getsize64", devicePath)
		output, err := cmd.CombinedOutput()
		sizeCancel()

		if err == nil {
			sizeStr := strings.TrimSpace(string(output))
			if size, parseErr := strconv.ParseInt(sizeStr, 10, 64); parseErr == nil && size > 0 {
				klog.V(4).Infof("Device %s initialized successfully with size %d bytes (after %d attempts)", devicePath, size, attempt+1)
				return nil
			}
			klog.V(4).Infof("Device %s size check attempt %d/%d: size=%s (waiting for non-zero)", devicePath, attempt+1, maxAttempts, sizeStr)
		} else {
			klog.V(4).Infof("Device %s size check attempt %d/%d failed: %v (device may not be ready yet)", devicePath, attempt+1, maxAttempts, err)
		}

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(checkInterval):
			case <-timeoutCtx.Done():
				return fmt.Errorf("%w for device %s: %w", ErrDeviceInitializationTimeout, devicePath, timeoutCtx.Err())
			}
		}
	}

	return ErrDeviceInitializationTimeout
}

// handleDeviceFormatting checks if a device needs formatting and formats it
// if necessary. Shared by the iSCSI and NVMe-oF staging paths; datasetName
// and targetName are only used for log context.
func (s *NodeService) handleDeviceFormatting(ctx context.Context, volumeID, devicePath, fsType, datasetName, targetName string, isClone bool) error {
	needsFormat, err := needsFormatWithRetries(ctx, devicePath, isClone)
	if err != nil {
		return status.Errorf(codes.Internal, "Failed to check if device needs formatting: %v", err)
	}

	if needsFormat {
		klog.V(4).Infof("Device %s needs formatting with %s (dataset: %s)", devicePath, fsType, datasetName)
		if formatErr := formatDevice(ctx, volumeID, devicePath, fsType); formatErr != nil {
			return status.Errorf(codes.Internal, "Failed to format device: %v", formatErr)
		}
		return nil
	}

	klog.V(4).Infof("Device %s is already formatted, preserving existing filesystem (dataset: %s, target: %s)",
		devicePath, datasetName, targetName)
	return nil
}

// logDeviceInfo logs detailed information about a device for troubleshooting.
// Shared by the iSCSI and NVMe-oF staging paths.
func (s *NodeService) logDeviceInfo(ctx context.Context, devicePath string) {
	if stat, err := os.Stat(devicePath); err == nil {
		klog.V(4).Infof("Device %s: exists, size=%d bytes", devicePath, stat.Size())
	} else {
		klog.Warningf("Device %s: stat failed: %v", devicePath, err)
		return
	}

	sizeCtx, sizeCancel := context.WithTimeout(ctx, 3*time.Second)
	defer sizeCancel()
	sizeCmd := exec.CommandContext(sizeCtx, "blockdev", "--getsize64", devicePath)
	if sizeOutput, err := sizeCmd.CombinedOutput(); err == nil {
		klog.V(4).Infof("Device %s has size: %s bytes", devicePath, strings.TrimSpace(string(sizeOutput)))
	} else {
		klog.Warningf("Failed to get device size for %s: %v", devicePath, err)
	}

	uuidCtx, uuidCancel := context.WithTimeout(ctx, 3*time.Second)
	defer uuidCancel()
	blkidCmd := exec.CommandContext(uuidCtx, "blkid", "-s", "UUID", "-o", "value", devicePath)
	if uuidOutput, err := blkidCmd.CombinedOutput(); err == nil && len(uuidOutput) > 0 {
		if uuid := strings.TrimSpace(string(uuidOutput)); uuid != "" {
			klog.V(4).Infof("Device %s has filesystem UUID: %s", devicePath, uuid)
		}
	}

	fsTypeCtx, fsTypeCancel := context.WithTimeout(ctx, 3*time.Second)
	defer fsTypeCancel()
	fsCmd := exec.CommandContext(fsTypeCtx, "blkid", "-s", "TYPE", "-o", "value", devicePath)
	if fsOutput, err := fsCmd.CombinedOutput(); err == nil && len(fsOutput) > 0 {
		if fsType := strings.TrimSpace(string(fsOutput)); fsType != "" {
			klog.V(4).Infof("Device %s has filesystem type: %s", devicePath, fsType)
		}
	}
}

// verifyDeviceSize compares the actual device size with the expected
// capacity carried in volume context. There is no control-plane API to
// fall back on here: the controller is the only source of truth for
// capacity, and it always populates VolumeContextKeyExpectedCapacity.
func (s *NodeService) verifyDeviceSize(ctx context.Context, devicePath string, volumeContext map[string]string) error {
	actualSize, err := getBlockDeviceSize(ctx, devicePath)
	if err != nil {
		return err
	}
	klog.V(4).Infof("Device %s actual size: %d bytes (%d GiB)", devicePath, actualSize, actualSize/(1024*1024*1024))

	expectedStr := volumeContext[VolumeContextKeyExpectedCapacity]
	if expectedStr == "" {
		klog.Warningf("No expected capacity in volume context for device %s, skipping size verification", devicePath)
		return nil
	}
	expectedCapacity, parseErr := strconv.ParseInt(expectedStr, 10, 64)
	if parseErr != nil {
		klog.Warningf("Failed to parse expected capacity %q for %s, skipping size verification", expectedStr, devicePath)
		return nil
	}

	return verifySizeMatch(devicePath, actualSize, expectedCapacity)
}

// getBlockDeviceSize returns the size of a block device in bytes.
func getBlockDeviceSize(ctx context.Context, devicePath string) (int64, error) {
	sizeCtx, sizeCancel := context.WithTimeout(ctx, 3*time.Second)
	defer sizeCancel()
	sizeCmd := exec.CommandContext(sizeCtx, "blockdev", "--getsize64", devicePath)
	sizeOutput, err := sizeCmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("failed to get device size: %w", err)
	}

	actualSize, err := strconv.ParseInt(strings.TrimSpace(string(sizeOutput)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse device size: %w", err)
	}
	return actualSize, nil
}

// verifySizeMatch compares actual and expected sizes. A device larger than
// expected is fine (the volume was expanded); smaller than expected by more
// than tolerance means the wrong device was found.
func verifySizeMatch(devicePath string, actualSize, expectedCapacity int64) error {
	if actualSize >= expectedCapacity {
		klog.V(4).Infof("Device size verification passed for %s: expected=%d, actual=%d (device is same or larger)",
			devicePath, expectedCapacity, actualSize)
		return nil
	}

	sizeDiff := expectedCapacity - actualSize
	tolerance := expectedCapacity / 10
	const minTolerance = 100 * 1024 * 1024
	if tolerance < minTolerance {
		tolerance = minTolerance
	}

	if sizeDiff > tolerance {
		klog.Errorf("CRITICAL: device size mismatch for %s: expected=%d actual=%d diff=%d", devicePath, expectedCapacity, actualSize, sizeDiff)
		return fmt.Errorf("%w: expected %d bytes, got %d bytes (diff: %d bytes)",
			ErrDeviceSizeMismatch, expectedCapacity, actualSize, sizeDiff)
	}

	klog.V(4).Infof("Device size verification passed for %s: expected=%d, actual=%d, diff=%d (within tolerance=%d)",
		devicePath, expectedCapacity, actualSize, sizeDiff, tolerance)
	return nil
}

// forceDeviceRescan forces the kernel to completely re-read device identity
// and metadata. Shared by the iSCSI and NVMe-oF staging paths.
func forceDeviceRescan(ctx context.Context, devicePath string) error {
	klog.V(4).Infof("Forcing device rescan for %s to clear kernel caches", devicePath)

	syncCtx, syncCancel := context.WithTimeout(ctx, 5*time.Second)
	defer syncCancel()
	if output, err := exec.CommandContext(syncCtx, "sync").CombinedOutput(); err != nil {
		klog.V(4).Infof("sync command failed: %v, output: %s", err, string(output))
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 5*time.Second)
	defer flushCancel()
	if output, err := exec.CommandContext(flushCtx, "blockdev", "--flushbufs", devicePath).CombinedOutput(); err != nil {
		klog.V(4).Infof("blockdev --flushbufs failed for %s: %v, output: %s", devicePath, err, string(output))
	} else {
		klog.V(4).Infof("Flushed device buffers for %s", devicePath)
	}

	udevCtx, udevCancel := context.WithTimeout(ctx, 5*time.Second)
	defer udevCancel()
	if output, err := exec.CommandContext(udevCtx, "udevadm", "trigger", "--action=change", devicePath).CombinedOutput(); err != nil {
		klog.V(4).Infof("udevadm trigger failed for %s: %v, output: %s", devicePath, err, string(output))
	} else {
		klog.V(4).Infof("Triggered udev change event for %s", devicePath)
	}

	settleCtx, settleCancel := context.WithTimeout(ctx, 10*time.Second)
	defer settleCancel()
	if output, err := exec.CommandContext(settleCtx, "udevadm", "settle", "--timeout=5").CombinedOutput(); err != nil {
		klog.V(4).Infof("udevadm settle failed: %v, output: %s", err, string(output))
	} else {
		klog.V(4).Infof("udevadm settle completed")
	}

	klog.V(4).Infof("Device rescan completed for %s", devicePath)
	return nil
}
