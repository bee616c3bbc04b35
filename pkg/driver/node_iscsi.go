package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
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

// Static errors for iSCSI operations.
var (
	ErrISCSIAdmNotFound    = errors.New("iscsiadm command not found - please install open-iscsi")
	ErrISCSIDeviceNotFound = errors.New("iSCSI device not found")
	ErrISCSIDeviceTimeout  = errors.New("timeout waiting for iSCSI device to appear")
	ErrISCSILoginFailed    = errors.New("failed to login to iSCSI target")
	ErrISCSIStillConnected = errors.New("iSCSI session still present after logout")
)

// defaultISCSIMountOptions are sensible defaults for iSCSI filesystem mounts.
var defaultISCSIMountOptions = []string{"noatime", "_netdev"}

// iscsiConnectionParams holds validated iSCSI connection parameters. portals
// holds one or more "host:port" endpoints; the node logs into every one of
// them and tolerates individual failures as long as at least one succeeds.
type iscsiConnectionParams struct {
	iqn     string
	portals []string
}

// stageISCSIVolume stages an iSCSI volume by logging into the target.
func (s *NodeService) stageISCSIVolume(ctx context.Context, req *csi.NodeStageVolumeRequest, volumeContext map[string]string) (*csi.NodeStageVolumeResponse, error) {
	volumeID := req.GetVolumeId()
	stagingTargetPath := req.GetStagingTargetPath()
	volumeCapability := req.GetVolumeCapability()

	params, err := s.buildISCSIParams(volumeID, volumeContext)
	if err != nil {
		return nil, err
	}

	isBlockVolume := volumeCapability.GetBlock() != nil
	klog.V(4).Infof("Staging iSCSI volume %s (block mode: %v): portals=%v, IQN=%s",
		volumeID, isBlockVolume, params.portals, params.iqn)

	// Try to reuse existing connection (idempotency).
	if devicePath, findErr := s.findISCSIDevice(ctx, params); findErr == nil && devicePath != "" {
		klog.V(4).Infof("iSCSI device already connected at %s - reusing existing connection", devicePath)
		return s.stageISCSIDevice(ctx, volumeID, devicePath, stagingTargetPath, volumeCapability, isBlockVolume, volumeContext)
	}

	if checkErr := s.checkISCSIAdm(ctx); checkErr != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "open-iscsi not available: %v", checkErr)
	}

	if loginErr := s.loginISCSITarget(ctx, params); loginErr != nil {
		return nil, status.Errorf(codes.Internal, "Failed to login to iSCSI target: %v", loginErr)
	}

	timeout := 1 * time.Second
	if len(params.portals) > 1 {
		timeout = 3 * time.Second
	}
	klog.V(4).Infof("Waiting %v for multipath session settle before device lookup", timeout)
	time.Sleep(timeout)

	devicePath, err := s.waitForISCSIDevice(ctx, params, 30*time.Second)
	if err != nil {
		if logoutErr := s.logoutISCSITarget(ctx, params); logoutErr != nil {
			klog.Warningf("Failed to logout from iSCSI target after device wait failure: %v", logoutErr)
		}
		return nil, status.Errorf(codes.Internal, "Failed to find iSCSI device after login: %v", err)
	}

	klog.V(4).Infof("iSCSI device connected at %s (IQN: %s)", devicePath, params.iqn)

	return s.stageISCSIDevice(ctx, volumeID, devicePath, stagingTargetPath, volumeCapability, isBlockVolume, volumeContext)
}

// buildISCSIParams derives the IQN for volumeID from the node's configured
// base prefix rather than trusting a value out of VolumeContext, and reads
// one or more portal endpoints (comma-separated "host:port" pairs) to
// connect to.
func (s *NodeService) buildISCSIParams(volumeID string, volumeContext map[string]string) (*iscsiConnectionParams, error) {
	iqn, err := targetname.ISCSI(s.iscsiBasePrefix, volumeID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "cannot derive iSCSI target name: %v", err)
	}

	server := volumeContext[VolumeContextKeyServer]
	if server == "" {
		return nil, status.Error(codes.InvalidArgument, "storage address must be provided in volume context")
	}

	var portals []string
	for _, endpoint := range strings.Split(server, ",") {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		if !strings.Contains(endpoint, ":") {
			endpoint += ":3260"
		}
		portals = append(portals, endpoint)
	}
	if len(portals) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no usable iSCSI portals in storage address")
	}

	return &iscsiConnectionParams{iqn: iqn, portals: portals}, nil
}

// checkISCSIAdm checks if iscsiadm is installed.
func (s *NodeService) checkISCSIAdm(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(checkCtx, "iscsiadm", "--version")
	if err := cmd.Run(); err != nil {
		return ErrISCSIAdmNotFound
	}
	return nil
}

// loginISCSITarget discovers and logs into the iSCSI target across every
// configured portal. A single portal's failure is not fatal as long as at
// least one succeeds; "already logged in" is treated as success for each.
func (s *NodeService) loginISCSITarget(ctx context.Context, params *iscsiConnectionParams) error {
	g, gctx := errgroup.WithContext(ctx)
	successes := make([]bool, len(params.portals))
	errs := make([]error, len(params.portals))

	for i, portal := range params.portals {
		g.Go(func() error {
			err := loginISCSIPortal(gctx, params.iqn, portal)
			errs[i] = err
			successes[i] = err == nil
			return nil // never abort siblings on one portal's failure
		})
	}
	_ = g.Wait()

	anySucceeded := false
	for i, ok := range successes {
		if ok {
			anySucceeded = true
		} else {
			klog.Warningf("iSCSI login to portal %s failed: %v", params.portals[i], errs[i])
		}
	}
	if !anySucceeded {
		return fmt.Errorf("%w: all %d portal(s) failed", ErrISCSILoginFailed, len(params.portals))
	}
	return nil
}

// loginISCSIPortal discovers and logs into a single iSCSI portal.
func loginISCSIPortal(ctx context.Context, iqn, portal string) error {
	klog.V(4).Infof("Discovering iSCSI targets at %s", portal)
	discoverCtx, discoverCancel := context.WithTimeout(ctx, 30*time.Second)
	defer discoverCancel()

	//nolint:gosec // iscsiadm with portal from volume context is expected for CSI driver
	discoverCmd := exec.CommandContext(discoverCtx, "iscsiadm", "-m", "discovery", "-t", "sendtargets", "-p", portal)
	output, err := discoverCmd.CombinedOutput()
	if err != nil {
		klog.Warningf("iSCSI discovery at %s failed (may be OK if target is known): %v, output: %s", portal, err, string(output))
	} else {
		klog.V(4).Infof("iSCSI discovery output for %s: %s", portal, string(output))
	}

	klog.V(4).Infof("Logging into iSCSI target: %s at %s", iqn, portal)
	loginCtx, loginCancel := context.WithTimeout(ctx, 30*time.Second)
	defer loginCancel()

	//nolint:gosec // iscsiadm login with IQN and portal from volume context is expected for CSI driver
	loginCmd := exec.CommandContext(loginCtx, "iscsiadm", "-m", "node", "-T", iqn, "-p", portal, "--login")
	output, err = loginCmd.CombinedOutput()
	if err != nil {
		alreadyLoggedIn := strings.Contains(string(output), "already present") ||
			strings.Contains(string(output), "session already exists")
		if alreadyLoggedIn {
			klog.V(4).Infof("iSCSI target already logged in at %s: %s", portal, iqn)
			return nil
		}
		klog.Errorf("iSCSI login failed for target %s at %s: %v, output: %s", iqn, portal, err, string(output))
		return fmt.Errorf("%w: %s", ErrISCSILoginFailed, string(output))
	}

	klog.V(4).Infof("Successfully logged into iSCSI target %s at %s", iqn, portal)
	return nil
}

// logoutISCSITarget logs out from the iSCSI target across every configured
// portal. Unlike login, every portal must succeed (or already be logged
// out): a partially detached multipath target risks dual-attach.
func (s *NodeService) logoutISCSITarget(ctx context.Context, params *iscsiConnectionParams) error {
	var failures []string
	for _, portal := range params.portals {
		if err := logoutISCSIPortal(ctx, params.iqn, portal); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", portal, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("logout failed on %d portal(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func logoutISCSIPortal(ctx context.Context, iqn, portal string) error {
	klog.V(4).Infof("Logging out from iSCSI target: %s at %s", iqn, portal)
	logoutCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	//nolint:gosec // iscsiadm logout with IQN and portal from volume context is expected for CSI driver
	cmd := exec.CommandContext(logoutCtx, "iscsiadm", "-m", "node", "-T", iqn, "-p", portal, "--logout")
	output, err := cmd.CombinedOutput()
	if err != nil {
		alreadyLoggedOut := strings.Contains(string(output), "No matching sessions") ||
			strings.Contains(string(output), "not found")
		if alreadyLoggedOut {
			klog.V(4).Infof("iSCSI target already logged out at %s", portal)
			return nil
		}
		return fmt.Errorf("%w, output: %s", err, string(output))
	}

	klog.V(4).Infof("Successfully logged out from iSCSI target %s at %s", iqn, portal)
	return nil
}

// sessionStillPresent checks whether any iSCSI session for iqn remains
// after logout, by exact match against the session's target name.
func sessionStillPresent(ctx context.Context, iqn string) bool {
	sessCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(sessCtx, "iscsiadm", "-m", "session")
	output, err := cmd.CombinedOutput()
	if err != nil {
		// "No active sessions" exits non-zero; nothing is present.
		return false
	}
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[len(fields)-1] == iqn {
			return true
		}
	}
	return false
}

// findISCSIDevice finds the device path for an iSCSI target by exact IQN
// match in /dev/disk/by-path names, then promotes through any multipath
// holder that has attached to it.
func (s *NodeService) findISCSIDevice(ctx context.Context, params *iscsiConnectionParams) (string, error) {
	byPathDir := "/dev/disk/by-path"
	pattern := "*iscsi-" + params.iqn + "-lun-*"

	matches, err := filepath.Glob(filepath.Join(byPathDir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		if devicePath, sysErr := findISCSIDeviceFromSys(params.iqn); sysErr == nil && devicePath != "" {
			return resolveMultipathDevice(devicePath)
		}
		return "", ErrISCSIDeviceNotFound
	}

	devicePath, err := filepath.EvalSymlinks(matches[0])
	if err != nil {
		return "", err
	}

	klog.V(4).Infof("Found iSCSI device: %s -> %s", matches[0], devicePath)
	return resolveMultipathDevice(devicePath)
}

// findISCSIDeviceFromSys is the last-resort device lookup when by-path
// symlinks have not yet appeared: it walks /sys/class/iscsi_session and
// compares the session's targetname file for an exact match.
func findISCSIDeviceFromSys(iqn string) (string, error) {
	sessions, err := os.ReadDir("/sys/class/iscsi_session")
	if err != nil {
		return "", err
	}
	for _, sess := range sessions {
		data, readErr := os.ReadFile("/sys/class/iscsi_session/" + sess.Name() + "/targetname")
		if readErr != nil {
			continue
		}
		if strings.TrimSpace(string(data)) != iqn {
			continue
		}
		hostGlob := "/sys/class/iscsi_session/" + sess.Name() + "/device/target*/*/block/*"
		blocks, globErr := filepath.Glob(hostGlob)
		if globErr != nil || len(blocks) == 0 {
			continue
		}
		return "/dev/" + filepath.Base(blocks[0]), nil
	}
	return "", ErrISCSIDeviceNotFound
}

// waitForISCSIDevice waits for the iSCSI device to appear after login.
func (s *NodeService) waitForISCSIDevice(ctx context.Context, params *iscsiConnectionParams, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		devicePath, err := s.findISCSIDevice(ctx, params)
		if err == nil && devicePath != "" {
			if _, statErr := os.Stat(devicePath); statErr == nil {
				klog.V(4).Infof("iSCSI device found at %s after %d attempts", devicePath, attempt)
				return devicePath, nil
			}
		}
		time.Sleep(1 * time.Second)
	}

	return "", ErrISCSIDeviceTimeout
}

// stageISCSIDevice stages an iSCSI device as either block or filesystem volume.
func (s *NodeService) stageISCSIDevice(ctx context.Context, volumeID, devicePath, stagingTargetPath string, volumeCapability *csi.VolumeCapability, isBlockVolume bool, volumeContext map[string]string) (*csi.NodeStageVolumeResponse, error) {
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
	return s.formatAndMountISCSIDevice(ctx, volumeID, devicePath, stagingTargetPath, volumeCapability, volumeContext)
}

// formatAndMountISCSIDevice formats (if needed) and mounts an iSCSI device.
func (s *NodeService) formatAndMountISCSIDevice(ctx context.Context, volumeID, devicePath, stagingTargetPath string, volumeCapability *csi.VolumeCapability, volumeContext map[string]string) (*csi.NodeStageVolumeResponse, error) {
	klog.V(4).Infof("Formatting and mounting iSCSI device: device=%s, path=%s, volume=%s",
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
	mountOptions := getISCSIMountOptions(userMountOptions)

	klog.V(4).Infof("iSCSI mount options: user=%v, final=%v", userMountOptions, mountOptions)

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

	klog.V(4).Infof("Mounted iSCSI device to staging path")
	return &csi.NodeStageVolumeResponse{}, nil
}

// unstageISCSIVolume unstages an iSCSI volume by logging out from the target.
// Logout failure is fatal: returning success while a target remains attached
// risks the next pod scheduling onto another node and dual-writing the zvol.
func (s *NodeService) unstageISCSIVolume(ctx context.Context, req *csi.NodeUnstageVolumeRequest, volumeContext map[string]string) (*csi.NodeUnstageVolumeResponse, error) {
	volumeID := req.GetVolumeId()
	stagingTargetPath := req.GetStagingTargetPath()

	klog.V(4).Infof("Unstaging iSCSI volume %s from %s", volumeID, stagingTargetPath)

	iqn, err := targetname.ISCSI(s.iscsiBasePrefix, volumeID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "cannot derive iSCSI target name: %v", err)
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

	portals := iscsiPortalsFromContext(volumeContext)
	if len(portals) == 0 {
		// No portal info and no session present: nothing to disconnect.
		if !sessionStillPresent(ctx, iqn) {
			return &csi.NodeUnstageVolumeResponse{}, nil
		}
		return nil, status.Errorf(codes.Internal, "iSCSI session for %s present but no portal known to log out from", iqn)
	}

	params := &iscsiConnectionParams{iqn: iqn, portals: portals}
	klog.V(4).Infof("Logging out from iSCSI target for volume %s: IQN=%s", volumeID, iqn)
	if err := s.logoutISCSITarget(ctx, params); err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to logout from iSCSI target: %v", err)
	}

	if sessionStillPresent(ctx, iqn) {
		return nil, status.Errorf(codes.Internal, "%w: %s", ErrISCSIStillConnected, iqn)
	}

	return &csi.NodeUnstageVolumeResponse{}, nil
}

// iscsiPortalsFromContext parses the comma-separated storage address into
// portal endpoints, defaulting the port when one is omitted.
func iscsiPortalsFromContext(volumeContext map[string]string) []string {
	server := volumeContext[VolumeContextKeyServer]
	if server == "" {
		return nil
	}
	var portals []string
	for _, endpoint := range strings.Split(server, ",") {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		if !strings.Contains(endpoint, ":") {
			endpoint += ":3260"
		}
		portals = append(portals, endpoint)
	}
	return portals
}

// getISCSIMountOptions merges user-provided mount options with sensible defaults.
func getISCSIMountOptions(userOptions []string) []string {
	if len(userOptions) == 0 {
		return defaultISCSIMountOptions
	}

	userOptionKeys := make(map[string]bool)
	for _, opt := range userOptions {
		key := extractISCSIOptionKey(opt)
		userOptionKeys[key] = true
	}

	result := make([]string, 0, len(userOptions)+len(defaultISCSIMountOptions))
	result = append(result, userOptions...)

	for _, defaultOpt := range defaultISCSIMountOptions {
		key := extractISCSIOptionKey(defaultOpt)
		if !userOptionKeys[key] {
			result = append(result, defaultOpt)
		}
	}

	return result
}

// extractISCSIOptionKey extracts the key from a mount option.
func extractISCSIOptionKey(option string) string {
	for i, c := range option {
		if c == '=' {
			return option[:i]
		}
	}
	return option
}
