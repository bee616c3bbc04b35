package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"k8s.io/klog/v2"
)

// nvmeSubsystemStateLive is the /sys/class/nvme/<ctrl>/state value reported
// for a healthy, connected controller.
const nvmeSubsystemStateLive = "live"

// Static errors for health checks.
var (
	errNotNVMeDevice     = errors.New("not an NVMe device")
	errISCSIStateUnknown = errors.New("could not determine iSCSI session state")
)

// VolumeHealth represents the health status of a volume.
type VolumeHealth struct {
	Message  string
	Abnormal bool
}

// Healthy returns a VolumeHealth indicating the volume is healthy.
func Healthy() VolumeHealth {
	return VolumeHealth{
		Abnormal: false,
		Message:  "",
	}
}

// Unhealthy returns a VolumeHealth indicating the volume is unhealthy.
func Unhealthy(message string) VolumeHealth {
	return VolumeHealth{
		Abnormal: true,
		Message:  message,
	}
}

// ToCSI converts VolumeHealth to a CSI VolumeCondition.
func (h VolumeHealth) ToCSI() *csi.VolumeCondition {
	return &csi.VolumeCondition{
		Abnormal: h.Abnormal,
		Message:  h.Message,
	}
}

// checkVolumeHealth checks the health of a volume based on its protocol.
// The stagingPath parameter is reserved for future use.
func (s *NodeService) checkVolumeHealth(ctx context.Context, volumePath, _ string) VolumeHealth {
	// Detect the protocol from the volume path
	protocol := s.detectProtocolFromVolumePath(ctx, volumePath)

	klog.V(4).Infof("Checking health for volume at %s (protocol: %s)", volumePath, protocol)

	switch protocol {
	case ProtocolNVMeOF:
		return s.checkNVMeOFHealth(ctx, volumePath)
	case ProtocolISCSI:
		return s.checkISCSIHealth(ctx, volumePath)
	default:
		// Unknown protocol - just check if path is accessible
		return checkBasicHealth(volumePath)
	}
}

// detectProtocolFromVolumePath detects which of the two supported block
// protocols backs a mounted or raw-block volume path, by inspecting the
// source device name findmnt reports.
func (s *NodeService) detectProtocolFromVolumePath(ctx context.Context, volumePath string) string {
	devicePath, err := getSourceDevice(ctx, volumePath)
	if err != nil {
		klog.V(4).Infof("Failed to determine source device for %s: %v", volumePath, err)
		return ""
	}

	resolved, resolveErr := resolveMultipathDevice(devicePath)
	if resolveErr == nil {
		devicePath = resolved
	}

	base := filepath.Base(devicePath)
	if strings.HasPrefix(base, "nvme") {
		return ProtocolNVMeOF
	}
	return ProtocolISCSI
}

// checkNVMeOFHealth checks the health of an NVMe-oF volume.
func (s *NodeService) checkNVMeOFHealth(ctx context.Context, volumePath string) VolumeHealth {
	// Check 1: Verify the path exists
	if _, err := os.Stat(volumePath); err != nil {
		return Unhealthy(fmt.Sprintf("NVMe-oF volume path not accessible: %v", err))
	}

	// Check 2: Get the source device
	devicePath, err := getSourceDevice(ctx, volumePath)
	if err != nil {
		return Unhealthy(fmt.Sprintf("Failed to determine NVMe device: %v", err))
	}

	// Check 3: Verify the device exists
	if _, statErr := os.Stat(devicePath); statErr != nil {
		return Unhealthy(fmt.Sprintf("NVMe device %s not found", devicePath))
	}

	// Check 4: Check NVMe controller state
	ctrlState, err := getNVMeControllerState(devicePath)
	if err != nil {
		klog.V(4).Infof("Failed to get NVMe controller state: %v", err)
		// Don't fail health check if we can't read controller state
	} else if ctrlState != nvmeSubsystemStateLive {
		return Unhealthy(fmt.Sprintf("NVMe controller state is %q (expected: %s)", ctrlState, nvmeSubsystemStateLive))
	}

	return Healthy()
}

// checkISCSIHealth checks the health of an iSCSI volume.
func (s *NodeService) checkISCSIHealth(ctx context.Context, volumePath string) VolumeHealth {
	// Check 1: Verify the path exists
	if _, err := os.Stat(volumePath); err != nil {
		return Unhealthy(fmt.Sprintf("iSCSI volume path not accessible: %v", err))
	}

	// Check 2: Get the source device
	devicePath, err := getSourceDevice(ctx, volumePath)
	if err != nil {
		return Unhealthy(fmt.Sprintf("Failed to determine iSCSI device: %v", err))
	}

	// Check 3: Verify the device exists
	if _, statErr := os.Stat(devicePath); statErr != nil {
		return Unhealthy(fmt.Sprintf("iSCSI device %s not found", devicePath))
	}

	// Check 4: Check iSCSI session state
	sessionState, err := getISCSISessionState(ctx, devicePath)
	if err != nil {
		klog.V(4).Infof("Failed to get iSCSI session state: %v", err)
		// Don't fail health check if we can't read session state
	} else if sessionState != "LOGGED_IN" {
		return Unhealthy(fmt.Sprintf("iSCSI session state is %q (expected: LOGGED_IN)", sessionState))
	}

	return Healthy()
}

// checkBasicHealth performs basic health checks for unknown protocols.
func checkBasicHealth(volumePath string) VolumeHealth {
	if _, err := os.Stat(volumePath); err != nil {
		return Unhealthy(fmt.Sprintf("Volume path not accessible: %v", err))
	}
	return Healthy()
}

// getSourceDevice gets the source device for a mount point.
func getSourceDevice(ctx context.Context, mountPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "findmnt", "-n", "-o", "SOURCE", mountPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("findmnt failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// getNVMeControllerState reads the NVMe controller state from sysfs.
func getNVMeControllerState(devicePath string) (string, error) {
	// Device path is like /dev/nvme0n1 or /dev/nvme0n1p1
	// We need to extract the controller name (nvme0)
	base := filepath.Base(devicePath)
	if !strings.HasPrefix(base, "nvme") {
		return "", fmt.Errorf("%w: %s", errNotNVMeDevice, devicePath)
	}

	// Extract controller name (nvme0 from nvme0n1)
	var ctrlName string
	for i, c := range base {
		if c == 'n' && i > 4 { // Skip "nvme" prefix
			ctrlName = base[:i]
			break
		}
	}
	if ctrlName == "" {
		ctrlName = base // Fallback
	}

	// Read state from /sys/class/nvme/<ctrl>/state
	statePath := "/sys/class/nvme/" + ctrlName + "/state"
	data, err := os.ReadFile(statePath) //nolint:gosec // path is constructed from device name
	if err != nil {
		return "", fmt.Errorf("failed to read NVMe state: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// getISCSISessionState gets the state of an iSCSI session for a device.
func getISCSISessionState(ctx context.Context, devicePath string) (string, error) {
	// Find the session for this device by looking at /sys/block/<dev>/device/
	base := filepath.Base(devicePath)

	// For devices like /dev/sda, check /sys/block/sda/device/state
	statePath := "/sys/block/" + base + "/device/state"
	data, err := os.ReadFile(statePath) //nolint:gosec // path is constructed from device name
	if err == nil {
		state := strings.TrimSpace(string(data))
		// SCSI device states: running, blocked, quiesce, etc.
		if state == "running" {
			return "LOGGED_IN", nil
		}
		return state, nil
	}

	// Alternative: use iscsiadm to check session state
	cmd := exec.CommandContext(ctx, "iscsiadm", "-m", "session", "-P", "1")
	output, cmdErr := cmd.CombinedOutput()
	if cmdErr != nil {
		return "", fmt.Errorf("iscsiadm failed: %w", cmdErr)
	}

	// Parse output for session state
	// Look for "iSCSI Session State:" line
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "iSCSI Session State:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1]), nil
			}
		}
	}

	return "", errISCSIStateUnknown
}
