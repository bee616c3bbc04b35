// Package main implements the zvolcsi CSI driver entry point: the process
// kubelet and the external-provisioner/-attacher/-resizer sidecars talk to
// over the CSI Identity/Controller/Node services.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/ndenev/zvolcsi/internal/agentclient"
	"github.com/ndenev/zvolcsi/pkg/driver"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	endpoint        = flag.String("endpoint", "unix:///var/lib/kubelet/plugins/zvolcsi/csi.sock", "CSI endpoint")
	nodeID          = flag.String("node-id", "", "Node ID")
	driverName      = flag.String("driver-name", "zvolcsi.io", "Name of the driver")
	agentAddress    = flag.String("agent-address", "", "Storage Agent gRPC address, e.g. storage-agent:9443")
	storageAddress  = flag.String("storage-address", "", "Address nodes use to reach the storage backend, reported back in VolumeContext (defaults to -agent-address)")
	metricsAddr     = flag.String("metrics-addr", ":8080", "Address to expose Prometheus metrics")
	iscsiBasePrefix = flag.String("iscsi-base-prefix", "iqn.2024-01.io.zvolcsi", "Base IQN prefix shared with the Storage Agent")
	nvmeBasePrefix  = flag.String("nvme-base-prefix", "nqn.2024-01.io.zvolcsi", "Base NQN prefix shared with the Storage Agent")
	tlsCertFile     = flag.String("tls-cert", "", "Client certificate for mTLS to the Storage Agent (requires -tls-key and -tls-ca)")
	tlsKeyFile      = flag.String("tls-key", "", "Client private key for mTLS")
	tlsCAFile       = flag.String("tls-ca", "", "CA certificate used to verify the Storage Agent's server cert")
	tlsServerName   = flag.String("tls-server-name", "", "Server name override for the Agent's certificate, if it differs from -agent-address's host")
	showVersion     = flag.Bool("show-version", false, "Show version and exit")
	debug           = flag.Bool("debug", false, "Enable debug logging (equivalent to -v=4)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *debug || os.Getenv("DEBUG_CSI") == "true" || os.Getenv("DEBUG_CSI") == "1" {
		if err := flag.Set("v", "4"); err != nil {
			klog.Warningf("Failed to set verbosity level: %v", err)
		}
	}

	if *showVersion {
		fmt.Printf("%s version: %s\n", *driverName, version)
		fmt.Printf("  Git commit: %s\n", gitCommit)
		fmt.Printf("  Build date: %s\n", buildDate)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *nodeID == "" {
		klog.Fatal("-node-id must be provided")
	}
	if *agentAddress == "" {
		klog.Fatal("-agent-address must be provided")
	}

	storageAddr := *storageAddress
	if storageAddr == "" {
		storageAddr = *agentAddress
	}

	klog.Infof("starting csi-driver %s (commit: %s, built: %s)", version, gitCommit, buildDate)
	klog.V(4).Infof("driver: %s, node-id: %s, agent: %s", *driverName, *nodeID, *agentAddress)

	drv, err := driver.NewDriver(driver.Config{
		DriverName: *driverName,
		Version:    version,
		NodeID:     *nodeID,
		Endpoint:   *endpoint,
		AgentConfig: agentclient.Config{
			Address: *agentAddress,
			TLS: agentclient.TLSConfig{
				CertFile:           *tlsCertFile,
				KeyFile:            *tlsKeyFile,
				CAFile:             *tlsCAFile,
				ServerNameOverride: *tlsServerName,
			},
		},
		StorageAddress:  storageAddr,
		ISCSIBasePrefix: *iscsiBasePrefix,
		NVMeBasePrefix:  *nvmeBasePrefix,
		MetricsAddr:     *metricsAddr,
	})
	if err != nil {
		klog.Fatalf("failed to create driver: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		klog.Infof("received signal %v, shutting down", sig)
		drv.Stop()
	}()

	if err := drv.Run(); err != nil {
		klog.Fatalf("driver run error: %v", err)
	}
}
