// Package main implements the zvolcsi Storage Agent entry point: the
// process that owns the ZFS parent dataset and the kernel target config
// file, and exposes them to CSI controllers over api/agentpb.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ndenev/zvolcsi/api/agentpb"
	"github.com/ndenev/zvolcsi/internal/agentsvc"
	"github.com/ndenev/zvolcsi/internal/authstore"
	"github.com/ndenev/zvolcsi/internal/ctlconfig"
	"github.com/ndenev/zvolcsi/internal/ctlmgr"
	"github.com/ndenev/zvolcsi/internal/zfsmgr"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	listenAddr       = flag.String("listen-address", ":9443", "Address the Agent gRPC service listens on")
	metricsAddr      = flag.String("metrics-addr", ":9090", "Address to expose Prometheus metrics")
	parentDataset    = flag.String("zfs-parent-dataset", "", "ZFS dataset all managed zvols live under, e.g. tank/csi")
	ctlConfigPath    = flag.String("ctl-config", "/etc/ctl.conf", "Path to the kernel target config file")
	ctlReloadCmd     = flag.String("ctl-reload-command", "service ctld reload", "Command run after every config write to reload the kernel target daemon (split on whitespace, not run through a shell)")
	authStorePath    = flag.String("auth-store", "/etc/zvolcsi/auth.json", "Path to the CHAP/DH-HMAC-CHAP credential store")
	iscsiBasePrefix  = flag.String("iscsi-base-prefix", "iqn.2024-01.io.zvolcsi", "Base IQN prefix this agent owns")
	nvmeBasePrefix   = flag.String("nvme-base-prefix", "nqn.2024-01.io.zvolcsi", "Base NQN prefix this agent owns")
	portalGroup      = flag.String("portal-group", "pg0", "Portal group name written into every managed iSCSI target")
	transportGroup   = flag.String("transport-group", "tcp", "Transport/port group name written into every managed NVMe-oF controller")
	authGroup        = flag.String("auth-group", "no-authentication", "Default auth group for targets without explicit credentials")
	maxConcurrentOps = flag.Int("max-concurrent-ops", agentsvc.DefaultMaxConcurrentOps, "Maximum in-flight state-mutating RPCs")
	tlsCertFile      = flag.String("tls-cert", "", "Server certificate for mTLS (requires -tls-key and -tls-ca)")
	tlsKeyFile       = flag.String("tls-key", "", "Server private key for mTLS")
	tlsCAFile        = flag.String("tls-ca", "", "CA certificate used to verify CSI controller client certs")
	showVersion      = flag.Bool("show-version", false, "Show version and exit")
	debug            = flag.Bool("debug", false, "Enable debug logging (equivalent to -v=4)")
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
		fmt.Printf("storage-agent version: %s\n", version)
		fmt.Printf("  Git commit: %s\n", gitCommit)
		fmt.Printf("  Build date: %s\n", buildDate)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *parentDataset == "" {
		klog.Fatal("-zfs-parent-dataset must be provided")
	}

	tlsPresent := 0
	for _, f := range []string{*tlsCertFile, *tlsKeyFile, *tlsCAFile} {
		if f != "" {
			tlsPresent++
		}
	}
	if tlsPresent != 0 && tlsPresent != 3 {
		klog.Fatal("-tls-cert, -tls-key and -tls-ca must all be set together or all left empty")
	}

	klog.Infof("starting storage-agent %s (commit: %s, built: %s)", version, gitCommit, buildDate)

	as := authstore.New(*authStorePath)
	if err := as.Load(); err != nil {
		klog.Fatalf("failed to load auth store: %v", err)
	}

	mz := ctlconfig.NewMaterializer(*ctlConfigPath, reloadFunc(*ctlReloadCmd))
	cm := ctlmgr.New(mz, ctlmgr.Config{
		ISCSIBasePrefix: *iscsiBasePrefix,
		NVMeBasePrefix:  *nvmeBasePrefix,
		PortalGroup:     *portalGroup,
		TransportGroup:  *transportGroup,
		AuthGroup:       *authGroup,
	})
	if err := cm.LoadConfig(); err != nil {
		klog.Fatalf("failed to load ctl config: %v", err)
	}
	if preserved, model, err := mz.Load(); err != nil {
		klog.Fatalf("failed to read ctl config: %v", err)
	} else if err := ctlconfig.ValidateGroupsExist(preserved, model); err != nil {
		klog.Fatalf("invalid ctl config: %v", err)
	}

	zm := zfsmgr.New(*parentDataset)

	srv := agentsvc.New(zm, cm, as, *maxConcurrentOps)

	reconcileCtx, reconcileCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := srv.Reconcile(reconcileCtx); err != nil {
		klog.Errorf("startup reconciliation reported mismatches: %v", err)
	}
	reconcileCancel()

	creds, err := serverCredentials(*tlsCertFile, *tlsKeyFile, *tlsCAFile)
	if err != nil {
		klog.Fatalf("failed to build server TLS credentials: %v", err)
	}

	grpcServer := grpc.NewServer(grpc.Creds(creds))
	agentpb.RegisterStorageAgentServer(grpcServer, srv)

	//nolint:noctx // net.Listen is acceptable here - server lifecycle is managed by gRPC server
	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		klog.Fatalf("failed to listen on %s: %v", *listenAddr, err)
	}

	metricsSrv := startMetricsServer(*metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		klog.Infof("received signal %v, shutting down", sig)
		if metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(ctx)
		}
		grpcServer.GracefulStop()
	}()

	klog.Infof("storage-agent listening on %s", *listenAddr)
	if err := grpcServer.Serve(listener); err != nil {
		klog.Fatalf("grpc server error: %v", err)
	}
}

// startMetricsServer exposes /metrics on addr in the background, returning
// nil if addr is empty.
func startMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		klog.Infof("starting metrics server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("metrics server error: %v", err)
		}
	}()
	return srv
}

// reloadFunc turns an operator-configured shell command into a
// ctlconfig.ReloadFunc. The command is split on whitespace rather than
// handed to a shell, so it carries no shell-metacharacter risk.
func reloadFunc(command string) ctlconfig.ReloadFunc {
	return func(ctx context.Context) error {
		fields := splitFields(command)
		if len(fields) == 0 {
			return nil
		}
		cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("reload command %q failed: %w: %s", command, err, string(out))
		}
		return nil
	}
}

func splitFields(s string) []string {
	var fields []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, s[start:])
	}
	return fields
}

// serverCredentials builds the Agent's server-side gRPC transport
// credentials. With no TLS triple configured it serves insecure
// credentials, matching the CSI controller's client-side opt-in mTLS.
func serverCredentials(certFile, keyFile, caFile string) (credentials.TransportCredentials, error) {
	if certFile == "" {
		return insecure.NewCredentials(), nil
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}

	caCert, err := os.ReadFile(caFile) //nolint:gosec // operator-provided path, not user input
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", caFile)
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
