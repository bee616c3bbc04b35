package driver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"

	"github.com/ndenev/zvolcsi/internal/agentclient"
	"github.com/ndenev/zvolcsi/pkg/metrics"
)

// Config contains the configuration for the CSI driver process.
type Config struct {
	DriverName      string
	Version         string
	NodeID          string
	Endpoint        string
	StorageAddress  string // host:port the controller reports back to Agent clients, e.g. in volume context
	AgentConfig     agentclient.Config
	ISCSIBasePrefix string
	NVMeBasePrefix  string
	MetricsAddr     string // address to expose Prometheus metrics (e.g., ":8080")
}

// Driver wires the CSI Identity, Controller and Node services behind a
// single gRPC server.
type Driver struct {
	srv        *grpc.Server
	metricsSrv *http.Server
	controller *ControllerService
	node       *NodeService
	identity   *IdentityService
	config     Config
}

// NewDriver creates a new driver instance.
func NewDriver(cfg Config) (*Driver, error) {
	klog.V(4).Infof("creating csi driver with config: %+v", cfg)

	d := &Driver{
		config:     cfg,
		identity:   NewIdentityService(cfg.DriverName, cfg.Version),
		controller: NewControllerService(cfg.AgentConfig, cfg.StorageAddress),
		node:       NewNodeService(cfg.NodeID, cfg.ISCSIBasePrefix, cfg.NVMeBasePrefix),
	}

	return d, nil
}

// Run starts the CSI driver's gRPC endpoint and, if configured, its
// Prometheus metrics HTTP listener. It blocks until the gRPC server stops.
func (d *Driver) Run() error {
	u, err := url.Parse(d.config.Endpoint)
	if err != nil {
		return err
	}

	var addr string
	if u.Scheme == "unix" {
		addr = u.Path
		if removeErr := os.Remove(addr); removeErr != nil && !os.IsNotExist(removeErr) {
			return removeErr
		}
	} else {
		addr = u.Host
	}

	if d.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		d.metricsSrv = &http.Server{
			Addr:              d.config.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			klog.Infof("starting metrics server on %s", d.config.MetricsAddr)
			if serveErr := d.metricsSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				klog.Errorf("metrics server error: %v", serveErr)
			}
		}()
	}

	klog.Infof("listening on %s://%s", u.Scheme, addr)
	//nolint:noctx // net.Listen is acceptable here - driver lifecycle is managed by gRPC server
	listener, err := net.Listen(u.Scheme, addr)
	if err != nil {
		return err
	}

	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(d.metricsInterceptor),
	}
	d.srv = grpc.NewServer(opts...)

	csi.RegisterIdentityServer(d.srv, d.identity)
	csi.RegisterControllerServer(d.srv, d.controller)
	csi.RegisterNodeServer(d.srv, d.node)

	klog.Info("csi driver is ready")
	return d.srv.Serve(listener)
}

// Stop gracefully drains and stops the driver: it flips the readiness flag
// so Probe starts failing, then shuts down the metrics server and the gRPC
// server (allowing in-flight RPCs to complete) and closes the cached Agent
// connection.
func (d *Driver) Stop() {
	klog.Info("stopping csi driver")
	d.identity.SetReady(false)

	if d.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsSrv.Shutdown(ctx); err != nil {
			klog.Errorf("error shutting down metrics server: %v", err)
		}
	}

	if d.srv != nil {
		d.srv.GracefulStop()
	}

	if d.controller != nil {
		d.controller.Close()
	}
}

// metricsInterceptor records per-RPC metrics and logs requests/responses at
// increasing verbosity.
func (d *Driver) metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	methodParts := strings.Split(info.FullMethod, "/")
	method := methodParts[len(methodParts)-1]

	klog.V(3).Infof("grpc call: %s", method)
	klog.V(5).Infof("grpc request: %+v", req)

	timer := metrics.NewOperationTimer(method)

	resp, err := handler(ctx, req)

	if err != nil {
		klog.Errorf("grpc error: %s returned error: %v", method, err)
		timer.ObserveError()
	} else {
		klog.V(5).Infof("grpc response: %+v", resp)
		timer.ObserveSuccess()
	}

	return resp, err
}
