// Command signkit-peerd receives signed build artifacts over gRPC, verifies
// them and keeps the accepted ones in a content-addressed store.
package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"pangea.dev/signkit/config"
	"pangea.dev/signkit/distribute"
	"pangea.dev/signkit/internal/logging"
	"pangea.dev/signkit/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, errOut io.Writer) int {
	cmd := newRootCmd(errOut)
	cmd.SetArgs(args)
	cmd.SetErr(errOut)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "signkit-peerd: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(errOut io.Writer) *cobra.Command {
	var (
		configPath  string
		listen      string
		storeDir    string
		mirrorDirs  []string
		metricsAddr string
		trustedKeys []string
		rateLimit   float64
		burst       int
		logLevel    string
		logFile     string
	)
	cmd := &cobra.Command{
		Use:           "signkit-peerd",
		Short:         "Receive, verify and store signed build artifacts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Daemon.Listen = listen
			}
			if flags.Changed("store-dir") {
				cfg.Daemon.StoreDir = storeDir
			}
			if flags.Changed("mirror-dir") {
				cfg.Daemon.MirrorDirs = mirrorDirs
			}
			if flags.Changed("metrics-addr") {
				cfg.Daemon.MetricsAddr = metricsAddr
			}
			if flags.Changed("trusted-key") {
				cfg.Daemon.TrustedKeys = trustedKeys
			}
			if flags.Changed("rate") {
				cfg.Daemon.Rate = rateLimit
			}
			if flags.Changed("burst") {
				cfg.Daemon.Burst = burst
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("log-file") {
				cfg.Log.File = logFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := log.New()
			if err := logging.Setup(logger, cfg.Log.Level, cfg.Log.File); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			if cfg.Log.File == "" || cfg.Log.File == "console" {
				logger.SetOutput(errOut)
			}

			d, err := newDaemon(cfg, logger)
			if err != nil {
				return err
			}
			addr, err := ma.NewMultiaddr(cfg.Daemon.Listen)
			if err != nil {
				return fmt.Errorf("invalid listen address %q: %w", cfg.Daemon.Listen, err)
			}
			lis, err := manet.Listen(addr)
			if err != nil {
				return err
			}
			return d.serve(cmd.Context(), lis)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to the config file (default ~/.signkit/config.yaml)")
	flags.StringVar(&listen, "listen", "", "Listen multiaddr (default /ip4/127.0.0.1/tcp/7777)")
	flags.StringVar(&storeDir, "store-dir", "", "Directory of the artifact store")
	flags.StringArrayVar(&mirrorDirs, "mirror-dir", nil, "Additional store directory every artifact is copied to (repeatable)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this host:port")
	flags.StringArrayVar(&trustedKeys, "trusted-key", nil, "Accept only artifacts signed by this hex public key (repeatable)")
	flags.Float64Var(&rateLimit, "rate", 0, "Push streams accepted per second, 0 for unlimited")
	flags.IntVar(&burst, "burst", 0, "Push stream burst size")
	flags.StringVar(&logLevel, "log-level", "", "Log level")
	flags.StringVar(&logFile, "log-file", "", "Log file path, or console")
	return cmd
}

type daemon struct {
	log     *log.Logger
	store   storage.CAS
	grpc    *grpc.Server
	handler http.Handler
	metrics *http.Server
}

func newDaemon(cfg config.Config, logger *log.Logger) (*daemon, error) {
	store, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}
	trusted := make([]ed25519.PublicKey, 0, len(cfg.Daemon.TrustedKeys))
	for _, s := range cfg.Daemon.TrustedKeys {
		k, err := distribute.ParsePublicKey(s)
		if err != nil {
			return nil, err
		}
		trusted = append(trusted, k)
	}
	var limiter *rate.Limiter
	if cfg.Daemon.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Daemon.Rate), max(cfg.Daemon.Burst, 1))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv, err := distribute.NewServer(distribute.ServerOptions{
		Store:       store,
		TrustedKeys: trusted,
		Limiter:     limiter,
		Metrics:     distribute.NewMetrics(reg),
		Log:         logger.WithField("component", "distribute"),
	})
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer(grpc.MaxRecvMsgSize(distribute.DefaultMaxArtifactBytes + 1<<10))
	distribute.RegisterDistributorServer(gs, srv)

	d := &daemon{
		log:     logger,
		store:   store,
		grpc:    gs,
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),
	}
	if cfg.Daemon.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.handler)
		d.metrics = &http.Server{Addr: cfg.Daemon.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return d, nil
}

// serve blocks until ctx is done or a listener fails, then drains in-flight
// streams.
func (d *daemon) serve(ctx context.Context, lis manet.Listener) error {
	errc := make(chan error, 2)
	go func() {
		errc <- d.grpc.Serve(manet.NetListener(lis))
	}()
	if d.metrics != nil {
		go func() {
			if err := d.metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}
	d.log.WithField("listen", lis.Multiaddr().String()).Info("signkit-peerd listening")

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	d.shutdown()
	return err
}

func (d *daemon) shutdown() {
	stopped := make(chan struct{})
	go func() {
		d.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		d.log.Warn("streams still open, forcing shutdown")
		d.grpc.Stop()
	}
	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.metrics.Shutdown(ctx); err != nil {
			d.log.WithError(err).Warn("metrics server shutdown")
		}
	}
	d.log.Info("signkit-peerd stopped")
}
