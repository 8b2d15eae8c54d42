package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/config"
	"goyais.org/hub/internal/gateway"
	"goyais.org/hub/internal/httpapi"
	"goyais.org/hub/internal/modelconfig"
	"goyais.org/hub/internal/obs"
	"goyais.org/hub/internal/secrets"
	"goyais.org/hub/internal/vault"
	"goyais.org/hub/internal/workspace"
)

const (
	shutdownTimeout     = 10 * time.Second
	grpcRefreshInterval = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub HTTP API",
	Long: `Run the hub HTTP API.

The server refuses to start without a valid HUB_SECRET_KEY and
HUB_RUNTIME_SHARED_SECRET. When HUB_GRPC_ADDR is set, a gRPC health
service mirroring /readyz is served on that address as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("http-addr"); addr != "" {
			cfg.HTTPAddr = addr
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("http-addr", "", "HTTP listen address (overrides HUB_HTTP_ADDR)")
}

func serve(parent context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	obs.InitLogger(obs.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	obs.Init()
	obs.InitBuildInfo(Version, Commit)
	log := obs.WithComponent("serve")

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()
	if cfg.Store == config.StoreMemory {
		log.Warn().Msg("using the in-memory store; all state is lost on exit")
	}

	v, err := vault.New(cfg.SecretKey)
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(st, auth.WithTokenTTL(cfg.TokenTTL()))
	if err != nil {
		return err
	}
	gw, err := gateway.New(st, cfg.RuntimeSharedSecret,
		gateway.WithProbeTimeout(cfg.ProbeTimeout()),
		gateway.WithForwardTimeout(cfg.ForwardTimeout()),
		gateway.WithStreamTimeout(cfg.StreamTimeout()),
	)
	if err != nil {
		return err
	}

	bootstrapper := workspace.NewBootstrapper(st, cfg.BootstrapToken, cfg.TokenTTL(),
		workspace.WithAllowPublicSignup(cfg.AllowPublicSignup))

	api := httpapi.New(httpapi.Deps{
		Auth:              authSvc,
		Gate:              workspace.NewGate(st),
		Bootstrap:         bootstrapper,
		Models:            modelconfig.NewService(st, v),
		Secrets:           secrets.NewResolver(st, v),
		Gateway:           gw,
		Ready:             st,
		Version:           Version,
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		LoginRate:         cfg.LoginRatePerSec,
		LoginBurst:        cfg.LoginRateBurst,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	// No WriteTimeout; run event streams are bounded by the gateway stream timeout.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		grpcSrv *grpc.Server
		grpcLis net.Listener
	)
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
	}

	errCh := make(chan error, 2)
	if grpcSrv != nil {
		health := httpapi.NewGRPCHealth(st)
		health.Register(grpcSrv)
		go health.Run(ctx, grpcRefreshInterval)
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("starting grpc health")
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", Version).Str("store", cfg.Store).Msg("starting hub")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if grpcSrv != nil {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
	}
	log.Info().Msg("stopped")
	return serveErr
}
