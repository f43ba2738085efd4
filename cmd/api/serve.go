package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"studiodesk.app/internal/config"
	"studiodesk.app/internal/httpapi"
	"studiodesk.app/internal/logging"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/store/pg"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		Long: `Start the HTTP API and the gRPC authorizer. Configuration comes from
defaults, the --config file, STUDIODESK_ environment variables and flags.`,
		RunE: runServe,
	}

	def := config.Default()
	cmd.Flags().String("http.addr", def.HTTP.Addr, "HTTP listen address")
	cmd.Flags().String("grpc.addr", def.GRPC.Addr, "gRPC listen address (empty = disabled)")
	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")
	cmd.Flags().String("redis.url", "", "Redis URL for shared rate limiting")
	cmd.Flags().String("log.level", def.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("log.format", def.Log.Format, "log format (json, text)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.ServiceName, obs.Version, cfg.Log.Format, level, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting", "config", cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pg.Connect(ctx, pg.PoolOptions{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		ConnectWait: cfg.Database.ConnectWait,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	store := pg.New(pool)
	ready := httpapi.PingFunc(store.Ping)

	metrics := obs.NewMetrics()
	metrics.SetBuildInfo(obs.Version, obs.Commit)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	c, err := buildCore(cfg, store, notifier, metrics, logger)
	if err != nil {
		return err
	}
	limiter, closeLimiter, err := buildLimiter(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLimiter(); err != nil {
			logger.Warn("error closing rate limiter", "error", err)
		}
	}()

	trusted, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	api, err := httpapi.New(httpapi.Deps{
		Gateway:      c.gateway,
		Gate:         c.gate,
		Resolver:     c.resolver,
		Catalog:      store,
		Ready:        ready,
		Metrics:      metrics,
		Logger:       logger,
		LoginLimiter: limiter,
	}, httpapi.Options{
		ServiceName:    cfg.ServiceName,
		Version:        obs.Version,
		Production:     cfg.IsProduction(),
		AccessCookie:   cfg.Auth.AccessCookie,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		TrustedProxies: trusted,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	httpListener, grpcListener, err := bindListeners(cfg.HTTP.Addr, cfg.GRPC.Addr)
	if err != nil {
		return err
	}

	errChan := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- oops.Code("HTTP_SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
		}
	}()

	var grpcServer *grpc.Server
	if grpcListener != nil {
		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(httpapi.LoggingInterceptor(logger)))
		httpapi.NewGRPCServer(c.gateway, c.gate, ready, logger).Register(grpcServer)
		go func() {
			logger.Info("grpc server listening", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errChan <- oops.Code("GRPC_SERVE_FAILED").With("addr", cfg.GRPC.Addr).Wrap(err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errChan:
		logger.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

// bindListeners opens the HTTP listener and, when grpcAddr is set, the gRPC
// listener. On failure nothing is left open.
func bindListeners(httpAddr, grpcAddr string) (net.Listener, net.Listener, error) {
	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, nil, oops.Code("HTTP_LISTEN_FAILED").With("addr", httpAddr).Wrap(err)
	}
	if grpcAddr == "" {
		return httpListener, nil, nil
	}
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		_ = httpListener.Close()
		return nil, nil, oops.Code("GRPC_LISTEN_FAILED").With("addr", grpcAddr).Wrap(err)
	}
	return httpListener, grpcListener, nil
}
