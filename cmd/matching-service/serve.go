package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"jobmate/matching-service/internal/grpcserver"
	"jobmate/matching-service/internal/httpapi"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and gRPC health, and run the scheduled ingest cycle",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("http-port", "", "HTTP listen port (overrides HTTP_PORT)")
	serveCmd.Flags().String("grpc-port", "", "gRPC listen port (overrides GRPC_PORT)")
	serveCmd.Flags().Bool("no-cron", false, "do not run the scheduled ingest/sweep cycle")

	_ = v.BindPFlag("HTTP_PORT", serveCmd.Flags().Lookup("http-port"))
	_ = v.BindPFlag("GRPC_PORT", serveCmd.Flags().Lookup("grpc-port"))
	_ = v.BindPFlag("no-cron", serveCmd.Flags().Lookup("no-cron"))
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	zlog.Info("starting", zap.String("service", app), zap.String("version", version))

	svc, err := connect(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer svc.Close()

	// ── Scheduler ───────────────────────────────────────────────────────────
	sched := svc.scheduler(cfg, zlog)
	if !v.GetBool("no-cron") {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer sched.Stop()
	}

	// ── gRPC health ─────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	gs := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger(zlog)))
	health := grpcserver.NewServer(svc.store, svc.enc, zlog)
	health.Register(gs)
	go health.Run(ctx, healthInterval)
	go func() {
		zlog.Info("gRPC listening", zap.String("addr", lis.Addr().String()))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			zlog.Error("gRPC server error", zap.Error(err))
		}
	}()

	// ── HTTP server ─────────────────────────────────────────────────────────
	h := httpapi.NewHandler(httpapi.Deps{
		Ranker:          svc.ranker,
		Profiles:        svc.profiles,
		Ingester:        sched,
		Sweeper:         svc.sweeper,
		Storage:         svc.store,
		Encoder:         svc.enc,
		Credentials:     svc.rotators(),
		Assistant:       assistant(svc),
		Version:         version,
		MinScoreDefault: cfg.Ranking.MinScoreDefault,
		ScrapeLocation:  cfg.Scrape.Location,
		ScrapePerTerm:   cfg.Scrape.PerTerm,
		RetentionDays:   cfg.Retention.Days,
		RetryAfter:      cfg.Credentials.Cooldown,
	}, zlog)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// Ingest and encoder loads can run long.
		WriteTimeout: 5 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		zlog.Info("HTTP listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ───────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		zlog.Error("HTTP server error", zap.Error(err))
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("HTTP shutdown error", zap.Error(err))
	}
	gs.GracefulStop()
	zlog.Info("stopped")
	return nil
}

// assistant keeps a disabled relay as a nil interface so the handler reports
// it as not configured.
func assistant(svc *services) httpapi.Assistant {
	if svc.llm == nil {
		return nil
	}
	return svc.llm
}
