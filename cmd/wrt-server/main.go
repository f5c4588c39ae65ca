package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lzjever/mbos-wrt/internal/api"
	"github.com/lzjever/mbos-wrt/internal/envengine"
	"github.com/lzjever/mbos-wrt/internal/eventbus"
	"github.com/lzjever/mbos-wrt/internal/manager"
	"github.com/lzjever/mbos-wrt/internal/observability"
	"github.com/lzjever/mbos-wrt/internal/runtime"
	"github.com/lzjever/mbos-wrt/internal/store"
	"github.com/lzjever/mbos-wrt/internal/workerpool"
)

func main() {
	var (
		cfg       api.Config
		storeCfg  store.Config
		poolCfg   workerpool.Config
		mgrCfg    manager.Config
		engineCfg envengine.Config
		natsCfg   eventbus.NATSConfig
	)
	for _, spec := range []interface{}{&cfg, &storeCfg, &poolCfg, &mgrCfg, &engineCfg, &natsCfg} {
		if err := envconfig.Process("", spec); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	log, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	observability.RegisterAll(prometheus.DefaultRegisterer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, storeCfg)
	if err != nil {
		log.Fatal("store open failed", zap.String("driver", storeCfg.Driver), zap.Error(err))
	}
	defer st.Close()

	bus := eventbus.New(log)
	if natsCfg.URL != "" {
		fwd, err := eventbus.NewNATSForwarder(natsCfg, log)
		if err != nil {
			log.Fatal("nats connect failed", zap.Error(err))
		}
		fwd.Attach(bus)
		defer fwd.Close()
	}

	pool := workerpool.New(poolCfg, log)
	registry := runtime.New(envengine.NewLocal(engineCfg, log), st, bus, pool, log)
	mgr := manager.New(mgrCfg, st, registry, pool, bus, log)
	defer mgr.Close()

	// REST API
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewAPI(mgr, st, log).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	// gRPC health
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("listen failed", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("gRPC health server starting", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatal("grpc serve failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("API server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down workspace runtime")
	healthSrv.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Error("workspace shutdown incomplete", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	_ = metricsSrv.Shutdown(shutdownCtx)

	log.Info("workspace runtime stopped")
}
