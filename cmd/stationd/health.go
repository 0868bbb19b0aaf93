package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"stationbook/internal/cache"
	"stationbook/internal/database"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ready pings the database and, when configured, redis.
func ready(ctx context.Context, db *database.DB, slots *cache.SlotCache) error {
	ctxPing, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := db.PingContext(ctxPing); err != nil {
		return fmt.Errorf("db not ready: %w", err)
	}
	if err := slots.Ping(ctxPing); err != nil {
		return fmt.Errorf("redis not ready: %w", err)
	}
	return nil
}

func startHealthServer(ctx context.Context, port int, db *database.DB, slots *cache.SlotCache, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context(), db, slots); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

// startGRPCHealth serves grpc.health.v1 for orchestrators that probe over gRPC.
// The overall status follows the same readiness check as /readyz.
func startGRPCHealth(ctx context.Context, port int, db *database.DB, slots *cache.SlotCache, logger *zerolog.Logger) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error().Err(err).Int("port", port).Msg("grpc health listen error")
		return
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	probe := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if err := ready(ctx, db, slots); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus("stationbook", status)
	}
	probe()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				srv.GracefulStop()
				return
			case <-ticker.C:
				probe()
			}
		}
	}()

	if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		logger.Error().Err(err).Msg("grpc health server error")
	}
}
