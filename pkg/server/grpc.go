// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes cascade health, metrics and functions over gRPC and HTTP.
package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jllopis/kairos-cascade/pkg/health"
)

// HealthServer publishes tier health through the standard gRPC health service.
// Each registered component is a service name; the empty name is the overall status.
type HealthServer struct {
	provider *health.Provider
	health   *grpchealth.Server
	grpc     *grpc.Server
	logger   *slog.Logger
}

// NewHealthServer creates a gRPC server with the health service registered.
func NewHealthServer(provider *health.Provider, logger *slog.Logger, opts ...grpc.ServerOption) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := grpchealth.NewServer()
	gs := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(gs, hs)
	return &HealthServer{provider: provider, health: hs, grpc: gs, logger: logger}
}

// GRPC returns the underlying server so callers can register more services.
func (s *HealthServer) GRPC() *grpc.Server {
	return s.grpc
}

// Sync checks every component and updates the serving status.
// Degraded components still serve.
func (s *HealthServer) Sync(ctx context.Context) health.Status {
	results, overall := s.provider.CheckAll(ctx)
	for _, r := range results {
		s.health.SetServingStatus(r.Component, servingStatus(r.Status))
	}
	s.health.SetServingStatus("", servingStatus(overall))
	return overall
}

// Watch syncs on every tick until ctx is done.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	s.Sync(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sync(ctx)
		}
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("server.grpc.start", slog.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop marks every service as not serving and stops the server gracefully.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("server.grpc.stop")
}

func servingStatus(status health.Status) healthpb.HealthCheckResponse_ServingStatus {
	if status == health.Unhealthy {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
