package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"gps-campaign-dashboard/pkg/config"
	"gps-campaign-dashboard/pkg/health"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// The gRPC listener only carries the standard health and reflection
// services. It stays off unless GRPC_SERVER.ADDR is set.
var ProvideGRPCServer = fx.Module("grpc.server",
	fx.Provide(
		NewListener,
		WithOption,
		NewGRPCServer,
	),
	fx.Invoke(
		StartGRPCServer,
	),
)

const healthPollInterval = 10 * time.Second

// NewListener returns nil when the gRPC listener is disabled.
func NewListener(cfg *config.Config) (net.Listener, error) {
	if cfg.Grpc.Addr == "" {
		return nil, nil
	}
	return net.Listen("tcp", listenAddr(cfg.Grpc.Addr))
}

func interceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(_ context.Context, lvl logging.Level, msg string, fields ...any) {
		zf := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, _ := fields[i].(string)
			zf = append(zf, zap.Any(key, fields[i+1]))
		}
		switch lvl {
		case logging.LevelDebug:
			l.Debug(msg, zf...)
		case logging.LevelInfo:
			l.Info(msg, zf...)
		case logging.LevelWarn:
			l.Warn(msg, zf...)
		default:
			l.Error(msg, zf...)
		}
	})
}

func recoverPanic(p any) error {
	zap.L().Error("grpc handler panic", zap.Any("panic", p))
	return status.Errorf(codes.Internal, "internal error")
}

func WithOption(cfg *config.Config, tp trace.TracerProvider) ([]grpc.ServerOption, error) {
	log := interceptorLogger(zap.L().Named("grpc"))
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(log),
			recovery.UnaryServerInterceptor(recovery.WithRecoveryHandler(recoverPanic)),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(log),
			recovery.StreamServerInterceptor(recovery.WithRecoveryHandler(recoverPanic)),
		),
		WithStatsHandler(tp),
	}

	if cfg.TLS.Enable {
		cert, err := LoadCertificate(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTLS(cert))
	}
	return opts, nil
}

func WithStatsHandler(tp trace.TracerProvider) grpc.ServerOption {
	return grpc.StatsHandler(
		otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(tp),
		),
	)
}

func LoadCertificate(certPath, keyPath string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load grpc certificate: %w", err)
	}
	return &cert, nil
}

func WithTLS(cert *tls.Certificate) grpc.ServerOption {
	return grpc.Creds(
		credentials.NewServerTLSFromCert(cert),
	)
}

type GRPCServer struct {
	*grpc.Server
	Health *grpchealth.Server
}

func NewGRPCServer(opts []grpc.ServerOption) *GRPCServer {
	srv := grpc.NewServer(opts...)
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return &GRPCServer{Server: srv, Health: hs}
}

// syncHealth mirrors the dependency check into the gRPC health service.
func syncHealth(ctx context.Context, hs *grpchealth.Server, checker health.HealthService) {
	set := func() {
		st := healthpb.HealthCheckResponse_SERVING
		if checker.Check(ctx).Status != health.StatusHealthy {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", st)
	}

	set()
	t := time.NewTicker(healthPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			set()
		}
	}
}

type GRPCParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Listener  net.Listener `optional:"true"`
	Server    *GRPCServer
	Health    health.HealthService
}

func StartGRPCServer(p GRPCParams) {
	if p.Listener == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go syncHealth(ctx, p.Server.Health, p.Health)
			go func() {
				zap.L().Info("Starting gRPC server", zap.String("addr", p.Listener.Addr().String()))
				if err := p.Server.Serve(p.Listener); err != nil {
					zap.L().Error("gRPC server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			zap.L().Info("Stopping gRPC server")
			cancel()
			p.Server.Health.Shutdown()
			p.Server.GracefulStop()
			return nil
		},
	})
}
