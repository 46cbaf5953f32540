package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName имя сервиса в health протоколе
const ServiceName = "a11y.scan.v1"

// Server gRPC сервер с health и reflection для оркестратора
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	log        *logger.Logger
	addr       string
	listener   net.Listener
}

// NewServer создает новый gRPC сервер
func NewServer(addr string, log *logger.Logger) *Server {
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     time.Minute * 5,
		MaxConnectionAge:      time.Hour,
		MaxConnectionAgeGrace: time.Minute * 5,
		Time:                  time.Minute * 2,
		Timeout:               time.Second * 20,
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(kaParams),
		grpc.ChainUnaryInterceptor(UnaryLogger(log)),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	// Включаем reflection для удобства отладки (например, с помощью grpcurl)
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		log:        log,
		addr:       addr,
	}
}

// SetServing переключает статус health для всего сервера и ServiceName
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Start слушает addr и блокируется до остановки
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve обслуживает готовый listener
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener
	s.SetServing(true)
	s.log.Infow("Starting gRPC server", "addr", listener.Addr().String())

	if err := s.grpcServer.Serve(listener); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop переводит health в NOT_SERVING и останавливает сервер
func (s *Server) Stop() {
	s.log.Infow("Stopping gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// UnaryLogger логирует каждый unary вызов: метод, код, длительность
func UnaryLogger(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		if err != nil {
			log.Warnw("gRPC call failed", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start), "error", err)
		} else {
			log.Debugw("gRPC call", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start))
		}
		return resp, err
	}
}
