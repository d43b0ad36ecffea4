package admin

import (
	"net"
	"net/http"

	"github.com/Keksclan/querycache/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server is the admin gRPC server.
type Server struct {
	grpcServer *grpc.Server
}

type config struct {
	logger            *zap.Logger
	tracing           *tracing.Config
	unaryInterceptors []grpc.UnaryServerInterceptor
}

// Option configures a Server.
type Option func(*config)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracing records a server span for every RPC.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *config) { c.tracing = cfg }
}

// WithUnaryInterceptor appends an interceptor to the end of the chain.
func WithUnaryInterceptor(i grpc.UnaryServerInterceptor) Option {
	return func(c *config) { c.unaryInterceptors = append(c.unaryInterceptors, i) }
}

// NewServer creates a Server with h registered. Interceptors run in this
// order: request ID, recovery, tracing, access log, then any extra ones.
func NewServer(h Handler, opts ...Option) *Server {
	cfg := config{logger: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}

	chain := append([]grpc.UnaryServerInterceptor{
		RequestIDUnary(),
		RecoveryUnary(cfg.logger),
		tracing.UnaryServerInterceptor(cfg.tracing),
		AccessLogUnary(cfg.logger),
	}, cfg.unaryInterceptors...)

	s := grpc.NewServer(grpc.ChainUnaryInterceptor(chain...))
	Register(s, h)
	return &Server{grpcServer: s}
}

// GRPC returns the underlying *grpc.Server.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// Serve accepts connections on lis until Stop or GracefulStop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop stops accepting connections and waits for pending RPCs.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// MetricsHandler returns an http.Handler that serves the metrics gathered
// by g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
