package grpc

import (
	"context"
	"encoding/json"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/kashguard/go-secret-learn/internal/util/cert"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

const (
	// servicePrefix 健康检查服务名前缀：slearn.ready/<session>/<phase>/<party>
	servicePrefix = "slearn.ready/"
	// tokenHeader 响应头中携带 JSON 编码的 Token
	tokenHeader = "slearn-token-bin"
)

func serviceName(sessionID, phase, party string) string {
	return servicePrefix + sessionID + "/" + phase + "/" + party
}

func parseServiceName(name string) (sessionID, phase, party string, ok bool) {
	if !strings.HasPrefix(name, servicePrefix) {
		return "", "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(name, servicePrefix), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// ServerConfig gRPC服务端配置
type ServerConfig struct {
	ListenAddr string
	MaxConnAge time.Duration
	KeepAlive  time.Duration
	// Credentials 非空时启用 mTLS，只接受 AllowedPeers 中的参与方
	Credentials  credentials.TransportCredentials
	AllowedPeers []string
}

// ReadinessServer 通过 gRPC 健康检查服务暴露本方的就绪信号
type ReadinessServer struct {
	healthpb.UnimplementedHealthServer

	local *rendezvous.MemoryMedium
	cfg   ServerConfig

	grpcServer *grpc.Server
	listener   net.Listener
}

// NewReadinessServer 创建服务端，local 保存本方发布的信号
func NewReadinessServer(cfg ServerConfig, local *rendezvous.MemoryMedium) *ReadinessServer {
	if cfg.MaxConnAge <= 0 {
		cfg.MaxConnAge = 2 * time.Hour
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	return &ReadinessServer{local: local, cfg: cfg}
}

// GetServerOptions 获取gRPC服务器选项
func (s *ReadinessServer) GetServerOptions() []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionAge:      s.cfg.MaxConnAge,
			MaxConnectionAgeGrace: 30 * time.Second,
			Time:                  s.cfg.KeepAlive,
			Timeout:               20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if s.cfg.Credentials != nil {
		opts = append(opts, grpc.Creds(s.cfg.Credentials), grpc.UnaryInterceptor(s.authInterceptor))
	}
	return opts
}

// authInterceptor 校验客户端证书中的参与方名称
func (s *ReadinessServer) authInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler) (interface{}, error) {
	name, err := cert.PeerName(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	if !slices.Contains(s.cfg.AllowedPeers, name) {
		log.Warn().Str("peer", name).Str("method", info.FullMethod).Msg("Rejected readiness probe from unknown party")
		return nil, status.Errorf(codes.PermissionDenied, "party %q is not a session member", name)
	}
	return handler(ctx, req)
}

// Check 返回信号是否存在；存在时通过响应头返回 Token
func (s *ReadinessServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if req.GetService() == "" {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}

	sessionID, phase, party, ok := parseServiceName(req.GetService())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}

	token, err := s.local.Lookup(ctx, sessionID, phase, party)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if token == nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}

	data, err := json.Marshal(token)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if err := grpc.SetHeader(ctx, metadata.Pairs(tokenHeader, string(data))); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// Register 在已有的 gRPC 服务器上注册健康检查服务
func (s *ReadinessServer) Register(server *grpc.Server) {
	healthpb.RegisterHealthServer(server, s)
}

// Serve 在 lis 上提供服务直到 ctx 取消
func (s *ReadinessServer) Serve(ctx context.Context, lis net.Listener) error {
	s.listener = lis
	s.grpcServer = grpc.NewServer(s.GetServerOptions()...)
	s.Register(s.grpcServer)

	// 启用反射（开发环境）
	reflection.Register(s.grpcServer)

	log.Info().
		Str("address", lis.Addr().String()).
		Bool("mtls", s.cfg.Credentials != nil).
		Msg("Starting readiness gRPC server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return errors.Wrap(err, "readiness gRPC server failed")
		}
		return nil
	}
}

// Start 监听 ListenAddr 并提供服务直到 ctx 取消
func (s *ReadinessServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.ListenAddr)
	}
	return s.Serve(ctx, lis)
}

// Stop 停止 gRPC 服务器
func (s *ReadinessServer) Stop() {
	log.Info().Msg("Stopping readiness gRPC server")

	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.listener != nil {
		s.listener.Close()
	}
}
