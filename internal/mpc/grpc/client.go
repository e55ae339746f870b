package grpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ClientConfig gRPC客户端配置
type ClientConfig struct {
	ProbeTimeout time.Duration
	KeepAlive    time.Duration
	// DialOptions 追加的拨号选项（测试中注入 bufconn 拨号器）
	DialOptions []grpc.DialOption
	// Credentials 为到 party 的连接提供 mTLS 凭据，为空时使用明文连接
	Credentials func(party string) (credentials.TransportCredentials, error)
}

// HealthMedium 基于 gRPC 健康检查的就绪信号介质
// 本方信号保存在本地并由 ReadinessServer 对外提供，对端信号通过 Check 探测获得
type HealthMedium struct {
	self  string
	peers map[string]string
	local *rendezvous.MemoryMedium
	cfg   ClientConfig

	mu      sync.RWMutex
	conns   map[string]*grpc.ClientConn
	clients map[string]healthpb.HealthClient
}

var _ rendezvous.Medium = (*HealthMedium)(nil)

// NewHealthMedium 创建介质；peers 为参与方名称到地址的映射（可包含本方）
func NewHealthMedium(self string, peers map[string]string, local *rendezvous.MemoryMedium, cfg ClientConfig) *HealthMedium {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	addrs := make(map[string]string, len(peers))
	for name, addr := range peers {
		if name != self {
			addrs[name] = addr
		}
	}
	return &HealthMedium{
		self:    self,
		peers:   addrs,
		local:   local,
		cfg:     cfg,
		conns:   make(map[string]*grpc.ClientConn),
		clients: make(map[string]healthpb.HealthClient),
	}
}

// Publish 只能发布本方信号
func (m *HealthMedium) Publish(ctx context.Context, token rendezvous.Token) error {
	if token.PartyName != m.self {
		return errors.Errorf("cannot publish a token on behalf of %s", token.PartyName)
	}
	return m.local.Publish(ctx, token)
}

// Lookup 本方信号读本地，对端信号通过健康检查探测
// 对端尚未启动（Unavailable）视为尚未就绪
func (m *HealthMedium) Lookup(ctx context.Context, sessionID, phase, party string) (*rendezvous.Token, error) {
	if party == m.self {
		return m.local.Lookup(ctx, sessionID, phase, party)
	}

	client, err := m.getOrCreateClient(party)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	var header metadata.MD
	resp, err := client.Check(probeCtx, &healthpb.HealthCheckRequest{Service: serviceName(sessionID, phase, party)}, grpc.Header(&header))
	if err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug().Err(err).Str("party", party).Msg("Peer not reachable yet")
			return nil, nil
		default:
			return nil, errors.Wrapf(err, "failed to probe %s", party)
		}
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return nil, nil
	}

	values := header.Get(tokenHeader)
	if len(values) == 0 {
		return nil, errors.Errorf("peer %s reported ready without a token", party)
	}
	var token rendezvous.Token
	if err := json.Unmarshal([]byte(values[0]), &token); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal token from %s", party)
	}
	return &token, nil
}

// Delete 只能删除本方信号，对端信号由对端自行清理
func (m *HealthMedium) Delete(ctx context.Context, sessionID, phase, party string) error {
	if party != m.self {
		return nil
	}
	return m.local.Delete(ctx, sessionID, phase, party)
}

// List 返回本方信号以及探测到的对端信号
func (m *HealthMedium) List(ctx context.Context, sessionID string) ([]rendezvous.Token, error) {
	out, err := m.local.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for name := range m.peers {
		for _, phase := range []string{rendezvous.PhaseReady, rendezvous.PhaseProceed} {
			t, err := m.Lookup(ctx, sessionID, phase, name)
			if err != nil {
				return nil, err
			}
			if t != nil {
				out = append(out, *t)
			}
		}
	}
	return out, nil
}

// getOrCreateClient 获取或创建到指定参与方的连接
func (m *HealthMedium) getOrCreateClient(party string) (healthpb.HealthClient, error) {
	m.mu.RLock()
	client, ok := m.clients[party]
	m.mu.RUnlock()
	if ok {
		return client, nil
	}

	addr, ok := m.peers[party]
	if !ok {
		return nil, errors.Errorf("no address known for party %s", party)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 双重检查
	if client, ok := m.clients[party]; ok {
		return client, nil
	}

	creds := insecure.NewCredentials()
	if m.cfg.Credentials != nil {
		var err error
		if creds, err = m.cfg.Credentials(party); err != nil {
			return nil, errors.Wrapf(err, "failed to load credentials for party %s", party)
		}
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                m.cfg.KeepAlive,
			Timeout:             m.cfg.ProbeTimeout,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, m.cfg.DialOptions...)

	log.Debug().Str("party", party).Str("endpoint", addr).Msg("Dialing readiness endpoint")
	conn, err := grpc.NewClient("passthrough:///"+addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to party %s at %s", party, addr)
	}

	client = healthpb.NewHealthClient(conn)
	m.conns[party] = conn
	m.clients[party] = client
	return client, nil
}

// Close 关闭全部连接
func (m *HealthMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, conn := range m.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close connection to %s", name)
		}
	}
	m.conns = make(map[string]*grpc.ClientConn)
	m.clients = make(map[string]healthpb.HealthClient)
	return firstErr
}
