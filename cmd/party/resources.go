package party

import (
	"context"
	"net"
	"os"

	"github.com/kashguard/go-secret-learn/internal/config"
	mpcgrpc "github.com/kashguard/go-secret-learn/internal/mpc/grpc"
	mpcparty "github.com/kashguard/go-secret-learn/internal/mpc/party"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/kashguard/go-secret-learn/internal/mpc/storage"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/kashguard/go-secret-learn/internal/util/cert"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/credentials"
)

// resources 会话依赖的外部资源：就绪信号介质与消息通道
type resources struct {
	medium    rendezvous.Medium
	messenger transport.Messenger
	// cleanup 在会话 teardown 时执行
	cleanup []func(ctx context.Context) error
	// closers 进程退出前按逆序执行
	closers []func() error
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to release resource")
		}
	}
	r.closers = nil
}

func openResources(ctx context.Context, cfg config.Server, book *mpcparty.Book, sessionID string) (*resources, error) {
	r := &resources{}
	if err := r.openMedium(ctx, cfg, book); err != nil {
		r.close()
		return nil, err
	}
	if err := r.openMessenger(ctx, cfg, book, sessionID); err != nil {
		r.close()
		return nil, err
	}
	return r, nil
}

func (r *resources) openMedium(ctx context.Context, cfg config.Server, book *mpcparty.Book) error {
	self := book.Self().Name
	switch cfg.Rendezvous.Medium {
	case config.MediumFile:
		dir := cfg.Rendezvous.Dir
		if dir == "" {
			dir = os.TempDir()
		}
		m, err := rendezvous.NewFileMedium(dir)
		if err != nil {
			return protocol.NewConfigurationError(self, "%v", err)
		}
		r.medium = m
	case config.MediumRedis:
		client, err := r.redisClient(ctx, cfg.Rendezvous.RedisAddr)
		if err != nil {
			return err
		}
		r.medium = storage.NewRedisMedium(client, cfg.Session.ExpiresAfter)
	case config.MediumGRPC:
		return r.openGRPCMedium(ctx, cfg, book)
	default:
		return protocol.NewConfigurationError(self, "rendezvous medium %q only works with party simulate", cfg.Rendezvous.Medium)
	}
	return nil
}

// openGRPCMedium 启动本方就绪服务并创建探测对端的介质；配置了证书时启用 mTLS
func (r *resources) openGRPCMedium(ctx context.Context, cfg config.Server, book *mpcparty.Book) error {
	self := book.Self()
	listen := self.ListenAddress
	if listen == "" {
		listen = self.Address
	}

	files := cert.Files{
		CertFile: cfg.Rendezvous.TLS.CertFile,
		KeyFile:  cfg.Rendezvous.TLS.KeyFile,
		CAFile:   cfg.Rendezvous.TLS.CAFile,
	}
	serverCfg := mpcgrpc.ServerConfig{ListenAddr: listen}
	var clientCfg mpcgrpc.ClientConfig
	if files.Enabled() {
		if err := cert.Verify(files); err != nil {
			return protocol.NewConfigurationError(self.Name, "%v", err)
		}
		creds, err := cert.ServerCredentials(files)
		if err != nil {
			return protocol.NewConfigurationError(self.Name, "%v", err)
		}
		serverCfg.Credentials = creds
		serverCfg.AllowedPeers = book.Names()
		clientCfg.Credentials = func(party string) (credentials.TransportCredentials, error) {
			return cert.ClientCredentials(files, party)
		}
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return protocol.NewConfigurationError(self.Name, "cannot listen on %s: %v", listen, err)
	}

	local := rendezvous.NewMemoryMedium()
	srv := mpcgrpc.NewReadinessServer(serverCfg, local)
	srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(srvCtx, lis); err != nil {
			log.Error().Err(err).Msg("Readiness server stopped")
		}
	}()

	peers := make(map[string]string, book.Len())
	for _, p := range book.Parties() {
		peers[p.Name] = p.Address
	}
	m := mpcgrpc.NewHealthMedium(self.Name, peers, local, clientCfg)
	r.medium = m
	r.closers = append(r.closers, func() error {
		cancel()
		<-done
		return nil
	}, m.Close)
	return nil
}

func (r *resources) openMessenger(ctx context.Context, cfg config.Server, book *mpcparty.Book, sessionID string) error {
	self := book.Self().Name
	switch cfg.Transport.Kind {
	case config.TransportRedis:
		client, err := r.redisClient(ctx, cfg.Transport.RedisAddr)
		if err != nil {
			return err
		}
		q := storage.NewRedisQueue(client, sessionID, self)
		names := book.Names()
		// 会话 ID 由配置派生，上一次运行残留的入站消息须在发出就绪信号之前丢弃
		if err := q.Purge(ctx, names); err != nil {
			return err
		}
		log.Debug().Str("session_id", sessionID).Str("party", self).Msg("Purged stale inbound queues")
		r.messenger = transport.WithReceiveTimeout(q, cfg.Transport.ReceiveTimeout)
		r.cleanup = append(r.cleanup, func(ctx context.Context) error {
			return q.Purge(ctx, names)
		})
	default:
		return protocol.NewConfigurationError(self, "transport %q only works with party simulate", cfg.Transport.Kind)
	}
	return nil
}

func (r *resources) redisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", addr)
	}
	r.closers = append(r.closers, client.Close)
	return client, nil
}
