package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// 协作模式
const (
	ModeFederated     = "FL"
	ModeSecretShared  = "SS"
	ModeSplitLearning = "SL"
)

// 就绪信号介质
const (
	MediumMemory = "memory"
	MediumFile   = "file"
	MediumRedis  = "redis"
	MediumGRPC   = "grpc"
)

// 参与方消息通道
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// DefaultBasePorts 各模式示例集群的默认起始端口
var DefaultBasePorts = map[string]int{
	ModeFederated:     9491,
	ModeSecretShared:  9494,
	ModeSplitLearning: 9497,
}

// PartyEndpoint 单个参与方的网络地址
type PartyEndpoint struct {
	Address    string `mapstructure:"address" json:"address"`
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
}

// Cluster 集群描述（参与方 → 地址，本方名称，协调方）
type Cluster struct {
	Parties     map[string]PartyEndpoint `mapstructure:"parties" json:"parties"`
	SelfParty   string                   `mapstructure:"self_party" json:"self_party"`
	Coordinator string                   `mapstructure:"coordinator" json:"coordinator"`
}

// Runtime 安全计算运行时参数（SS 模式）
type Runtime struct {
	Protocol        string `mapstructure:"protocol" json:"protocol"`
	Field           string `mapstructure:"field" json:"field"`
	FxpFractionBits int    `mapstructure:"fxp_fraction_bits" json:"fxp_fraction_bits"`
	RevealTo        string `mapstructure:"reveal_to" json:"reveal_to"`
}

// Rendezvous 就绪屏障参数
type Rendezvous struct {
	Medium       string        `mapstructure:"medium" json:"medium"`
	Dir          string        `mapstructure:"dir" json:"dir"`
	RedisAddr    string        `mapstructure:"redis_addr" json:"redis_addr"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout"`
	Grace        time.Duration `mapstructure:"grace" json:"grace"`
	Acknowledge  bool          `mapstructure:"acknowledge" json:"acknowledge"`
	// TLS grpc 介质的 mTLS 证书，留空时使用明文连接
	TLS TLS `mapstructure:"tls" json:"tls"`
}

// TLS 参与方证书文件
type TLS struct {
	CertFile string `mapstructure:"cert_file" json:"cert_file"`
	KeyFile  string `mapstructure:"key_file" json:"key_file"`
	CAFile   string `mapstructure:"ca_file" json:"ca_file"`
}

// Transport 参与方之间的消息通道
type Transport struct {
	Kind           string        `mapstructure:"kind" json:"kind"`
	RedisAddr      string        `mapstructure:"redis_addr" json:"redis_addr"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout" json:"receive_timeout"`
}

// Session 会话参数
type Session struct {
	ID           string        `mapstructure:"id" json:"id"`
	ExpiresAfter time.Duration `mapstructure:"expires_after" json:"expires_after"`
}

// Logger 日志参数
type Logger struct {
	Level  string `mapstructure:"level" json:"level"`
	Pretty bool   `mapstructure:"pretty" json:"pretty"`
}

// Metrics 运维 HTTP 接口
type Metrics struct {
	Listen string `mapstructure:"listen" json:"listen"`
}

// Server 进程完整配置
type Server struct {
	Cluster    `mapstructure:",squash"`
	Mode       string     `mapstructure:"mode" json:"mode"`
	Runtime    Runtime    `mapstructure:"runtime" json:"runtime"`
	Rendezvous Rendezvous `mapstructure:"rendezvous" json:"rendezvous"`
	Transport  Transport  `mapstructure:"transport" json:"transport"`
	Session    Session    `mapstructure:"session" json:"session"`
	Logger     Logger     `mapstructure:"log" json:"log"`
	Metrics    Metrics    `mapstructure:"metrics" json:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeSecretShared)
	v.SetDefault("runtime.protocol", "SEMI2K")
	v.SetDefault("runtime.field", "FM64")
	v.SetDefault("runtime.fxp_fraction_bits", 18)
	v.SetDefault("rendezvous.medium", MediumFile)
	v.SetDefault("rendezvous.dir", "")
	v.SetDefault("rendezvous.poll_interval", time.Second)
	v.SetDefault("rendezvous.timeout", 30*time.Second)
	v.SetDefault("rendezvous.grace", time.Second)
	v.SetDefault("rendezvous.acknowledge", true)
	v.SetDefault("transport.kind", TransportRedis)
	v.SetDefault("transport.redis_addr", "localhost:6379")
	v.SetDefault("transport.receive_timeout", 5*time.Minute)
	v.SetDefault("session.expires_after", 10*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("metrics.listen", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SLEARN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultServiceConfigFromEnv 返回默认配置（可被 SLEARN_* 环境变量覆盖）
func DefaultServiceConfigFromEnv() Server {
	v := newViper()
	var cfg Server
	// defaults and env overrides only, decoding cannot fail on them
	_ = v.Unmarshal(&cfg)
	cfg.applyPortDefaults()
	return cfg
}

// Load 读取 YAML 配置文件，环境变量优先
func Load(path string) (Server, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return Server{}, errors.Wrapf(err, "failed to read config file %s", path)
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return Server{}, errors.Wrap(err, "failed to decode config")
	}
	cfg.applyPortDefaults()

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// applyPortDefaults 为未写端口的参与方补上模式默认端口（按名称排序依次递增）
func (s *Server) applyPortDefaults() {
	base, ok := DefaultBasePorts[strings.ToUpper(s.Mode)]
	if !ok || len(s.Parties) == 0 {
		return
	}
	for i, name := range sortedNames(s.Parties) {
		ep := s.Parties[name]
		if ep.Address != "" && !strings.Contains(ep.Address, ":") {
			ep.Address = fmt.Sprintf("%s:%d", ep.Address, base+i)
		}
		if ep.ListenAddr == "" && ep.Address != "" {
			if _, port, err := net.SplitHostPort(ep.Address); err == nil {
				ep.ListenAddr = "0.0.0.0:" + port
			}
		}
		s.Parties[name] = ep
	}
}

// Validate 语法层面的校验；参与方语义校验由 party.Resolve 完成
func (s Server) Validate() error {
	switch strings.ToUpper(s.Mode) {
	case ModeFederated, ModeSecretShared, ModeSplitLearning:
	default:
		return errors.Errorf("unknown mode %q, expected one of FL, SS, SL", s.Mode)
	}

	switch s.Rendezvous.Medium {
	case MediumMemory, MediumFile, MediumRedis, MediumGRPC:
	default:
		return errors.Errorf("unknown rendezvous medium %q", s.Rendezvous.Medium)
	}
	if s.Rendezvous.Medium == MediumRedis && s.Rendezvous.RedisAddr == "" {
		return errors.New("rendezvous.redis_addr is required for the redis medium")
	}
	if s.Rendezvous.PollInterval <= 0 {
		return errors.New("rendezvous.poll_interval must be positive")
	}
	if s.Rendezvous.Timeout <= 0 {
		return errors.New("rendezvous.timeout must be positive")
	}
	if s.Rendezvous.Grace < 0 {
		return errors.New("rendezvous.grace must not be negative")
	}
	if tls := s.Rendezvous.TLS; tls != (TLS{}) && (tls.CertFile == "" || tls.KeyFile == "" || tls.CAFile == "") {
		return errors.New("rendezvous.tls needs cert_file, key_file and ca_file together")
	}

	switch s.Transport.Kind {
	case TransportMemory, TransportRedis:
	default:
		return errors.Errorf("unknown transport %q", s.Transport.Kind)
	}

	if s.Session.ExpiresAfter <= 0 {
		return errors.New("session.expires_after must be positive")
	}
	return nil
}
