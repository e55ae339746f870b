package device

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Spec 构造设备所需的会话信息
type Spec struct {
	SessionID string
	Mode      string
	Self      string
	Parties   []string
	Runtime   RuntimeConfig
	Messenger transport.Messenger
}

// Digest 本方配置摘要
func (s Spec) Digest() string {
	return Digest(s.Mode, s.Parties, s.Runtime)
}

// Factory 安全设备工厂，按协议名注册引擎
type Factory struct {
	mu       sync.RWMutex
	builders map[string]EngineBuilder
}

// NewFactory 创建工厂并注册内置引擎（REF2K、SEMI2K）
// ABY3、CHEETAH 等协议的引擎由使用方通过 Register 提供
func NewFactory() *Factory {
	f := &Factory{builders: make(map[string]EngineBuilder)}
	f.Register(ProtocolREF2K, newREF2K)
	f.Register(ProtocolSEMI2K, newSEMI2K)
	return f
}

// Register 注册协议引擎
func (f *Factory) Register(protocolName string, builder EngineBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[strings.ToUpper(protocolName)] = builder
}

// Create 在观察到全部参与方就绪后构造设备
// 每一方都执行相同的校验：运行时参数、各方摘要一致性、引擎是否接受参数
func (f *Factory) Create(ctx context.Context, spec Spec, observed *rendezvous.Observed) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "device creation canceled")
	}
	if spec.Messenger == nil {
		return nil, protocol.NewDeviceCreationError(spec.SessionID, errors.New("no messenger"))
	}
	if err := checkObserved(spec, observed); err != nil {
		return nil, protocol.NewDeviceCreationError(spec.SessionID, err)
	}

	parties := append([]string(nil), spec.Parties...)
	sort.Strings(parties)

	b := base{
		id:        "device-" + uuid.New().String(),
		mode:      strings.ToUpper(spec.Mode),
		self:      spec.Self,
		parties:   parties,
		messenger: spec.Messenger,
	}

	switch b.mode {
	case config.ModeFederated, config.ModeSplitLearning:
		log.Info().
			Str("session_id", spec.SessionID).
			Str("device_id", b.id).
			Str("mode", b.mode).
			Strs("parties", parties).
			Msg("Party set created")
		return &PartySet{base: b}, nil

	case config.ModeSecretShared:
		rt := spec.Runtime
		if err := rt.Validate(parties); err != nil {
			return nil, protocol.NewDeviceCreationError(spec.SessionID, err)
		}

		f.mu.RLock()
		builder, ok := f.builders[rt.Protocol]
		f.mu.RUnlock()
		if !ok {
			return nil, protocol.NewDeviceCreationError(spec.SessionID,
				errors.Errorf("no engine registered for protocol %s", rt.Protocol))
		}
		engine, err := builder(rt)
		if err != nil {
			return nil, protocol.NewDeviceCreationError(spec.SessionID, errors.Wrapf(err, "%s engine refused", rt.Protocol))
		}

		log.Info().
			Str("session_id", spec.SessionID).
			Str("device_id", b.id).
			Str("protocol", rt.Protocol).
			Str("field", rt.Field).
			Strs("parties", parties).
			Msg("Secure device created")
		return &SecureDevice{base: b, runtime: rt, engine: engine}, nil

	default:
		return nil, protocol.NewDeviceCreationError(spec.SessionID, errors.Errorf("unknown mode %q", spec.Mode))
	}
}

// checkObserved 要求已观察到全部参与方的就绪信号，且各方摘要与本方一致
// 不携带摘要的信号（介质不支持）跳过比对
func checkObserved(spec Spec, observed *rendezvous.Observed) error {
	if observed == nil {
		return errors.New("rendezvous has not completed")
	}
	if observed.SessionID != "" && observed.SessionID != spec.SessionID {
		return errors.Errorf("readiness observed for session %s, not %s", observed.SessionID, spec.SessionID)
	}

	own := spec.Digest()
	var mismatched []string
	for _, p := range spec.Parties {
		t, ok := observed.Tokens[p]
		if !ok {
			return errors.Errorf("no readiness observed for party %s", p)
		}
		if t.Digest != "" && t.Digest != own {
			mismatched = append(mismatched, p)
		}
	}
	if len(mismatched) > 0 {
		sort.Strings(mismatched)
		return errors.Errorf("runtime configuration differs from parties %v", mismatched)
	}
	return nil
}
