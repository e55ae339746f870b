package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/device"
	"github.com/kashguard/go-secret-learn/internal/mpc/party"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultTeardownTimeout teardown 的时间上限（不受调用方 ctx 取消影响）
const DefaultTeardownTimeout = 10 * time.Second

// Config 会话管理器参数
type Config struct {
	// SessionID 为空时由配置摘要派生，保证各方得到相同的值
	SessionID    string
	Mode         string
	Book         *party.Book
	Runtime      device.RuntimeConfig
	Rendezvous   *rendezvous.Rendezvous
	Factory      *device.Factory
	Messenger    transport.Messenger
	ExpiresAfter time.Duration
	// Cleanup teardown 时额外执行的清理，例如清空消息队列
	Cleanup []func(ctx context.Context) error
}

// Manager 会话生命周期：启动（屏障 + 设备构造）、状态迁移、失败处理与 teardown
type Manager struct {
	cfg Config

	mu      sync.Mutex
	session *Session

	teardownMu sync.Mutex
	now        func() time.Time
}

// DeriveID 由配置摘要派生会话 ID
func DeriveID(digest string) string {
	return "session-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(digest)).String()
}

// NewManager 创建会话管理器，会话处于 Idle
func NewManager(cfg Config) (*Manager, error) {
	ensureMetrics()

	if cfg.Book == nil {
		return nil, protocol.NewConfigurationError("", "no party address book")
	}
	self := cfg.Book.Self()
	if cfg.Rendezvous == nil {
		return nil, protocol.NewConfigurationError(self.Name, "no rendezvous configured")
	}
	if cfg.Messenger == nil {
		return nil, protocol.NewConfigurationError(self.Name, "no messenger configured")
	}
	if cfg.Messenger.Self() != self.Name {
		return nil, protocol.NewConfigurationError(self.Name, "messenger belongs to %s", cfg.Messenger.Self())
	}

	cfg.Mode = strings.ToUpper(cfg.Mode)
	switch cfg.Mode {
	case config.ModeFederated, config.ModeSecretShared, config.ModeSplitLearning:
	default:
		return nil, protocol.NewConfigurationError(self.Name, "unknown mode %q", cfg.Mode)
	}

	if cfg.Factory == nil {
		cfg.Factory = device.NewFactory()
	}
	if cfg.ExpiresAfter <= 0 {
		cfg.ExpiresAfter = 10 * time.Minute
	}
	if cfg.SessionID == "" {
		cfg.SessionID = DeriveID(device.Digest(cfg.Mode, cfg.Book.Names(), cfg.Runtime))
	}

	m := &Manager{cfg: cfg, now: time.Now}
	m.session = &Session{
		ID:           cfg.SessionID,
		Mode:         cfg.Mode,
		Parties:      cfg.Book.Parties(),
		Self:         self,
		State:        StateIdle,
		CreatedAt:    m.now(),
		ExpiresAfter: cfg.ExpiresAfter,
	}
	return m, nil
}

// ID 会话 ID
func (m *Manager) ID() string {
	return m.cfg.SessionID
}

// Self 本方
func (m *Manager) Self() party.Party {
	return m.cfg.Book.Self()
}

// Book 参与方地址簿
func (m *Manager) Book() *party.Book {
	return m.cfg.Book
}

// Messenger 参与方消息通道
func (m *Manager) Messenger() transport.Messenger {
	return m.cfg.Messenger
}

// Runtime SS 运行时参数
func (m *Manager) Runtime() device.RuntimeConfig {
	return m.cfg.Runtime
}

// Mode 协作模式
func (m *Manager) Mode() string {
	return m.cfg.Mode
}

// State 当前状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

// Snapshot 会话快照
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *m.session
	s.Parties = append([]party.Party(nil), m.session.Parties...)
	return s
}

// Device 当前设备句柄，未构造或已释放时为 nil
func (m *Manager) Device() device.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Device
}

// WithDeadline 以会话过期时间为截止时间派生 ctx
func (m *Manager) WithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	m.mu.Lock()
	deadline := m.session.ExpiresAt()
	m.mu.Unlock()
	return context.WithDeadline(ctx, deadline)
}

// Transition 执行状态迁移，非法迁移返回 InvalidStateTransitionError
func (m *Manager) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(next)
}

func (m *Manager) transitionLocked(next State) error {
	current := m.session.State
	if !canTransition(current, next) {
		return protocol.NewInvalidStateTransitionError(string(current), "transition to "+string(next))
	}
	m.session.State = next
	transitionCounter.WithLabelValues(string(current), string(next)).Inc()

	log.Debug().
		Str("session_id", m.session.ID).
		Str("party", m.session.Self.Name).
		Str("from", string(current)).
		Str("to", string(next)).
		Msg("Session state changed")
	return nil
}

// Start 等待全部参与方就绪后构造设备：Idle → AwaitingRendezvous → DeviceReady
// gates 在屏障之后、设备构造之前依次执行（例如分区布局校验），失败时不会构造设备
// 任一步失败时会话进入 Failed 并自动 teardown
func (m *Manager) Start(ctx context.Context, gates ...func(ctx context.Context) error) (device.Handle, error) {
	if err := m.Transition(StateAwaitingRendezvous); err != nil {
		return nil, err
	}

	self := m.Self()
	names := m.cfg.Book.Names()
	spec := device.Spec{
		SessionID: m.cfg.SessionID,
		Mode:      m.cfg.Mode,
		Self:      self.Name,
		Parties:   names,
		Runtime:   m.cfg.Runtime,
		Messenger: m.cfg.Messenger,
	}

	log.Info().
		Str("session_id", m.cfg.SessionID).
		Str("party", self.Name).
		Str("mode", m.cfg.Mode).
		Strs("parties", names).
		Msg("Waiting for all parties to become ready")

	member := rendezvous.Member{Name: self.Name, Coordinator: self.IsCoordinator()}
	observed, err := m.cfg.Rendezvous.Barrier(ctx, m.cfg.SessionID, member, spec.Digest(), names)
	if err != nil {
		return nil, m.Fail(ctx, err)
	}

	for _, gate := range gates {
		if err := gate(ctx); err != nil {
			return nil, m.Fail(ctx, err)
		}
	}

	handle, err := m.cfg.Factory.Create(ctx, spec, observed)
	if err != nil {
		return nil, m.Fail(ctx, err)
	}

	m.mu.Lock()
	m.session.Device = handle
	err = m.transitionLocked(StateDeviceReady)
	m.mu.Unlock()
	if err != nil {
		return nil, m.Fail(ctx, err)
	}

	log.Info().
		Str("session_id", m.cfg.SessionID).
		Str("party", self.Name).
		Str("device_id", handle.ID()).
		Dur("waited", observed.Waited).
		Msg("All parties ready, device constructed")
	return handle, nil
}

// Fail 记录失败原因、进入 Failed 并执行 teardown，返回原始错误
func (m *Manager) Fail(ctx context.Context, cause error) error {
	m.mu.Lock()
	if m.session.State != StateFailed && m.session.State != StateTerminated {
		m.session.Cause = cause
		// canTransition 允许任何非终止状态进入 Failed（Failed 自身除外）
		_ = m.transitionLocked(StateFailed)
	}
	id, self := m.session.ID, m.session.Self.Name
	m.mu.Unlock()

	log.Error().
		Err(cause).
		Str("session_id", id).
		Str("party", self).
		Str("error_type", protocol.TypeOf(cause).String()).
		Msg("Session failed")

	if err := m.Teardown(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("Teardown after failure was incomplete")
	}
	return cause
}

// Teardown 释放设备、清理就绪信号与消息队列，进入 Terminated
// 幂等，任何状态下都可调用；调用方 ctx 已取消时仍在 DefaultTeardownTimeout 内完成清理
func (m *Manager) Teardown(ctx context.Context) error {
	m.teardownMu.Lock()
	defer m.teardownMu.Unlock()

	if m.State() == StateTerminated {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTeardownTimeout)
	defer cancel()

	m.mu.Lock()
	handle := m.session.Device
	m.session.Device = nil
	m.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if handle != nil {
		keep(errors.Wrap(handle.Close(), "failed to release device"))
	}

	self := m.Self()
	member := rendezvous.Member{Name: self.Name, Coordinator: self.IsCoordinator()}
	keep(m.cfg.Rendezvous.Clear(ctx, m.cfg.SessionID, member, m.cfg.Book.Names()))

	for _, cleanup := range m.cfg.Cleanup {
		keep(cleanup(ctx))
	}

	m.mu.Lock()
	_ = m.transitionLocked(StateTerminated)
	m.mu.Unlock()

	log.Info().
		Str("session_id", m.cfg.SessionID).
		Str("party", self.Name).
		Bool("clean", firstErr == nil).
		Msg("Session torn down")
	return firstErr
}
