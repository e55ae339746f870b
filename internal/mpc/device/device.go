package device

import (
	"context"

	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// ErrClosed 设备已释放
var ErrClosed = errors.New("device handle has been released")

// ErrOutOfRange 数值超出定点环可表示的范围
var ErrOutOfRange = errors.New("value outside the fixed-point ring range")

// Handle 会话独占的计算设备
type Handle interface {
	ID() string
	Mode() string
	Parties() []string
	Messenger() transport.Messenger
	Close() error
	Closed() bool
}

type base struct {
	id        string
	mode      string
	self      string
	parties   []string
	messenger transport.Messenger
	closed    atomic.Bool
}

func (b *base) ID() string                     { return b.id }
func (b *base) Mode() string                   { return b.mode }
func (b *base) Parties() []string              { return append([]string(nil), b.parties...) }
func (b *base) Messenger() transport.Messenger { return b.messenger }
func (b *base) Closed() bool                   { return b.closed.Load() }

// Close 释放设备，重复调用无副作用
func (b *base) Close() error {
	b.closed.Store(true)
	return nil
}

// PartySet FL/SL 模式下各参与方的计算句柄集合
type PartySet struct {
	base
}

// Self 本方名称
func (p *PartySet) Self() string {
	return p.self
}

// Shared 本方持有的秘密份额
type Shared struct {
	Tag    string
	Owner  string
	Values []uint64
}

// Len 份额中元素个数
func (s *Shared) Len() int {
	return len(s.Values)
}

// shareMessage 持有方发给其余各方的份额；Error 非空表示持有方拒绝了本次分享
type shareMessage struct {
	Values []uint64 `json:"values,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// SecureDevice SS 模式下的共享虚拟计算设备
// 各方持有的份额只在 Reveal 时汇聚到指定参与方
type SecureDevice struct {
	base
	runtime RuntimeConfig
	engine  Engine
}

// Runtime 设备运行时参数
func (d *SecureDevice) Runtime() RuntimeConfig {
	return d.runtime
}

// Protocol 引擎协议名
func (d *SecureDevice) Protocol() string {
	return d.engine.Protocol()
}

// Ring 引擎使用的定点环
func (d *SecureDevice) Ring() Ring {
	return d.engine.Ring()
}

// Self 本方名称
func (d *SecureDevice) Self() string {
	return d.self
}

func (d *SecureDevice) index(name string) int {
	for i, p := range d.parties {
		if p == name {
			return i
		}
	}
	return -1
}

// Share 由 owner 将 values 分享到设备上；每个参与方都必须以相同的 tag 与 owner 调用
// 非持有方传入的 values 被忽略；持有方的值超出环范围时各方都得到 ErrOutOfRange
func (d *SecureDevice) Share(ctx context.Context, tag, owner string, values []float64) (*Shared, error) {
	if d.Closed() {
		return nil, ErrClosed
	}
	ownerIdx := d.index(owner)
	if ownerIdx < 0 {
		return nil, errors.Errorf("owner %s is not part of the device", owner)
	}

	kind := "share/" + tag
	if owner != d.self {
		var msg shareMessage
		if err := transport.ReceiveJSON(ctx, d.messenger, owner, kind, &msg); err != nil {
			return nil, err
		}
		if msg.Error != "" {
			return nil, errors.Wrapf(ErrOutOfRange, "%s refused to share %s: %s", owner, tag, msg.Error)
		}
		return &Shared{Tag: tag, Owner: owner, Values: msg.Values}, nil
	}

	ring := d.engine.Ring()
	if err := ring.Check(values); err != nil {
		refusal := shareMessage{Error: err.Error()}
		if sendErr := transport.Broadcast(ctx, d.messenger, d.parties, kind, refusal); sendErr != nil {
			log.Warn().Err(sendErr).Str("tag", tag).Msg("Failed to notify peers of a refused share")
		}
		return nil, errors.Wrapf(err, "cannot share %s", tag)
	}

	encoded := make([]uint64, len(values))
	for i, v := range values {
		encoded[i] = ring.Encode(v)
	}

	shares, err := d.engine.Split(encoded, len(d.parties), ownerIdx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to split %s", tag)
	}
	for i, p := range d.parties {
		if p == d.self {
			continue
		}
		if err := transport.SendJSON(ctx, d.messenger, p, kind, shareMessage{Values: shares[i]}); err != nil {
			return nil, err
		}
	}
	return &Shared{Tag: tag, Owner: owner, Values: shares[ownerIdx]}, nil
}

// Add 逐元素相加（本地运算，不产生通信）
func (d *SecureDevice) Add(tag string, xs ...*Shared) (*Shared, error) {
	if d.Closed() {
		return nil, ErrClosed
	}
	if len(xs) == 0 {
		return nil, errors.New("nothing to add")
	}

	ring := d.engine.Ring()
	out := make([]uint64, xs[0].Len())
	for _, x := range xs {
		if x.Len() != len(out) {
			return nil, errors.Errorf("cannot add shares of length %d and %d", len(out), x.Len())
		}
		for i, v := range x.Values {
			out[i] = ring.Add(out[i], v)
		}
	}
	return &Shared{Tag: tag, Values: out}, nil
}

// Reveal 将份额汇聚到 to 并重构；只有 to 得到明文，其余各方返回 nil
func (d *SecureDevice) Reveal(ctx context.Context, s *Shared, to string) ([]float64, error) {
	if d.Closed() {
		return nil, ErrClosed
	}
	if d.index(to) < 0 {
		return nil, errors.Errorf("reveal target %s is not part of the device", to)
	}

	kind := "reveal/" + s.Tag
	if d.self != to {
		if err := transport.SendJSON(ctx, d.messenger, to, kind, s.Values); err != nil {
			return nil, err
		}
		return nil, nil
	}

	ring := d.engine.Ring()
	sum := append([]uint64(nil), s.Values...)
	for _, p := range d.parties {
		if p == d.self {
			continue
		}
		var theirs []uint64
		if err := transport.ReceiveJSON(ctx, d.messenger, p, kind, &theirs); err != nil {
			return nil, err
		}
		if len(theirs) != len(sum) {
			return nil, errors.Errorf("party %s revealed %d values, expected %d", p, len(theirs), len(sum))
		}
		for i, v := range theirs {
			sum[i] = ring.Add(sum[i], v)
		}
	}

	out := make([]float64, len(sum))
	for i, v := range sum {
		out[i] = ring.Decode(v)
	}
	return out, nil
}
