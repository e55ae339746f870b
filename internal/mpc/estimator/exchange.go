package estimator

import (
	"context"
	"math"

	"github.com/kashguard/go-secret-learn/internal/mpc/device"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/pkg/errors"
)

// exchange 跨参与方的数据通路：FL/SL 直接发送明文消息，SS 经安全设备分享后只向指定方重构
// 所有参与方必须以相同顺序、相同 tag 调用
type exchange interface {
	// Sum 各方提供等长向量，to 得到逐元素和，其余各方得到 nil
	Sum(ctx context.Context, tag string, values []float64, to string) ([]float64, error)
	// Gather to 按参与方顺序得到各方的向量，其余各方得到 nil
	Gather(ctx context.Context, tag string, values []float64, to string) ([][]float64, error)
	// Publish from 提供向量，所有参与方都得到该向量
	Publish(ctx context.Context, tag string, values []float64, from string) ([]float64, error)
}

// plainExchange 明文消息通路
type plainExchange struct {
	m       transport.Messenger
	parties []string
}

func newPlainExchange(c *Call) *plainExchange {
	return &plainExchange{m: c.Messenger, parties: c.Parties}
}

func (e *plainExchange) Sum(ctx context.Context, tag string, values []float64, to string) ([]float64, error) {
	parts, err := e.Gather(ctx, "sum/"+tag, values, to)
	if err != nil || parts == nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, part := range parts {
		if len(part) != len(out) {
			return nil, errors.Errorf("party %s contributed %d values to %s, expected %d", e.parties[i], len(part), tag, len(out))
		}
		for j, v := range part {
			out[j] += v
		}
	}
	return out, nil
}

func (e *plainExchange) Gather(ctx context.Context, tag string, values []float64, to string) ([][]float64, error) {
	kind := "gather/" + tag
	if e.m.Self() != to {
		return nil, transport.SendJSON(ctx, e.m, to, kind, values)
	}

	parts := make([][]float64, len(e.parties))
	for i, p := range e.parties {
		if p == to {
			parts[i] = append([]float64(nil), values...)
			continue
		}
		if err := transport.ReceiveJSON(ctx, e.m, p, kind, &parts[i]); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

func (e *plainExchange) Publish(ctx context.Context, tag string, values []float64, from string) ([]float64, error) {
	kind := "publish/" + tag
	if e.m.Self() == from {
		if err := transport.Broadcast(ctx, e.m, e.parties, kind, values); err != nil {
			return nil, err
		}
		return append([]float64(nil), values...), nil
	}

	var out []float64
	if err := transport.ReceiveJSON(ctx, e.m, from, kind, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// deviceExchange 安全设备通路：输入先分享到设备上，只在 Reveal 时向目标方重构
type deviceExchange struct {
	dev     *device.SecureDevice
	parties []string
}

func newDeviceExchange(c *Call) (*deviceExchange, error) {
	dev, ok := c.Device.(*device.SecureDevice)
	if !ok {
		return nil, errors.Errorf("secret sharing needs a secure device, got %T", c.Device)
	}
	return &deviceExchange{dev: dev, parties: c.Parties}, nil
}

func (e *deviceExchange) shareAll(ctx context.Context, tag string, values []float64) ([]*device.Shared, error) {
	shared := make([]*device.Shared, 0, len(e.parties))
	for _, p := range e.parties {
		s, err := e.dev.Share(ctx, tag+"/"+p, p, values)
		if err != nil {
			return nil, err
		}
		shared = append(shared, s)
	}
	return shared, nil
}

// checkSumRange 各方交换本地输入是否都小于 limit 的结论，任一方越界时所有参与方以相同错误失败
// limit 取环上界的 1/n，保证 n 方输入之和不会回绕
func (e *deviceExchange) checkSumRange(ctx context.Context, tag string, values []float64) error {
	ring := e.dev.Ring()
	limit := ring.Limit() / float64(len(e.parties))
	ok := true
	for _, v := range values {
		if math.IsNaN(v) || math.Abs(v) >= limit {
			ok = false
			break
		}
	}

	m := e.dev.Messenger()
	kind := "range/" + tag
	if err := transport.Broadcast(ctx, m, e.parties, kind, ok); err != nil {
		return err
	}
	var over []string
	for _, p := range e.parties {
		peerOK := ok
		if p != e.dev.Self() {
			if err := transport.ReceiveJSON(ctx, m, p, kind, &peerOK); err != nil {
				return err
			}
		}
		if !peerOK {
			over = append(over, p)
		}
	}
	if len(over) > 0 {
		return errors.Wrapf(device.ErrOutOfRange, "%s: inputs of %v reach ±%g, beyond what %d parties can sum on a %d-bit ring with %d fraction bits",
			tag, over, limit, len(e.parties), ring.Bits, ring.FractionBits)
	}
	return nil
}

func (e *deviceExchange) Sum(ctx context.Context, tag string, values []float64, to string) ([]float64, error) {
	if err := e.checkSumRange(ctx, tag, values); err != nil {
		return nil, err
	}
	shared, err := e.shareAll(ctx, tag, values)
	if err != nil {
		return nil, err
	}
	sum, err := e.dev.Add(tag, shared...)
	if err != nil {
		return nil, err
	}
	return e.dev.Reveal(ctx, sum, to)
}

func (e *deviceExchange) Gather(ctx context.Context, tag string, values []float64, to string) ([][]float64, error) {
	shared, err := e.shareAll(ctx, tag, values)
	if err != nil {
		return nil, err
	}

	var parts [][]float64
	if e.dev.Self() == to {
		parts = make([][]float64, len(shared))
	}
	for i, s := range shared {
		out, err := e.dev.Reveal(ctx, s, to)
		if err != nil {
			return nil, err
		}
		if parts != nil {
			parts[i] = out
		}
	}
	return parts, nil
}

func (e *deviceExchange) Publish(ctx context.Context, tag string, values []float64, from string) ([]float64, error) {
	s, err := e.dev.Share(ctx, "publish/"+tag, from, values)
	if err != nil {
		return nil, err
	}

	var mine []float64
	for _, p := range e.parties {
		out, err := e.dev.Reveal(ctx, s, p)
		if err != nil {
			return nil, err
		}
		if p == e.dev.Self() {
			mine = out
		}
	}
	return mine, nil
}
