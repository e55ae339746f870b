package device

import (
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Engine 秘密分享引擎：把定点编码后的环元素拆成各方份额
// 份额在环上逐元素相加即得到和的份额，重构为全部份额之和
type Engine interface {
	Protocol() string
	Ring() Ring
	// Split 将 values 拆成 n 份，owner 为数据持有方的位置
	Split(values []uint64, n, owner int) ([][]uint64, error)
}

// EngineBuilder 按运行时参数构造引擎；参数不被支持时返回错误
type EngineBuilder func(rt RuntimeConfig) (Engine, error)

// Ring Z_2^k 上的定点数编码
type Ring struct {
	Bits         int
	FractionBits int
}

func (r Ring) mask() uint64 {
	if r.Bits >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << uint(r.Bits)) - 1
}

// Limit 可无回绕编码的绝对值上界 2^(Bits-FractionBits-1)
func (r Ring) Limit() float64 {
	return math.Ldexp(1, r.Bits-r.FractionBits-1)
}

// Check 要求 values 全部有限且编码后不越过环的符号位，否则返回 ErrOutOfRange
func (r Ring) Check(values []float64) error {
	top := math.Ldexp(1, r.Bits-1)
	scale := math.Ldexp(1, r.FractionBits)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(math.Round(v*scale)) >= top {
			return errors.Wrapf(ErrOutOfRange, "value %g at index %d exceeds ±%g on a %d-bit ring with %d fraction bits",
				v, i, r.Limit(), r.Bits, r.FractionBits)
		}
	}
	return nil
}

// Encode 定点编码；调用方须先以 Check 排除越界值
func (r Ring) Encode(v float64) uint64 {
	scaled := math.Round(v * math.Ldexp(1, r.FractionBits))
	return uint64(int64(scaled)) & r.mask()
}

// Decode 定点解码（按环大小做符号扩展）
func (r Ring) Decode(u uint64) float64 {
	var signed int64
	if r.Bits >= 64 {
		signed = int64(u)
	} else {
		shift := uint(64 - r.Bits)
		signed = int64(u<<shift) >> shift
	}
	return math.Ldexp(float64(signed), -r.FractionBits)
}

// Add 环上加法
func (r Ring) Add(a, b uint64) uint64 {
	return (a + b) & r.mask()
}

// Sub 环上减法
func (r Ring) Sub(a, b uint64) uint64 {
	return (a - b) & r.mask()
}

func ringFor(rt RuntimeConfig) (Ring, error) {
	bits, ok := fieldBits(rt.Field)
	if !ok {
		return Ring{}, errors.Errorf("unknown field %q", rt.Field)
	}
	if bits > 64 {
		return Ring{}, errors.Errorf("built-in engines support FM32 and FM64, not %s", rt.Field)
	}
	return Ring{Bits: bits, FractionBits: rt.FxpFractionBits}, nil
}

// ref2kEngine 明文参考实现：持有方的份额即原值，其余各方份额为零
// 不提供任何保密性，仅用于联调与测试
type ref2kEngine struct {
	ring Ring
}

func newREF2K(rt RuntimeConfig) (Engine, error) {
	ring, err := ringFor(rt)
	if err != nil {
		return nil, err
	}
	return &ref2kEngine{ring: ring}, nil
}

func (e *ref2kEngine) Protocol() string { return ProtocolREF2K }

func (e *ref2kEngine) Ring() Ring { return e.ring }

func (e *ref2kEngine) Split(values []uint64, n, owner int) ([][]uint64, error) {
	if owner < 0 || owner >= n {
		return nil, errors.Errorf("owner index %d out of range", owner)
	}
	shares := make([][]uint64, n)
	for i := range shares {
		shares[i] = make([]uint64, len(values))
	}
	copy(shares[owner], values)
	return shares, nil
}

// semi2kEngine Z_2^k 上的 n-of-n 加法分享
type semi2kEngine struct {
	ring Ring
}

func newSEMI2K(rt RuntimeConfig) (Engine, error) {
	ring, err := ringFor(rt)
	if err != nil {
		return nil, err
	}
	return &semi2kEngine{ring: ring}, nil
}

func (e *semi2kEngine) Protocol() string { return ProtocolSEMI2K }

func (e *semi2kEngine) Ring() Ring { return e.ring }

func (e *semi2kEngine) Split(values []uint64, n, owner int) ([][]uint64, error) {
	if owner < 0 || owner >= n {
		return nil, errors.Errorf("owner index %d out of range", owner)
	}
	shares := make([][]uint64, n)
	for i := range shares {
		shares[i] = make([]uint64, len(values))
	}

	buf := make([]byte, 8)
	for j, v := range values {
		rest := v
		for i := 0; i < n; i++ {
			if i == owner {
				continue
			}
			if _, err := rand.Read(buf); err != nil {
				return nil, errors.Wrap(err, "failed to generate random share")
			}
			r := binary.LittleEndian.Uint64(buf) & e.ring.mask()
			shares[i][j] = r
			rest = e.ring.Sub(rest, r)
		}
		shares[owner][j] = rest
	}
	return shares, nil
}
