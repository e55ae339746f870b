package device

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// 安全计算协议
const (
	ProtocolREF2K   = "REF2K"
	ProtocolSEMI2K  = "SEMI2K"
	ProtocolABY3    = "ABY3"
	ProtocolCHEETAH = "CHEETAH"
)

// 环大小
const (
	FieldFM32  = "FM32"
	FieldFM64  = "FM64"
	FieldFM128 = "FM128"
)

// RuntimeConfig SS 设备的运行时参数，各方必须一致
type RuntimeConfig struct {
	Protocol        string `json:"protocol"`
	Field           string `json:"field"`
	FxpFractionBits int    `json:"fxp_fraction_bits"`
	RevealTo        string `json:"reveal_to"`
}

// RuntimeFromConfig 从进程配置构造运行时参数
func RuntimeFromConfig(rt config.Runtime) RuntimeConfig {
	return RuntimeConfig{
		Protocol:        strings.ToUpper(rt.Protocol),
		Field:           strings.ToUpper(rt.Field),
		FxpFractionBits: rt.FxpFractionBits,
		RevealTo:        rt.RevealTo,
	}
}

func fieldBits(field string) (int, bool) {
	switch field {
	case FieldFM32:
		return 32, true
	case FieldFM64:
		return 64, true
	case FieldFM128:
		return 128, true
	default:
		return 0, false
	}
}

// Validate 校验运行时参数与参与方数量是否匹配
func (rt RuntimeConfig) Validate(parties []string) error {
	n := len(parties)
	switch rt.Protocol {
	case ProtocolREF2K, ProtocolSEMI2K:
		if n < 2 {
			return errors.Errorf("protocol %s needs at least 2 parties, got %d", rt.Protocol, n)
		}
	case ProtocolABY3:
		if n != 3 {
			return errors.Errorf("protocol ABY3 needs exactly 3 parties, got %d", n)
		}
	case ProtocolCHEETAH:
		if n != 2 {
			return errors.Errorf("protocol CHEETAH needs exactly 2 parties, got %d", n)
		}
	default:
		return errors.Errorf("unknown protocol %q", rt.Protocol)
	}

	bits, ok := fieldBits(rt.Field)
	if !ok {
		return errors.Errorf("unknown field %q", rt.Field)
	}
	if rt.FxpFractionBits <= 0 || rt.FxpFractionBits >= bits-2 {
		return errors.Errorf("fxp_fraction_bits %d out of range for %s", rt.FxpFractionBits, rt.Field)
	}

	if rt.RevealTo != "" {
		found := false
		for _, p := range parties {
			if p == rt.RevealTo {
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("reveal_to party %s is not part of the session", rt.RevealTo)
		}
	}
	return nil
}

// Digest 模式、参与方与运行时参数的摘要，随就绪信号发布以便各方比对
func Digest(mode string, parties []string, rt RuntimeConfig) string {
	sorted := append([]string(nil), parties...)
	sort.Strings(sorted)

	h := sha3.New256()
	fmt.Fprintf(h, "mode=%s;parties=%s", strings.ToUpper(mode), strings.Join(sorted, ","))
	if strings.ToUpper(mode) == config.ModeSecretShared {
		fmt.Fprintf(h, ";protocol=%s;field=%s;fxp=%d;reveal_to=%s",
			rt.Protocol, rt.Field, rt.FxpFractionBits, rt.RevealTo)
	}
	return hex.EncodeToString(h.Sum(nil))
}
