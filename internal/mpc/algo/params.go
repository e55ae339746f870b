package algo

import (
	"github.com/pkg/errors"
)

// Vector 按固定顺序展开参数：截距、系数（ridge）或均值与尺度（zscore）
func (p *Params) Vector() []float64 {
	out := make([]float64, 0, 1+len(p.Coef)+len(p.Mean)+len(p.Scale))
	out = append(out, p.Intercept)
	out = append(out, p.Coef...)
	out = append(out, p.Mean...)
	out = append(out, p.Scale...)
	return out
}

// ParamsFromVector Vector 的逆操作
func ParamsFromVector(name Name, features int, v []float64) (*Params, error) {
	p := &Params{Algorithm: name, Features: features}
	switch name {
	case Ridge:
		if len(v) != 1+features {
			return nil, errors.Errorf("expected %d ridge parameters, got %d", 1+features, len(v))
		}
		p.Intercept = v[0]
		p.Coef = append([]float64(nil), v[1:]...)
	case ZScore:
		if len(v) != 1+2*features {
			return nil, errors.Errorf("expected %d zscore parameters, got %d", 1+2*features, len(v))
		}
		p.Intercept = v[0]
		p.Mean = append([]float64(nil), v[1:1+features]...)
		p.Scale = append([]float64(nil), v[1+features:]...)
	default:
		return nil, errors.Errorf("unknown algorithm %q", name)
	}
	return p, nil
}

// Join 按列顺序拼接各段参数，截距取 intercept
func Join(segments []*Params, intercept float64) (*Params, error) {
	if len(segments) == 0 {
		return nil, errors.New("no parameter segments")
	}
	name := segments[0].Algorithm
	out := &Params{Algorithm: name, Intercept: intercept}
	for _, s := range segments {
		if s.Algorithm != name {
			return nil, errors.Errorf("cannot join %s and %s segments", name, s.Algorithm)
		}
		out.Features += s.Features
		out.Coef = append(out.Coef, s.Coef...)
		out.Mean = append(out.Mean, s.Mean...)
		out.Scale = append(out.Scale, s.Scale...)
	}
	return out, nil
}
