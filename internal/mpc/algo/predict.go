package algo

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Predict 在包含全部特征的数据上预测
func (p *Params) Predict(x *mat.Dense) (*mat.VecDense, error) {
	_, cols := x.Dims()
	if cols != p.Features {
		return nil, errors.Errorf("model expects %d features, got %d", p.Features, cols)
	}
	partial, err := p.Partial(x, 0)
	if err != nil {
		return nil, err
	}
	return p.Finish(partial), nil
}

// Partial 特征列 [offset, offset+cols) 对预测值的贡献，各段贡献相加后交给 Finish
func (p *Params) Partial(x *mat.Dense, offset int) (*mat.VecDense, error) {
	rows, cols := x.Dims()
	if offset < 0 || offset+cols > p.Features {
		return nil, errors.Errorf("columns [%d, %d) outside model with %d features", offset, offset+cols, p.Features)
	}

	out := mat.NewVecDense(rows, nil)
	switch p.Algorithm {
	case Ridge:
		w := mat.NewVecDense(cols, append([]float64(nil), p.Coef[offset:offset+cols]...))
		out.MulVec(x, w)
	case ZScore:
		for i := 0; i < rows; i++ {
			sum := 0.0
			for j := 0; j < cols; j++ {
				z := (x.At(i, j) - p.Mean[offset+j]) / p.Scale[offset+j]
				sum += z * z
			}
			out.SetVec(i, sum)
		}
	default:
		return nil, errors.Errorf("unknown algorithm %q", p.Algorithm)
	}
	return out, nil
}

// Finish 由各段贡献之和得到最终预测
func (p *Params) Finish(partial *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(partial.Len(), nil)
	out.CopyVec(partial)
	switch p.Algorithm {
	case Ridge:
		for i := 0; i < out.Len(); i++ {
			out.SetVec(i, out.AtVec(i)+p.Intercept)
		}
	case ZScore:
		if p.Features > 0 {
			out.ScaleVec(1/float64(p.Features), out)
		}
	}
	return out
}

// Segment 取出 [offset, offset+cols) 列对应的参数，截距只保留在完整模型中
func (p *Params) Segment(offset, cols int) *Params {
	seg := &Params{Algorithm: p.Algorithm, Features: cols}
	if p.Coef != nil {
		seg.Coef = append([]float64(nil), p.Coef[offset:offset+cols]...)
	}
	if p.Mean != nil {
		seg.Mean = append([]float64(nil), p.Mean[offset:offset+cols]...)
		seg.Scale = append([]float64(nil), p.Scale[offset:offset+cols]...)
	}
	return seg
}

// Vector 将预测结果复制为切片
func Vector(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
