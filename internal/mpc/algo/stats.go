package algo

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Stats 可加的充分统计量
// Gram 为增广矩阵 [X 1] 的 (p+1)x(p+1) 格拉姆矩阵（行优先），Moment 为 [X 1]ᵀy
type Stats struct {
	N      float64   `json:"n"`
	Sum    []float64 `json:"sum"`
	SumSq  []float64 `json:"sum_sq"`
	Gram   []float64 `json:"gram,omitempty"`
	Moment []float64 `json:"moment,omitempty"`
}

// Features 特征数
func (s *Stats) Features() int {
	return len(s.Sum)
}

// Merge 将 o 累加到 s
func (s *Stats) Merge(o *Stats) error {
	if len(s.Sum) != len(o.Sum) || len(s.Gram) != len(o.Gram) || len(s.Moment) != len(o.Moment) {
		return errors.Errorf("cannot merge statistics over %d and %d features", len(s.Sum), len(o.Sum))
	}
	s.N += o.N
	addTo(s.Sum, o.Sum)
	addTo(s.SumSq, o.SumSq)
	addTo(s.Gram, o.Gram)
	addTo(s.Moment, o.Moment)
	return nil
}

// Flatten 按固定顺序展开为向量，便于在安全设备上做加法
func (s *Stats) Flatten() []float64 {
	out := make([]float64, 0, 1+len(s.Sum)+len(s.SumSq)+len(s.Gram)+len(s.Moment))
	out = append(out, s.N)
	out = append(out, s.Sum...)
	out = append(out, s.SumSq...)
	out = append(out, s.Gram...)
	out = append(out, s.Moment...)
	return out
}

// Unflatten Flatten 的逆操作；supervised 决定是否包含 Gram/Moment
func Unflatten(v []float64, features int, supervised bool) (*Stats, error) {
	p := features
	want := 1 + 2*p
	if supervised {
		want += (p+1)*(p+1) + (p + 1)
	}
	if len(v) != want {
		return nil, errors.Errorf("expected %d statistics values, got %d", want, len(v))
	}

	s := &Stats{N: v[0]}
	off := 1
	take := func(n int) []float64 {
		out := append([]float64(nil), v[off:off+n]...)
		off += n
		return out
	}
	s.Sum = take(p)
	s.SumSq = take(p)
	if supervised {
		s.Gram = take((p + 1) * (p + 1))
		s.Moment = take(p + 1)
	}
	return s, nil
}

func addTo(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// columnStats 列和与列平方和
func columnStats(x *mat.Dense) *Stats {
	rows, cols := x.Dims()
	s := &Stats{
		N:     float64(rows),
		Sum:   make([]float64, cols),
		SumSq: make([]float64, cols),
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := x.At(i, j)
			s.Sum[j] += v
			s.SumSq[j] += v * v
		}
	}
	return s
}

// augment 在 X 右侧拼接全 1 列
func augment(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols+1, nil)
	out.Slice(0, rows, 0, cols).(*mat.Dense).Copy(x)
	for i := 0; i < rows; i++ {
		out.Set(i, cols, 1)
	}
	return out
}
