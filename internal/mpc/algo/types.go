package algo

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Name 估计器名称
type Name string

const (
	// Ridge 带 L2 正则的线性回归
	Ridge Name = "ridge"
	// ZScore 按标准化距离打分的无监督异常检测
	ZScore Name = "zscore"
)

// Options 训练参数
type Options struct {
	Alpha        float64 `json:"alpha"`
	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
}

// DefaultOptions 默认训练参数
func DefaultOptions() Options {
	return Options{Alpha: 1e-3, Epochs: 10, LearningRate: 0.1}
}

// Validate 检查训练参数：Alpha 非负，Epochs 与 LearningRate 为正
func (o Options) Validate() error {
	switch {
	case math.IsNaN(o.Alpha) || math.IsInf(o.Alpha, 0) || o.Alpha < 0:
		return errors.Errorf("alpha must be a finite non-negative number, got %g", o.Alpha)
	case o.Epochs <= 0:
		return errors.Errorf("epochs must be positive, got %d", o.Epochs)
	case math.IsNaN(o.LearningRate) || math.IsInf(o.LearningRate, 0) || o.LearningRate <= 0:
		return errors.Errorf("learning rate must be a finite positive number, got %g", o.LearningRate)
	}
	return nil
}

// Params 训练得到的模型参数（可 JSON 序列化）
type Params struct {
	Algorithm Name      `json:"algorithm"`
	Features  int       `json:"features"`
	Coef      []float64 `json:"coef,omitempty"`
	Intercept float64   `json:"intercept"`
	Mean      []float64 `json:"mean,omitempty"`
	Scale     []float64 `json:"scale,omitempty"`
}

// Algorithm 参考估计器
// Stats 只依赖本地数据且可逐方合并，Solve 由合并后的统计量得到参数
type Algorithm interface {
	Name() Name
	Supervised() bool
	Stats(x *mat.Dense, y *mat.VecDense) (*Stats, error)
	Solve(s *Stats, opts Options) (*Params, error)
}

// Lookup 按名称查找估计器
func Lookup(name Name) (Algorithm, error) {
	switch name {
	case Ridge:
		return ridge{}, nil
	case ZScore:
		return zscore{}, nil
	default:
		return nil, errors.Errorf("unknown algorithm %q", name)
	}
}

// Fit 在单方数据上训练
func Fit(a Algorithm, x *mat.Dense, y *mat.VecDense, opts Options) (*Params, error) {
	s, err := a.Stats(x, y)
	if err != nil {
		return nil, err
	}
	return a.Solve(s, opts)
}
