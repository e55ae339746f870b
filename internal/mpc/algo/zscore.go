package algo

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type zscore struct{}

func (zscore) Name() Name { return ZScore }

func (zscore) Supervised() bool { return false }

func (zscore) Stats(x *mat.Dense, _ *mat.VecDense) (*Stats, error) {
	return columnStats(x), nil
}

func (zscore) Solve(s *Stats, _ Options) (*Params, error) {
	if s.N <= 0 {
		return nil, errors.New("no samples")
	}
	p := s.Features()
	params := &Params{Algorithm: ZScore, Features: p, Mean: make([]float64, p), Scale: make([]float64, p)}
	for j := 0; j < p; j++ {
		mean := s.Sum[j] / s.N
		variance := s.SumSq[j]/s.N - mean*mean
		scale := 1.0
		if variance > 1e-12 {
			scale = math.Sqrt(variance)
		}
		params.Mean[j] = mean
		params.Scale[j] = scale
	}
	return params, nil
}
