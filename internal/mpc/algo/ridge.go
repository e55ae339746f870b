package algo

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type ridge struct{}

func (ridge) Name() Name { return Ridge }

func (ridge) Supervised() bool { return true }

func (ridge) Stats(x *mat.Dense, y *mat.VecDense) (*Stats, error) {
	if y == nil {
		return nil, errors.New("ridge regression requires labels")
	}
	rows, _ := x.Dims()
	if y.Len() != rows {
		return nil, errors.Errorf("got %d labels for %d rows", y.Len(), rows)
	}

	s := columnStats(x)
	a := augment(x)
	_, k := a.Dims()

	var gram mat.Dense
	gram.Mul(a.T(), a)
	var moment mat.VecDense
	moment.MulVec(a.T(), y)

	s.Gram = make([]float64, 0, k*k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			s.Gram = append(s.Gram, gram.At(i, j))
		}
	}
	s.Moment = make([]float64, k)
	for i := 0; i < k; i++ {
		s.Moment[i] = moment.AtVec(i)
	}
	return s, nil
}

// Solve 解 (G + αI')w = m，I' 不惩罚截距项
func (ridge) Solve(s *Stats, opts Options) (*Params, error) {
	p := s.Features()
	k := p + 1
	if len(s.Gram) != k*k || len(s.Moment) != k {
		return nil, errors.New("ridge statistics are missing the gram matrix")
	}
	if s.N <= 0 {
		return nil, errors.New("no samples")
	}

	a := mat.NewDense(k, k, append([]float64(nil), s.Gram...))
	for i := 0; i < p; i++ {
		a.Set(i, i, a.At(i, i)+opts.Alpha*s.N)
	}
	b := mat.NewVecDense(k, append([]float64(nil), s.Moment...))

	var w mat.VecDense
	if err := w.SolveVec(a, b); err != nil {
		return nil, errors.Wrap(err, "failed to solve normal equations")
	}

	params := &Params{Algorithm: Ridge, Features: p, Coef: make([]float64, p)}
	for i := 0; i < p; i++ {
		params.Coef[i] = w.AtVec(i)
	}
	params.Intercept = w.AtVec(p)
	return params, nil
}
