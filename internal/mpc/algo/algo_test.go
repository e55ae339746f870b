package algo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// linearData y = 2*x0 - x1 + 3，无噪声
func linearData(rows int) (*mat.Dense, *mat.VecDense) {
	x := mat.NewDense(rows, 2, nil)
	y := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		a := float64(i%7) - 3
		b := float64(i%5) * 0.5
		x.Set(i, 0, a)
		x.Set(i, 1, b)
		y.SetVec(i, 2*a-b+3)
	}
	return x, y
}

func TestRidgeRecoversLinearModel(t *testing.T) {
	x, y := linearData(50)
	a, err := Lookup(Ridge)
	require.NoError(t, err)
	assert.True(t, a.Supervised())

	params, err := Fit(a, x, y, Options{Alpha: 0})
	require.NoError(t, err)

	assert.InDelta(t, 2.0, params.Coef[0], 1e-8)
	assert.InDelta(t, -1.0, params.Coef[1], 1e-8)
	assert.InDelta(t, 3.0, params.Intercept, 1e-8)

	pred, err := params.Predict(x)
	require.NoError(t, err)
	for i := 0; i < y.Len(); i++ {
		assert.InDelta(t, y.AtVec(i), pred.AtVec(i), 1e-8)
	}
}

func TestRidgeRequiresLabels(t *testing.T) {
	x, _ := linearData(10)
	_, err := Fit(ridge{}, x, nil, DefaultOptions())
	assert.Error(t, err)
}

func TestStatsMergeMatchesFullFit(t *testing.T) {
	x, y := linearData(60)
	a := ridge{}

	full, err := a.Stats(x, y)
	require.NoError(t, err)

	top, err := a.Stats(mat.DenseCopyOf(x.Slice(0, 25, 0, 2)), mat.NewVecDense(25, Vector(y)[:25]))
	require.NoError(t, err)
	bottom, err := a.Stats(mat.DenseCopyOf(x.Slice(25, 60, 0, 2)), mat.NewVecDense(35, Vector(y)[25:]))
	require.NoError(t, err)
	require.NoError(t, top.Merge(bottom))

	assert.InDelta(t, full.N, top.N, 1e-12)
	assert.InDeltaSlice(t, full.Gram, top.Gram, 1e-9)
	assert.InDeltaSlice(t, full.Moment, top.Moment, 1e-9)

	other := &Stats{Sum: make([]float64, 3), SumSq: make([]float64, 3)}
	assert.Error(t, top.Merge(other))
}

func TestFlattenRoundTrip(t *testing.T) {
	x, y := linearData(10)
	s, err := ridge{}.Stats(x, y)
	require.NoError(t, err)

	back, err := Unflatten(s.Flatten(), 2, true)
	require.NoError(t, err)
	assert.Equal(t, s, back)

	_, err = Unflatten(s.Flatten(), 2, false)
	assert.Error(t, err)
}

func TestZScore(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 10,
		-1, 10,
		1, 10,
		-1, 10,
	})
	a, err := Lookup(ZScore)
	require.NoError(t, err)
	assert.False(t, a.Supervised())

	params, err := Fit(a, x, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10}, params.Mean)
	assert.Equal(t, 1.0, params.Scale[0])
	// 零方差列的尺度退化为 1
	assert.Equal(t, 1.0, params.Scale[1])

	outlier := mat.NewDense(1, 2, []float64{3, 10})
	score, err := params.Predict(outlier)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, score.AtVec(0), 1e-12)
}

func TestPartialSegmentsSumToPrediction(t *testing.T) {
	x, y := linearData(30)
	params, err := Fit(ridge{}, x, y, Options{Alpha: 0.1})
	require.NoError(t, err)

	full, err := params.Predict(x)
	require.NoError(t, err)

	left, err := params.Segment(0, 1).Partial(mat.DenseCopyOf(x.Slice(0, 30, 0, 1)), 0)
	require.NoError(t, err)
	right, err := params.Partial(mat.DenseCopyOf(x.Slice(0, 30, 1, 2)), 1)
	require.NoError(t, err)

	var sum mat.VecDense
	sum.AddVec(left, right)
	combined := params.Finish(&sum)
	for i := 0; i < 30; i++ {
		assert.InDelta(t, full.AtVec(i), combined.AtVec(i), 1e-9)
	}

	_, err = params.Partial(x, 1)
	assert.Error(t, err)
	_, err = params.Predict(mat.NewDense(1, 3, nil))
	assert.Error(t, err)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("boosting")
	assert.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())
	require.NoError(t, Options{Alpha: 0, Epochs: 1, LearningRate: 1e-4}.Validate())

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"zero epochs", Options{Alpha: 1e-3, Epochs: 0, LearningRate: 0.1}, "epochs"},
		{"negative epochs", Options{Alpha: 1e-3, Epochs: -3, LearningRate: 0.1}, "epochs"},
		{"zero learning rate", Options{Alpha: 1e-3, Epochs: 10, LearningRate: 0}, "learning rate"},
		{"negative learning rate", Options{Alpha: 1e-3, Epochs: 10, LearningRate: -0.1}, "learning rate"},
		{"nan learning rate", Options{Alpha: 1e-3, Epochs: 10, LearningRate: math.NaN()}, "learning rate"},
		{"negative alpha", Options{Alpha: -1, Epochs: 10, LearningRate: 0.1}, "alpha"},
		{"infinite alpha", Options{Alpha: math.Inf(1), Epochs: 10, LearningRate: 0.1}, "alpha"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
