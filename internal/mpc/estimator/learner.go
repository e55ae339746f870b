package estimator

import (
	"context"
	"fmt"

	"github.com/kashguard/go-secret-learn/internal/mpc/algo"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// errNoModel 权威方未能得到模型时向其余各方发布空向量
var errNoModel = errors.New("authority did not publish a model")

// learner 各策略共用的训练与预测流程，数据通路由 exchange 决定
type learner struct {
	// params 完整模型：权威方总是持有；FL 下训练后广播给全部参与方
	params *algo.Params
	// segment VERTICAL 下本方特征列对应的参数段
	segment *algo.Params
}

func (l *learner) reset() {
	l.params = nil
	l.segment = nil
}

// fitHorizontal 各方计算本地充分统计量，经 ex 求和后由权威方求解
// publish 为 true 时把模型发布给所有参与方
func (l *learner) fitHorizontal(ctx context.Context, c *Call, ex exchange, publish bool) (Payload, error) {
	l.reset()
	features := c.Layout.TotalCols()
	supervised := c.Algorithm.Supervised()

	stats, err := c.Algorithm.Stats(c.Local.X, c.Local.Labels)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute local statistics")
	}
	sum, err := ex.Sum(ctx, "stats", stats.Flatten(), c.Authority)
	if err != nil {
		return nil, err
	}

	var solveErr error
	if c.IsAuthority() {
		var merged *algo.Stats
		merged, solveErr = algo.Unflatten(sum, features, supervised)
		if solveErr == nil {
			l.params, solveErr = c.Algorithm.Solve(merged, c.Options)
		}
		c.Note("aggregated statistics over %.0f rows", sum[0])
	}

	if publish {
		var vec []float64
		if l.params != nil {
			vec = l.params.Vector()
		}
		got, err := ex.Publish(ctx, "model", vec, c.Authority)
		if err != nil {
			return nil, err
		}
		if !c.IsAuthority() {
			if len(got) == 0 {
				return nil, errNoModel
			}
			if l.params, err = algo.ParamsFromVector(c.Algorithm.Name(), features, got); err != nil {
				return nil, err
			}
		}
		c.Note("model published to all parties")
	}

	if solveErr != nil {
		return nil, errors.Wrap(solveErr, "failed to solve model")
	}
	return l.model(c), nil
}

// predictHorizontal 各方在本方样本上预测，权威方按参与方顺序拼接
// publish 为 true 时先由权威方把模型发布给所有参与方
func (l *learner) predictHorizontal(ctx context.Context, c *Call, ex exchange, publish bool) (Payload, error) {
	params := l.params
	if publish {
		var vec []float64
		if c.IsAuthority() && l.params != nil {
			vec = l.params.Vector()
		}
		got, err := ex.Publish(ctx, "model", vec, c.Authority)
		if err != nil {
			return nil, err
		}
		if len(got) == 0 {
			return nil, errNoModel
		}
		if params, err = algo.ParamsFromVector(c.Algorithm.Name(), c.Layout.TotalCols(), got); err != nil {
			return nil, err
		}
	}
	if params == nil {
		return nil, errNoModel
	}

	pred, err := params.Predict(c.Local.X)
	if err != nil {
		return nil, err
	}
	parts, err := ex.Gather(ctx, "prediction", algo.Vector(pred), c.Authority)
	if err != nil {
		return nil, err
	}
	if !c.IsAuthority() {
		return NoPayload, nil
	}

	out := &Prediction{Values: make([]float64, 0, c.Layout.TotalRows())}
	for _, part := range parts {
		out.Values = append(out.Values, part...)
	}
	return out, nil
}

// fitVertical 各方只训练自己特征列对应的参数段
// 有监督时做 Epochs 轮梯度下降：各方贡献 z_p = X_p·w_p（标签方贡献 -y，权威方贡献截距），
// 权威方得到残差 r 并发布，各方以 X_pᵀr/n + αw_p 更新本段参数
// 无监督时各段独立求解；最后各段参数汇集到权威方拼成完整模型
func (l *learner) fitVertical(ctx context.Context, c *Call, ex exchange) (Payload, error) {
	l.reset()
	x := c.Local.X
	rows, cols := x.Dims()
	name := c.Algorithm.Name()

	if c.Algorithm.Supervised() {
		labelOwner, _ := c.Layout.LabelOwner()
		w := mat.NewVecDense(cols, nil)
		intercept := 0.0
		n := float64(rows)

		for epoch := 0; epoch < c.Options.Epochs; epoch++ {
			var z mat.VecDense
			z.MulVec(x, w)
			if c.Self == labelOwner {
				z.SubVec(&z, c.Local.Labels)
			}
			contribution := algo.Vector(&z)
			if c.IsAuthority() {
				for i := range contribution {
					contribution[i] += intercept
				}
			}

			tag := fmt.Sprintf("residual/%d", epoch)
			sum, err := ex.Sum(ctx, tag, contribution, c.Authority)
			if err != nil {
				return nil, err
			}
			residual, err := ex.Publish(ctx, tag, sum, c.Authority)
			if err != nil {
				return nil, err
			}
			if len(residual) != rows {
				return nil, errors.Errorf("residual has %d values for %d rows", len(residual), rows)
			}

			r := mat.NewVecDense(rows, residual)
			var grad mat.VecDense
			grad.MulVec(x.T(), r)
			grad.ScaleVec(1/n, &grad)
			grad.AddScaledVec(&grad, c.Options.Alpha, w)
			w.AddScaledVec(w, -c.Options.LearningRate, &grad)

			if c.IsAuthority() {
				intercept -= c.Options.LearningRate * mat.Sum(r) / n
				if epoch == c.Options.Epochs-1 {
					c.Note("epoch %d mse %.6f", epoch+1, mat.Dot(r, r)/n)
				}
			}
		}

		l.segment = &algo.Params{Algorithm: name, Features: cols, Coef: algo.Vector(w)}
		if c.IsAuthority() {
			l.segment.Intercept = intercept
		}
		c.Note("trained %d epochs", c.Options.Epochs)
	} else {
		seg, err := algo.Fit(c.Algorithm, x, nil, c.Options)
		if err != nil {
			return nil, errors.Wrap(err, "failed to fit local segment")
		}
		l.segment = seg
	}

	parts, err := ex.Gather(ctx, "segment", l.segment.Vector(), c.Authority)
	if err != nil {
		return nil, err
	}
	if !c.IsAuthority() {
		return NoPayload, nil
	}

	segments := make([]*algo.Params, len(parts))
	for i, owner := range c.Parties {
		p, _ := c.Layout.Partition(owner)
		if segments[i], err = algo.ParamsFromVector(name, p.Cols, parts[i]); err != nil {
			return nil, errors.Wrapf(err, "segment from %s", owner)
		}
	}
	if l.params, err = algo.Join(segments, l.segment.Intercept); err != nil {
		return nil, err
	}
	return l.model(c), nil
}

// predictVertical 各方计算本段贡献，经 ex 求和后由权威方完成预测
func (l *learner) predictVertical(ctx context.Context, c *Call, ex exchange) (Payload, error) {
	if l.segment == nil {
		return nil, errors.New("no fitted segment for this party")
	}
	partial, err := l.segment.Partial(c.Local.X, 0)
	if err != nil {
		return nil, err
	}
	sum, err := ex.Sum(ctx, "partial", algo.Vector(partial), c.Authority)
	if err != nil {
		return nil, err
	}
	if !c.IsAuthority() {
		return NoPayload, nil
	}
	if l.params == nil {
		return nil, errNoModel
	}
	pred := l.params.Finish(mat.NewVecDense(len(sum), sum))
	return &Prediction{Values: algo.Vector(pred)}, nil
}

func (l *learner) model(c *Call) Payload {
	if !c.IsAuthority() || l.params == nil {
		return NoPayload
	}
	return &Model{
		Params: l.params,
		Way:    c.Layout.Way,
		Owners: c.Layout.Owners(),
		Rows:   c.Layout.TotalRows(),
	}
}
