package estimator

import (
	"context"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/dataset"
	"github.com/kashguard/go-secret-learn/internal/mpc/device"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
)

// newStrategy 按模式选择执行策略，并检查模式与切分方式是否兼容
func newStrategy(mode string, way dataset.Way, rt device.RuntimeConfig, self string) (Strategy, error) {
	switch mode {
	case config.ModeFederated:
		if way != dataset.Horizontal {
			return nil, protocol.NewConfigurationError(self, "federated mode needs HORIZONTAL partitioning, got %s", way)
		}
		return &federated{}, nil
	case config.ModeSplitLearning:
		if way != dataset.Vertical {
			return nil, protocol.NewConfigurationError(self, "split learning needs VERTICAL partitioning, got %s", way)
		}
		return &splitLearning{}, nil
	case config.ModeSecretShared:
		return &secretShared{revealTo: rt.RevealTo}, nil
	default:
		return nil, protocol.NewConfigurationError(self, "unknown mode %q", mode)
	}
}

// labelOwnerOrCoordinator VERTICAL 下的标签持有方，没有时为协调方
func labelOwnerOrCoordinator(c *Call) string {
	if c.Layout != nil && c.Layout.Way == dataset.Vertical {
		if owner, ok := c.Layout.LabelOwner(); ok {
			return owner
		}
	}
	return c.Coordinator
}

// federated 各方在本地样本上计算充分统计量，权威方聚合求解后把全局模型广播给所有参与方
type federated struct {
	learner
}

func (s *federated) Mode() string { return config.ModeFederated }

func (s *federated) Authority(c *Call) string { return labelOwnerOrCoordinator(c) }

func (s *federated) Fit(ctx context.Context, c *Call) (Payload, error) {
	return s.fitHorizontal(ctx, c, newPlainExchange(c), true)
}

func (s *federated) Predict(ctx context.Context, c *Call) (Payload, error) {
	return s.predictHorizontal(ctx, c, newPlainExchange(c), false)
}

// secretShared 所有跨方数据先分享到安全设备上，只向揭示方重构
type secretShared struct {
	learner
	revealTo string
}

func (s *secretShared) Mode() string { return config.ModeSecretShared }

func (s *secretShared) Authority(c *Call) string {
	if s.revealTo != "" {
		return s.revealTo
	}
	return c.Coordinator
}

func (s *secretShared) Fit(ctx context.Context, c *Call) (Payload, error) {
	ex, err := newDeviceExchange(c)
	if err != nil {
		return nil, err
	}
	c.Note("revealing to %s", c.Authority)
	if c.Layout.Way == dataset.Vertical {
		return s.fitVertical(ctx, c, ex)
	}
	return s.fitHorizontal(ctx, c, ex, false)
}

func (s *secretShared) Predict(ctx context.Context, c *Call) (Payload, error) {
	ex, err := newDeviceExchange(c)
	if err != nil {
		return nil, err
	}
	if c.Layout.Way == dataset.Vertical {
		return s.predictVertical(ctx, c, ex)
	}
	return s.predictHorizontal(ctx, c, ex, true)
}

// splitLearning 各方保留本段模型，部分激活值发往标签方，残差梯度回传
type splitLearning struct {
	learner
}

func (s *splitLearning) Mode() string { return config.ModeSplitLearning }

func (s *splitLearning) Authority(c *Call) string { return labelOwnerOrCoordinator(c) }

func (s *splitLearning) Fit(ctx context.Context, c *Call) (Payload, error) {
	return s.fitVertical(ctx, c, newPlainExchange(c))
}

func (s *splitLearning) Predict(ctx context.Context, c *Call) (Payload, error) {
	return s.predictVertical(ctx, c, newPlainExchange(c))
}
