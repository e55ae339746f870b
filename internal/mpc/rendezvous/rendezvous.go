package rendezvous

import (
	"context"
	"time"

	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Rendezvous 分布式就绪屏障
// 只有 AwaitAll 会阻塞等待其他参与方，且总是以有界间隔休眠并响应 ctx 取消
type Rendezvous struct {
	medium Medium
	cfg    Config
	now    func() time.Time
}

// New 创建屏障
func New(medium Medium, cfg Config) *Rendezvous {
	ensureMetrics()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	return &Rendezvous{medium: medium, cfg: cfg, now: time.Now}
}

// Config 当前参数
func (r *Rendezvous) Config() Config {
	return r.cfg
}

// Medium 底层介质
func (r *Rendezvous) Medium() Medium {
	return r.medium
}

// SignalReady 发布本方就绪信号，重复调用无额外效果
func (r *Rendezvous) SignalReady(ctx context.Context, sessionID, party, digest string) error {
	return r.publish(ctx, sessionID, PhaseReady, party, digest)
}

func (r *Rendezvous) publish(ctx context.Context, sessionID, phase, party, digest string) error {
	token := Token{
		SessionID: sessionID,
		PartyName: party,
		Phase:     phase,
		Digest:    digest,
		IssuedAt:  r.now().UTC(),
	}
	if err := r.medium.Publish(ctx, token); err != nil {
		return errors.Wrapf(err, "failed to publish %s token for %s", phase, party)
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("party", party).
		Str("phase", phase).
		Msg("Readiness token published")
	return nil
}

// AwaitAll 阻塞直到观察到全部期望参与方的就绪信号，或 timeout 到期
// timeout <= 0 时使用配置的默认超时
func (r *Rendezvous) AwaitAll(ctx context.Context, sessionID string, expected []string, timeout time.Duration) (*Observed, error) {
	return r.await(ctx, sessionID, PhaseReady, expected, timeout)
}

func (r *Rendezvous) await(ctx context.Context, sessionID, phase string, expected []string, timeout time.Duration) (*Observed, error) {
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	start := r.now()
	deadline := start.Add(timeout)
	tokens := make(map[string]Token, len(expected))

	for {
		var missing []string
		for _, name := range expected {
			if _, seen := tokens[name]; seen {
				continue
			}
			t, err := r.medium.Lookup(ctx, sessionID, phase, name)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to look up %s token of %s", phase, name)
			}
			if t == nil {
				missing = append(missing, name)
				continue
			}
			tokens[name] = *t
		}

		waited := r.now().Sub(start)
		if len(missing) == 0 {
			waitHist.WithLabelValues(phase, "ok").Observe(waited.Seconds())
			log.Debug().
				Str("session_id", sessionID).
				Str("phase", phase).
				Dur("waited", waited).
				Msg("All parties observed")
			return &Observed{SessionID: sessionID, Phase: phase, Tokens: tokens, Waited: waited}, nil
		}

		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			waitHist.WithLabelValues(phase, "timeout").Observe(waited.Seconds())
			timeoutCounter.WithLabelValues(phase).Inc()
			return nil, protocol.NewRendezvousTimeoutError(sessionID, phase, missing, waited)
		}

		sleep := r.cfg.PollInterval
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			waitHist.WithLabelValues(phase, "canceled").Observe(r.now().Sub(start).Seconds())
			return nil, errors.Wrap(ctx.Err(), "rendezvous wait canceled")
		case <-timer.C:
		}
	}
}

// Settle 在 AwaitAll 成功后执行：
// 开启确认阶段时，发布 proceed 信号并等待全部参与方的 proceed 信号，随后删除本方 ready 信号；
// 否则休眠 Grace 后按角色清理 ready 信号
func (r *Rendezvous) Settle(ctx context.Context, sessionID string, self Member, expected []string) error {
	if !r.cfg.Acknowledge {
		if r.cfg.Grace > 0 {
			timer := time.NewTimer(r.cfg.Grace)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrap(ctx.Err(), "rendezvous grace canceled")
			case <-timer.C:
			}
		}
		return r.clearPhase(ctx, sessionID, PhaseReady, self, expected)
	}

	if err := r.publish(ctx, sessionID, PhaseProceed, self.Name, ""); err != nil {
		return err
	}
	if _, err := r.await(ctx, sessionID, PhaseProceed, expected, r.cfg.Timeout); err != nil {
		return err
	}

	// 所有参与方都已发布 proceed，说明它们都已观察到全部 ready 信号
	if err := r.medium.Delete(ctx, sessionID, PhaseReady, self.Name); err != nil {
		return errors.Wrap(err, "failed to delete own ready token")
	}
	return nil
}

// Barrier 依次执行 SignalReady、AwaitAll、Settle
func (r *Rendezvous) Barrier(ctx context.Context, sessionID string, self Member, digest string, expected []string) (*Observed, error) {
	if err := r.SignalReady(ctx, sessionID, self.Name, digest); err != nil {
		return nil, err
	}
	observed, err := r.AwaitAll(ctx, sessionID, expected, r.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if err := r.Settle(ctx, sessionID, self, expected); err != nil {
		return nil, err
	}
	return observed, nil
}

// Clear 清理会话的就绪信号：协调方删除全部信号，参与方仅删除本方信号
func (r *Rendezvous) Clear(ctx context.Context, sessionID string, self Member, expected []string) error {
	for _, phase := range []string{PhaseReady, PhaseProceed} {
		if err := r.clearPhase(ctx, sessionID, phase, self, expected); err != nil {
			return err
		}
	}

	if !self.Coordinator {
		return nil
	}

	// 兜底清理不在期望列表中的残留信号
	leftovers, err := r.medium.List(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to list leftover tokens")
	}
	for _, t := range leftovers {
		if err := r.medium.Delete(ctx, sessionID, t.Phase, t.PartyName); err != nil {
			return errors.Wrapf(err, "failed to delete %s token of %s", t.Phase, t.PartyName)
		}
	}
	return nil
}

func (r *Rendezvous) clearPhase(ctx context.Context, sessionID, phase string, self Member, expected []string) error {
	owners := []string{self.Name}
	if self.Coordinator {
		owners = expected
	}
	for _, name := range owners {
		if err := r.medium.Delete(ctx, sessionID, phase, name); err != nil {
			return errors.Wrapf(err, "failed to delete %s token of %s", phase, name)
		}
	}
	return nil
}
