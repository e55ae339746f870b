package party

import (
	"context"
	"encoding/json"
	"os"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/dataset"
	"github.com/kashguard/go-secret-learn/internal/mpc/device"
	"github.com/kashguard/go-secret-learn/internal/mpc/estimator"
	mpcparty "github.com/kashguard/go-secret-learn/internal/mpc/party"
	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/kashguard/go-secret-learn/internal/mpc/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// node 单个参与方的会话与调度器
type node struct {
	book       *mpcparty.Book
	manager    *session.Manager
	dispatcher *estimator.Dispatcher
}

// report 写入 --output 的结果文件
type report struct {
	SessionID   string                `json:"session_id"`
	Party       string                `json:"party"`
	Mode        string                `json:"mode"`
	Model       *estimator.Model      `json:"model,omitempty"`
	Prediction  *estimator.Prediction `json:"prediction,omitempty"`
	Diagnostics []string              `json:"diagnostics,omitempty"`
}

// sessionIDFor 配置未指定会话 ID 时由模式、参与方与运行时参数派生，各方得到相同的值
func sessionIDFor(cfg config.Server, book *mpcparty.Book) string {
	if cfg.Session.ID != "" {
		return cfg.Session.ID
	}
	rt := device.RuntimeFromConfig(cfg.Runtime)
	return session.DeriveID(device.Digest(cfg.Mode, book.Names(), rt))
}

func rendezvousConfig(cfg config.Server) rendezvous.Config {
	return rendezvous.Config{
		PollInterval: cfg.Rendezvous.PollInterval,
		Timeout:      cfg.Rendezvous.Timeout,
		Grace:        cfg.Rendezvous.Grace,
		Acknowledge:  cfg.Rendezvous.Acknowledge,
	}
}

func newNode(cfg config.Server, book *mpcparty.Book, sessionID string, res *resources, o *options) (*node, error) {
	manager, err := session.NewManager(session.Config{
		SessionID:    sessionID,
		Mode:         cfg.Mode,
		Book:         book,
		Runtime:      device.RuntimeFromConfig(cfg.Runtime),
		Rendezvous:   rendezvous.New(res.medium, rendezvousConfig(cfg)),
		Messenger:    res.messenger,
		ExpiresAfter: cfg.Session.ExpiresAfter,
		Cleanup:      res.cleanup,
	})
	if err != nil {
		return nil, err
	}
	d, err := estimator.NewDispatcher(estimator.Config{
		Manager:   manager,
		Way:       o.partitionWay(),
		Algorithm: o.algorithmName(),
	})
	if err != nil {
		return nil, err
	}
	return &node{book: book, manager: manager, dispatcher: d}, nil
}

// execute 训练、按需预测并写出结果；结束时总是 teardown
func (n *node) execute(ctx context.Context, local *dataset.Local, o *options, output string) error {
	defer func() {
		if err := n.dispatcher.Teardown(context.Background()); err != nil {
			log.Warn().Err(err).Str("session_id", n.manager.ID()).Msg("Teardown was incomplete")
		}
	}()

	self := n.book.Self().Name
	rep := report{SessionID: n.manager.ID(), Party: self, Mode: n.manager.Mode()}

	result, err := n.dispatcher.Fit(ctx, local, labelsOf(local), o.algoOptions())
	if err != nil {
		return err
	}
	rep.Diagnostics = append(rep.Diagnostics, result.Diagnostics...)
	if m, ok := result.Payload.(*estimator.Model); ok {
		rep.Model = m
	}

	if o.predict {
		result, err = n.dispatcher.Predict(ctx, local)
		if err != nil {
			return err
		}
		rep.Diagnostics = append(rep.Diagnostics, result.Diagnostics...)
		if p, ok := result.Payload.(*estimator.Prediction); ok {
			rep.Prediction = p
		}
	}

	log.Info().
		Str("session_id", rep.SessionID).
		Str("party", self).
		Bool("model", rep.Model != nil).
		Bool("prediction", rep.Prediction != nil).
		Msg("Party finished")

	if output == "" {
		return nil
	}
	return writeReport(output, rep)
}

func writeReport(path string, rep report) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write report to %s", path)
	}
	return nil
}
