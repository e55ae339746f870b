package estimator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kashguard/go-secret-learn/internal/mpc/algo"
	"github.com/kashguard/go-secret-learn/internal/mpc/dataset"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/mpc/session"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"gonum.org/v1/gonum/mat"
)

const (
	opFit     = "fit"
	opPredict = "predict"

	kindOutcome = "outcome"
)

// Config 调度器参数
type Config struct {
	Manager   *session.Manager
	Way       dataset.Way
	Algorithm algo.Name
}

// Dispatcher 统一的 fit/predict 入口（EstimatorDispatcher）
// 每个参与方都必须调用 Fit/Predict 以加入计算，非权威方得到 NoPayload
type Dispatcher struct {
	manager   *session.Manager
	way       dataset.Way
	algorithm algo.Algorithm
	strategy  Strategy

	busy atomic.Bool
	// fitted 最近一次训练时的分区布局，预测数据必须与之兼容
	fitted *dataset.PartitionedDataset
}

type outcome struct {
	Error string `json:"error,omitempty"`
}

// NewDispatcher 创建调度器；模式、切分方式与估计器在此一次性确定
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	ensureMetrics()

	if cfg.Manager == nil {
		return nil, protocol.NewConfigurationError("", "no session manager")
	}
	self := cfg.Manager.Self().Name
	if !cfg.Way.Valid() {
		return nil, protocol.NewConfigurationError(self, "unknown partition way %q", cfg.Way)
	}
	a, err := algo.Lookup(cfg.Algorithm)
	if err != nil {
		return nil, protocol.NewConfigurationError(self, "%v", err)
	}
	strategy, err := newStrategy(cfg.Manager.Mode(), cfg.Way, cfg.Manager.Runtime(), self)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		manager:   cfg.Manager,
		way:       cfg.Way,
		algorithm: a,
		strategy:  strategy,
	}, nil
}

// State 会话当前状态
func (d *Dispatcher) State() session.State {
	return d.manager.State()
}

// SessionID 会话 ID
func (d *Dispatcher) SessionID() string {
	return d.manager.ID()
}

// Teardown 释放会话资源，幂等
func (d *Dispatcher) Teardown(ctx context.Context) error {
	return d.manager.Teardown(ctx)
}

func (d *Dispatcher) acquire(op string) error {
	if !d.busy.CompareAndSwap(false, true) {
		return protocol.NewSessionBusyError(d.manager.ID(), op)
	}
	return nil
}

func (d *Dispatcher) observe(op string, start time.Time) {
	callDuration.WithLabelValues(d.manager.Mode(), op).Observe(time.Since(start).Seconds())
}

// Fit 训练；首次调用时先完成就绪屏障与设备构造
// labels 可为空（无监督估计器，或本方不持有标签）
func (d *Dispatcher) Fit(ctx context.Context, data *dataset.Local, labels *mat.VecDense, opts algo.Options) (*Result, error) {
	if err := d.acquire(opFit); err != nil {
		return nil, err
	}
	defer d.busy.Store(false)
	defer d.observe(opFit, time.Now())

	if err := opts.Validate(); err != nil {
		return nil, protocol.NewConfigurationError(d.manager.Self().Name, "invalid training options: %v", err)
	}

	local := d.localCopy(data)
	if local != nil {
		local.Labels = labels
	}

	// 首次调用时布局交换在设备构造之前完成，数据约定错误不会留下设备
	var layout *dataset.PartitionedDataset
	switch state := d.manager.State(); state {
	case session.StateIdle:
		gate := func(ctx context.Context) error {
			var err error
			layout, err = d.exchange(ctx, local)
			return err
		}
		if _, err := d.manager.Start(ctx, gate); err != nil {
			return fatal(nil, err), err
		}
	case session.StateDeviceReady, session.StateFitted:
	default:
		return nil, protocol.NewInvalidStateTransitionError(string(state), opFit)
	}

	if err := d.manager.Transition(session.StateFitting); err != nil {
		return nil, err
	}

	c, payload, err := d.run(ctx, opFit, local, layout, opts)
	if err != nil {
		err = d.manager.Fail(ctx, err)
		return fatal(c, err), err
	}
	if err := d.manager.Transition(session.StateFitted); err != nil {
		return fatal(c, err), d.manager.Fail(ctx, err)
	}
	d.fitted = c.Layout
	return d.success(c, opFit, payload), nil
}

// Predict 预测；只能在 Fitted 状态下调用，否则返回 InvalidStateTransition 且状态不变
func (d *Dispatcher) Predict(ctx context.Context, data *dataset.Local) (*Result, error) {
	if err := d.acquire(opPredict); err != nil {
		return nil, err
	}
	defer d.busy.Store(false)
	defer d.observe(opPredict, time.Now())

	if state := d.manager.State(); state != session.StateFitted {
		return nil, protocol.NewInvalidStateTransitionError(string(state), opPredict)
	}
	if err := d.manager.Transition(session.StatePredicting); err != nil {
		return nil, err
	}

	local := d.localCopy(data)
	if local != nil {
		local.Labels = nil
	}

	c, payload, err := d.run(ctx, opPredict, local, nil, algo.Options{})
	if err != nil {
		err = d.manager.Fail(ctx, err)
		return fatal(c, err), err
	}
	if err := d.manager.Transition(session.StateFitted); err != nil {
		return fatal(c, err), d.manager.Fail(ctx, err)
	}
	return d.success(c, opPredict, payload), nil
}

func (d *Dispatcher) localCopy(data *dataset.Local) *dataset.Local {
	if data == nil {
		return nil
	}
	local := *data
	local.Owner = d.manager.Self().Name
	return &local
}

func (d *Dispatcher) exchange(ctx context.Context, local *dataset.Local) (*dataset.PartitionedDataset, error) {
	ctx, cancel := d.manager.WithDeadline(ctx)
	defer cancel()
	book := d.manager.Book()
	return exchangeLayout(ctx, d.manager.Messenger(), book.Coordinator().Name, book.Names(), d.way, local)
}

// run 交换分区布局（layout 已由首次调用得到时跳过）、执行策略，并由权威方发布本次调用的结论
func (d *Dispatcher) run(ctx context.Context, op string, local *dataset.Local, layout *dataset.PartitionedDataset,
	opts algo.Options) (*Call, Payload, error) {
	ctx, cancel := d.manager.WithDeadline(ctx)
	defer cancel()

	book := d.manager.Book()
	c := &Call{
		Self:        book.Self().Name,
		Coordinator: book.Coordinator().Name,
		Parties:     book.Names(),
		Messenger:   d.manager.Messenger(),
		Device:      d.manager.Device(),
		Algorithm:   d.algorithm,
		Options:     opts,
	}

	if layout == nil {
		var err error
		if layout, err = exchangeLayout(ctx, c.Messenger, c.Coordinator, c.Parties, d.way, local); err != nil {
			return c, nil, err
		}
	}
	c.Layout = layout
	c.Local = layout.Local

	// 以下检查只依赖各方一致的布局，所有参与方得到相同结论
	switch op {
	case opFit:
		if d.algorithm.Supervised() && !layout.Supervised() {
			return c, nil, errors.Errorf("%s needs labels but no party declared any", d.algorithm.Name())
		}
	case opPredict:
		if err := compatible(d.fitted, layout); err != nil {
			return c, nil, err
		}
	}

	c.Authority = d.strategy.Authority(c)
	c.Note("layout %s %dx%d over %v", layout.Way, layout.TotalRows(), layout.TotalCols(), layout.Owners())
	c.Note("authority %s", c.Authority)

	var payload Payload
	var err error
	if op == opFit {
		payload, err = d.strategy.Fit(ctx, c)
	} else {
		payload, err = d.strategy.Predict(ctx, c)
	}
	if err != nil {
		err = authorityVerdict(c, err)
	}
	if err := settle(ctx, c, err); err != nil {
		return c, nil, err
	}

	if !c.IsAuthority() || payload == nil {
		payload = NoPayload
	}
	if m, ok := payload.(*Model); ok {
		m.Mode = d.strategy.Mode()
	}
	return c, payload, nil
}

// settle 权威方把本次调用的成败告知其余各方；非权威方本地失败时不再等待
func settle(ctx context.Context, c *Call, err error) error {
	if c.IsAuthority() {
		o := outcome{}
		if err != nil {
			o.Error = err.Error()
		}
		if sendErr := transport.Broadcast(ctx, c.Messenger, c.Parties, kindOutcome, o); sendErr != nil && err == nil {
			return sendErr
		}
		return err
	}

	if err != nil {
		return err
	}
	var o outcome
	if err := transport.ReceiveJSON(ctx, c.Messenger, c.Authority, kindOutcome, &o); err != nil {
		return err
	}
	if o.Error != "" {
		return errors.Errorf("authority %s failed: %s", c.Authority, o.Error)
	}
	return nil
}

// authorityVerdict 非权威方在策略中途收到权威方的结论时，以权威方报告的错误取代步调不一致
func authorityVerdict(c *Call, err error) error {
	var oos *transport.OutOfStepError
	if c.IsAuthority() || !errors.As(err, &oos) || oos.From != c.Authority || oos.Got != kindOutcome {
		return err
	}
	var o outcome
	if jsonErr := json.Unmarshal(oos.Body, &o); jsonErr != nil || o.Error == "" {
		return err
	}
	return errors.Errorf("authority %s failed: %s", c.Authority, o.Error)
}

// compatible 预测数据必须与训练时的特征布局一致
func compatible(fitted, layout *dataset.PartitionedDataset) error {
	if fitted == nil {
		return errors.New("no fitted layout")
	}
	if fitted.Way == dataset.Horizontal {
		if fitted.TotalCols() != layout.TotalCols() {
			return protocol.NewPartitionShapeMismatchError("",
				fmt.Sprintf("%d columns as at fit", fitted.TotalCols()), fmt.Sprintf("%d columns", layout.TotalCols()))
		}
		return nil
	}
	for _, p := range fitted.Partitions {
		q, ok := layout.Partition(p.Owner)
		if !ok {
			return protocol.NewPartitionShapeMismatchError(p.Owner, "a partition as at fit", "none")
		}
		if q.Cols != p.Cols {
			return protocol.NewPartitionShapeMismatchError(p.Owner,
				fmt.Sprintf("%d columns as at fit", p.Cols), fmt.Sprintf("%d columns", q.Cols))
		}
	}
	return nil
}

func (d *Dispatcher) success(c *Call, op string, payload Payload) *Result {
	log.Info().
		Str("session_id", d.manager.ID()).
		Str("party", c.Self).
		Str("mode", d.strategy.Mode()).
		Str("op", op).
		Str("authority", c.Authority).
		Str("payload", payload.Kind()).
		Msg("Estimator call completed")
	return &Result{Status: StatusSuccess, Payload: payload, Diagnostics: c.Diagnostics}
}

func fatal(c *Call, err error) *Result {
	r := &Result{Status: StatusFatal, Payload: NoPayload}
	if c != nil {
		r.Diagnostics = append(r.Diagnostics, c.Diagnostics...)
	}
	r.Diagnostics = append(r.Diagnostics, err.Error())
	return r
}
