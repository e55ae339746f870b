package estimator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/algo"
	"github.com/kashguard/go-secret-learn/internal/mpc/dataset"
	"github.com/kashguard/go-secret-learn/internal/mpc/device"
	"github.com/kashguard/go-secret-learn/internal/mpc/party"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/kashguard/go-secret-learn/internal/mpc/session"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

var semi2k = device.RuntimeConfig{Protocol: device.ProtocolSEMI2K, Field: device.FieldFM64, FxpFractionBits: 18}

type clusterConfig struct {
	mode      string
	way       dataset.Way
	algorithm algo.Name
	runtime   device.RuntimeConfig
	timeout   time.Duration
}

type cluster struct {
	medium      *rendezvous.MemoryMedium
	dispatchers map[string]*Dispatcher
}

func newCluster(t *testing.T, cfg clusterConfig, names ...string) *cluster {
	t.Helper()
	if cfg.timeout == 0 {
		cfg.timeout = 5 * time.Second
	}

	endpoints := make(map[string]config.PartyEndpoint, len(names))
	for i, name := range names {
		endpoints[name] = config.PartyEndpoint{Address: fmt.Sprintf("localhost:%d", 9494+i)}
	}

	c := &cluster{medium: rendezvous.NewMemoryMedium(), dispatchers: make(map[string]*Dispatcher)}
	net := transport.NewMemoryNetwork(names...)
	for _, name := range names {
		book, err := party.Resolve(config.Cluster{Parties: endpoints, SelfParty: name})
		require.NoError(t, err)

		m, err := session.NewManager(session.Config{
			Mode:    cfg.mode,
			Book:    book,
			Runtime: cfg.runtime,
			Rendezvous: rendezvous.New(c.medium, rendezvous.Config{
				PollInterval: 10 * time.Millisecond,
				Timeout:      cfg.timeout,
				Acknowledge:  true,
			}),
			Messenger: net.Messenger(name),
		})
		require.NoError(t, err)

		d, err := NewDispatcher(Config{Manager: m, Way: cfg.way, Algorithm: cfg.algorithm})
		require.NoError(t, err)
		c.dispatchers[name] = d
	}
	return c
}

// run 在每个参与方上并发执行 fn，返回各方结果与错误
func (c *cluster) run(names []string, fn func(name string, d *Dispatcher) (*Result, error)) (map[string]*Result, map[string]error) {
	var mu sync.Mutex
	results := make(map[string]*Result, len(names))
	errs := make(map[string]error, len(names))

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error {
			r, err := fn(name, c.dispatchers[name])
			mu.Lock()
			results[name], errs[name] = r, err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

func (c *cluster) teardown(t *testing.T) {
	t.Helper()
	for _, d := range c.dispatchers {
		require.NoError(t, d.Teardown(context.Background()))
		assert.Equal(t, session.StateTerminated, d.State())
	}
}

func (c *cluster) tokens(t *testing.T, sessionID string) []rendezvous.Token {
	t.Helper()
	tokens, err := c.medium.List(context.Background(), sessionID)
	require.NoError(t, err)
	return tokens
}

// verticalSplit 100 行 30 列：alice 持有前 15 列与标签，bob 持有后 15 列
func verticalSplit() map[string]*dataset.Local {
	x, y := dataset.Synthetic(100, 30, 7)
	return map[string]*dataset.Local{
		"alice": {X: dataset.SliceColumns(x, 0, 15), Labels: y},
		"bob":   {X: dataset.SliceColumns(x, 15, 30)},
	}
}

// horizontalSplit 按行均分给各方，每方都持有自己行的标签
func horizontalSplit(rows, cols int, names []string) (map[string]*dataset.Local, *mat.Dense, *mat.VecDense) {
	x, y := dataset.Synthetic(rows, cols, 11)
	per := rows / len(names)
	out := make(map[string]*dataset.Local, len(names))
	for i, name := range names {
		out[name] = &dataset.Local{
			X:      dataset.SliceRows(x, i*per, (i+1)*per),
			Labels: dataset.SliceVec(y, i*per, (i+1)*per),
		}
	}
	return out, x, y
}

func fitAll(c *cluster, names []string, data map[string]*dataset.Local) (map[string]*Result, map[string]error) {
	return c.run(names, func(name string, d *Dispatcher) (*Result, error) {
		local := data[name]
		return d.Fit(context.Background(), local, local.Labels, algo.DefaultOptions())
	})
}

func predictAll(c *cluster, names []string, data map[string]*dataset.Local) (map[string]*Result, map[string]error) {
	return c.run(names, func(name string, d *Dispatcher) (*Result, error) {
		return d.Predict(context.Background(), data[name])
	})
}

func fitVerticalModel(t *testing.T, mode string) *algo.Params {
	t.Helper()
	names := []string{"alice", "bob"}
	c := newCluster(t, clusterConfig{mode: mode, way: dataset.Vertical, algorithm: algo.Ridge, runtime: semi2k}, names...)
	data := verticalSplit()

	results, errs := fitAll(c, names, data)
	require.NoError(t, errs["alice"])
	require.NoError(t, errs["bob"])

	for _, name := range names {
		assert.Equal(t, session.StateFitted, c.dispatchers[name].State())
		assert.Equal(t, StatusSuccess, results[name].Status)
	}
	require.True(t, results["alice"].HasPayload())
	assert.False(t, results["bob"].HasPayload())
	assert.Equal(t, NoPayload, results["bob"].Payload)

	model, ok := results["alice"].Payload.(*Model)
	require.True(t, ok)
	assert.Equal(t, mode, model.Mode)
	assert.Equal(t, dataset.Vertical, model.Way)
	assert.Equal(t, names, model.Owners)
	assert.Equal(t, 100, model.Rows)
	require.Len(t, model.Params.Coef, 30)

	for i := 0; i < 2; i++ {
		results, errs = predictAll(c, names, data)
		require.NoError(t, errs["alice"])
		require.NoError(t, errs["bob"])
		pred, ok := results["alice"].Payload.(*Prediction)
		require.True(t, ok)
		assert.Equal(t, 100, pred.Len())
		assert.False(t, results["bob"].HasPayload())
		assert.Equal(t, session.StateFitted, c.dispatchers["bob"].State())
	}

	sessionID := c.dispatchers["alice"].SessionID()
	assert.Equal(t, sessionID, c.dispatchers["bob"].SessionID())
	c.teardown(t)
	assert.Empty(t, c.tokens(t, sessionID))
	return model.Params
}

func TestVerticalSecretSharedFitPredict(t *testing.T) {
	fitVerticalModel(t, config.ModeSecretShared)
}

func TestSplitLearningMatchesSecretShared(t *testing.T) {
	ss := fitVerticalModel(t, config.ModeSecretShared)
	sl := fitVerticalModel(t, config.ModeSplitLearning)

	assert.InDelta(t, sl.Intercept, ss.Intercept, 1e-3)
	for j := range sl.Coef {
		assert.InDelta(t, sl.Coef[j], ss.Coef[j], 1e-3, "coef %d", j)
	}
	// 10 轮梯度下降后截距应已明显偏离 0 并朝 0.5 移动
	assert.Greater(t, sl.Intercept, 0.1)
}

func TestFederatedMatchesCentralizedFit(t *testing.T) {
	names := []string{"alice", "bob", "carol"}
	c := newCluster(t, clusterConfig{mode: config.ModeFederated, way: dataset.Horizontal, algorithm: algo.Ridge}, names...)
	data, x, y := horizontalSplit(90, 6, names)

	results, errs := fitAll(c, names, data)
	for _, name := range names {
		require.NoError(t, errs[name], name)
	}

	a, err := algo.Lookup(algo.Ridge)
	require.NoError(t, err)
	want, err := algo.Fit(a, x, y, algo.DefaultOptions())
	require.NoError(t, err)

	model, ok := results["alice"].Payload.(*Model)
	require.True(t, ok)
	assert.Equal(t, 90, model.Rows)
	assert.InDelta(t, want.Intercept, model.Params.Intercept, 1e-9)
	for j := range want.Coef {
		assert.InDelta(t, want.Coef[j], model.Params.Coef[j], 1e-9)
	}
	assert.False(t, results["bob"].HasPayload())
	assert.False(t, results["carol"].HasPayload())

	results, errs = predictAll(c, names, data)
	for _, name := range names {
		require.NoError(t, errs[name], name)
	}
	pred, ok := results["alice"].Payload.(*Prediction)
	require.True(t, ok)
	wantPred, err := want.Predict(x)
	require.NoError(t, err)
	require.Equal(t, 90, pred.Len())
	for i, v := range pred.Values {
		assert.InDelta(t, wantPred.AtVec(i), v, 1e-9)
	}

	c.teardown(t)
}

func TestSecretSharedHorizontalRevealsToConfiguredParty(t *testing.T) {
	names := []string{"alice", "bob"}
	rt := semi2k
	rt.RevealTo = "bob"
	c := newCluster(t, clusterConfig{mode: config.ModeSecretShared, way: dataset.Horizontal, algorithm: algo.ZScore, runtime: rt}, names...)
	data, x, _ := horizontalSplit(80, 4, names)
	for _, local := range data {
		local.Labels = nil
	}

	results, errs := fitAll(c, names, data)
	require.NoError(t, errs["alice"])
	require.NoError(t, errs["bob"])
	assert.False(t, results["alice"].HasPayload())

	model, ok := results["bob"].Payload.(*Model)
	require.True(t, ok)

	a, err := algo.Lookup(algo.ZScore)
	require.NoError(t, err)
	want, err := algo.Fit(a, x, nil, algo.Options{})
	require.NoError(t, err)
	for j := range want.Mean {
		assert.InDelta(t, want.Mean[j], model.Params.Mean[j], 1e-3)
		assert.InDelta(t, want.Scale[j], model.Params.Scale[j], 1e-3)
	}

	results, errs = predictAll(c, names, data)
	require.NoError(t, errs["alice"])
	require.NoError(t, errs["bob"])
	pred, ok := results["bob"].Payload.(*Prediction)
	require.True(t, ok)
	assert.Equal(t, 80, pred.Len())
	assert.False(t, results["alice"].HasPayload())

	c.teardown(t)
}

func TestFitFailsWhenPeerNeverReady(t *testing.T) {
	c := newCluster(t, clusterConfig{
		mode:      config.ModeSecretShared,
		way:       dataset.Vertical,
		algorithm: algo.Ridge,
		runtime:   semi2k,
		timeout:   300 * time.Millisecond,
	}, "alice", "bob")
	data := verticalSplit()
	d := c.dispatchers["alice"]

	result, err := d.Fit(context.Background(), data["alice"], data["alice"].Labels, algo.DefaultOptions())
	require.Error(t, err)

	var timeout *protocol.RendezvousTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, []string{"bob"}, timeout.Missing)
	assert.Equal(t, StatusFatal, result.Status)
	assert.False(t, result.HasPayload())
	assert.Equal(t, session.StateTerminated, d.State())
	assert.Empty(t, c.tokens(t, d.SessionID()))
}

func TestPredictBeforeFit(t *testing.T) {
	c := newCluster(t, clusterConfig{mode: config.ModeSecretShared, way: dataset.Vertical, algorithm: algo.Ridge, runtime: semi2k},
		"alice", "bob")
	d := c.dispatchers["alice"]

	_, err := d.Predict(context.Background(), verticalSplit()["alice"])
	require.Error(t, err)

	var invalid *protocol.InvalidStateTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, string(session.StateIdle), invalid.From)
	assert.Equal(t, opPredict, invalid.Attempted)
	assert.Equal(t, session.StateIdle, d.State())
}

func TestVerticalRowMismatchFailsBeforeDevice(t *testing.T) {
	names := []string{"alice", "bob"}
	c := newCluster(t, clusterConfig{mode: config.ModeSecretShared, way: dataset.Vertical, algorithm: algo.Ridge, runtime: semi2k},
		names...)
	data := verticalSplit()
	data["bob"].X = dataset.SliceRows(data["bob"].X, 0, 99)

	results, errs := fitAll(c, names, data)
	for _, name := range names {
		var shape *protocol.PartitionShapeMismatchError
		require.True(t, errors.As(errs[name], &shape), "%s: %v", name, errs[name])
		assert.Equal(t, "bob", shape.Party)
		assert.Equal(t, StatusFatal, results[name].Status)
		assert.Equal(t, session.StateTerminated, c.dispatchers[name].State())
	}
	assert.Empty(t, c.tokens(t, c.dispatchers["alice"].SessionID()))
}

func TestMissingLabelsForSupervisedFit(t *testing.T) {
	names := []string{"alice", "bob"}
	c := newCluster(t, clusterConfig{mode: config.ModeSplitLearning, way: dataset.Vertical, algorithm: algo.Ridge}, names...)
	data := verticalSplit()
	data["alice"].Labels = nil

	_, errs := fitAll(c, names, data)
	for _, name := range names {
		require.Error(t, errs[name], name)
		assert.Contains(t, errs[name].Error(), "needs labels")
		assert.Equal(t, session.StateTerminated, c.dispatchers[name].State())
	}
}

func TestConcurrentCallIsRejected(t *testing.T) {
	c := newCluster(t, clusterConfig{
		mode:      config.ModeSecretShared,
		way:       dataset.Vertical,
		algorithm: algo.Ridge,
		runtime:   semi2k,
		timeout:   5 * time.Second,
	}, "alice", "bob")
	data := verticalSplit()
	d := c.dispatchers["alice"]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := d.Fit(ctx, data["alice"], data["alice"].Labels, algo.DefaultOptions())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return d.State() == session.StateAwaitingRendezvous
	}, 2*time.Second, 5*time.Millisecond)

	_, err := d.Predict(context.Background(), data["alice"])
	var busy *protocol.SessionBusyError
	require.True(t, errors.As(err, &busy), "%v", err)
	assert.Equal(t, opPredict, busy.Attempted)

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("fit did not return after cancellation")
	}
	assert.Equal(t, session.StateTerminated, d.State())
}

func TestNewDispatcherRejectsIncompatibleConfiguration(t *testing.T) {
	tests := []struct {
		name string
		mode string
		way  dataset.Way
		algo algo.Name
	}{
		{"federated vertical", config.ModeFederated, dataset.Vertical, algo.Ridge},
		{"split learning horizontal", config.ModeSplitLearning, dataset.Horizontal, algo.Ridge},
		{"unknown way", config.ModeSecretShared, dataset.Way("DIAGONAL"), algo.Ridge},
		{"unknown algorithm", config.ModeSecretShared, dataset.Vertical, algo.Name("forest")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book, err := party.Resolve(config.Cluster{
				Parties: map[string]config.PartyEndpoint{
					"alice": {Address: "localhost:9494"},
					"bob":   {Address: "localhost:9495"},
				},
				SelfParty: "alice",
			})
			require.NoError(t, err)
			m, err := session.NewManager(session.Config{
				Mode:       tt.mode,
				Book:       book,
				Runtime:    semi2k,
				Rendezvous: rendezvous.New(rendezvous.NewMemoryMedium(), rendezvous.DefaultConfig()),
				Messenger:  transport.NewMemoryNetwork("alice", "bob").Messenger("alice"),
			})
			require.NoError(t, err)

			_, err = NewDispatcher(Config{Manager: m, Way: tt.way, Algorithm: tt.algo})
			var cfgErr *protocol.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "%v", err)
		})
	}
}

func TestSecretSharedSumBeyondRingFailsEveryParty(t *testing.T) {
	names := []string{"alice", "bob"}
	rt := device.RuntimeConfig{Protocol: device.ProtocolSEMI2K, Field: device.FieldFM32, FxpFractionBits: 18}
	c := newCluster(t, clusterConfig{mode: config.ModeSecretShared, way: dataset.Horizontal, algorithm: algo.Ridge, runtime: rt},
		names...)
	// 每方 5000 行，行数统计量已超过两方在 FM32/18 上可求和的 ±4096
	data, _, _ := horizontalSplit(10000, 2, names)

	results, errs := fitAll(c, names, data)
	for _, name := range names {
		require.Error(t, errs[name], name)
		assert.True(t, errors.Is(errs[name], device.ErrOutOfRange), "%s: %v", name, errs[name])
		assert.Equal(t, StatusFatal, results[name].Status)
		assert.False(t, results[name].HasPayload())
		assert.Equal(t, session.StateTerminated, c.dispatchers[name].State())
	}
	assert.Empty(t, c.tokens(t, c.dispatchers["alice"].SessionID()))
}

func TestSecretSharedSumWithinRingOnSmallField(t *testing.T) {
	names := []string{"alice", "bob"}
	rt := device.RuntimeConfig{Protocol: device.ProtocolSEMI2K, Field: device.FieldFM32, FxpFractionBits: 18}
	c := newCluster(t, clusterConfig{mode: config.ModeSecretShared, way: dataset.Horizontal, algorithm: algo.ZScore, runtime: rt},
		names...)
	data, x, _ := horizontalSplit(40, 2, names)
	for _, local := range data {
		local.Labels = nil
	}

	results, errs := fitAll(c, names, data)
	require.NoError(t, errs["alice"])
	require.NoError(t, errs["bob"])
	model, ok := results["alice"].Payload.(*Model)
	require.True(t, ok)

	a, err := algo.Lookup(algo.ZScore)
	require.NoError(t, err)
	want, err := algo.Fit(a, x, nil, algo.Options{})
	require.NoError(t, err)
	for j := range want.Mean {
		assert.InDelta(t, want.Mean[j], model.Params.Mean[j], 1e-2)
	}
	c.teardown(t)
}

func TestCancelDuringFitTearsDownEveryParty(t *testing.T) {
	names := []string{"alice", "bob"}
	c := newCluster(t, clusterConfig{mode: config.ModeSplitLearning, way: dataset.Vertical, algorithm: algo.Ridge}, names...)
	data := verticalSplit()
	opts := algo.DefaultOptions()
	opts.Epochs = 1_000_000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for c.dispatchers["alice"].State() != session.StateFitting && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	results, errs := c.run(names, func(name string, d *Dispatcher) (*Result, error) {
		runCtx := context.Background()
		if name == "alice" {
			runCtx = ctx
		}
		local := data[name]
		return d.Fit(runCtx, local, local.Labels, opts)
	})

	assert.True(t, errors.Is(errs["alice"], context.Canceled), "%v", errs["alice"])
	require.Error(t, errs["bob"])
	assert.Contains(t, errs["bob"].Error(), "authority alice failed")
	for _, name := range names {
		assert.Equal(t, StatusFatal, results[name].Status)
		assert.Equal(t, session.StateTerminated, c.dispatchers[name].State())
	}
	assert.Empty(t, c.tokens(t, c.dispatchers["alice"].SessionID()))
}

func TestAuthorityVerdictReplacesOutOfStep(t *testing.T) {
	c := &Call{Self: "bob", Authority: "alice"}
	body := []byte(`{"error":"failed to solve model: singular"}`)

	err := authorityVerdict(c, errors.Wrap(&transport.OutOfStepError{From: "alice", Expected: "publish/model", Got: kindOutcome, Body: body}, "publish"))
	require.Error(t, err)
	assert.Equal(t, "authority alice failed: failed to solve model: singular", err.Error())

	other := &transport.OutOfStepError{From: "carol", Expected: "publish/model", Got: kindOutcome, Body: body}
	assert.Equal(t, other, authorityVerdict(c, other))

	c.Self = "alice"
	own := &transport.OutOfStepError{From: "alice", Got: kindOutcome, Body: body}
	assert.Equal(t, own, authorityVerdict(c, own))
}

func TestFitRejectsInvalidOptions(t *testing.T) {
	c := newCluster(t, clusterConfig{mode: config.ModeSplitLearning, way: dataset.Vertical, algorithm: algo.Ridge}, "alice", "bob")
	data := verticalSplit()
	d := c.dispatchers["alice"]

	for _, opts := range []algo.Options{
		{Alpha: 1e-3, Epochs: 0, LearningRate: 0.1},
		{Alpha: 1e-3, Epochs: 10, LearningRate: 0},
		{Alpha: 1e-3, Epochs: -1, LearningRate: -0.5},
	} {
		result, err := d.Fit(context.Background(), data["alice"], data["alice"].Labels, opts)
		require.Error(t, err)
		var cfgErr *protocol.ConfigurationError
		require.True(t, errors.As(err, &cfgErr), "%v", err)
		assert.Equal(t, "alice", cfgErr.Party)
		assert.Nil(t, result)
		assert.Equal(t, session.StateIdle, d.State())
	}
	assert.Empty(t, c.tokens(t, d.SessionID()))
}
