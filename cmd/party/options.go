package party

import (
	"strings"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/algo"
	"github.com/kashguard/go-secret-learn/internal/mpc/dataset"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/spf13/cobra"
)

// options party 子命令共用的参数
type options struct {
	configPath string
	self       string
	mode       string
	sessionID  string

	algorithm string
	way       string
	epochs    int
	alpha     float64
	rate      float64

	data          string
	labels        string
	syntheticRows int
	syntheticCols int
	seed          int64

	predict bool
	output  string
}

func (o *options) bindSession(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&o.configPath, "config", "c", "", "YAML config file (defaults and SLEARN_* env vars otherwise)")
	flags.StringVar(&o.mode, "mode", "", "Collaboration mode FL, SS or SL (overrides config)")
	flags.StringVar(&o.sessionID, "session", "", "Session id (derived from the cluster config when empty)")
}

func (o *options) bindEstimator(cmd *cobra.Command) {
	defaults := algo.DefaultOptions()
	flags := cmd.Flags()
	flags.StringVar(&o.algorithm, "algorithm", string(algo.Ridge), "Estimator: ridge or zscore")
	flags.StringVar(&o.way, "way", string(dataset.Vertical), "Partitioning: HORIZONTAL or VERTICAL")
	flags.IntVar(&o.epochs, "epochs", defaults.Epochs, "Gradient descent epochs for vertical supervised training")
	flags.Float64Var(&o.alpha, "alpha", defaults.Alpha, "L2 regularisation strength")
	flags.Float64Var(&o.rate, "learning-rate", defaults.LearningRate, "Gradient descent learning rate")

	flags.StringVar(&o.data, "data", "", "CSV file with a header row holding this party's partition")
	flags.StringVar(&o.labels, "labels", "", "Column of --data holding the labels")
	flags.IntVar(&o.syntheticRows, "synthetic-rows", 100, "Rows of the shared synthetic dataset when --data is empty")
	flags.IntVar(&o.syntheticCols, "synthetic-cols", 30, "Columns of the shared synthetic dataset")
	flags.Int64Var(&o.seed, "seed", 42, "Seed shared by all parties for the synthetic dataset")

	flags.BoolVar(&o.predict, "predict", true, "Predict on the same data after fitting")
	flags.StringVarP(&o.output, "output", "o", "", "Write the payload as JSON to this file")
}

func (o *options) algoOptions() algo.Options {
	return algo.Options{Alpha: o.alpha, Epochs: o.epochs, LearningRate: o.rate}
}

func (o *options) algorithmName() algo.Name {
	return algo.Name(strings.ToLower(o.algorithm))
}

func (o *options) partitionWay() dataset.Way {
	return dataset.Way(strings.ToUpper(o.way))
}

// loadConfig 读取配置并应用命令行覆盖项；任何错误都归为 ConfigurationError
func (o *options) loadConfig() (config.Server, error) {
	cfg := config.DefaultServiceConfigFromEnv()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return config.Server{}, protocol.NewConfigurationError(o.self, "%v", err)
		}
	}
	if o.self != "" {
		cfg.SelfParty = o.self
	}
	if o.mode != "" {
		cfg.Mode = o.mode
	}
	cfg.Mode = strings.ToUpper(cfg.Mode)
	if o.sessionID != "" {
		cfg.Session.ID = o.sessionID
	}
	if err := cfg.Validate(); err != nil {
		return config.Server{}, protocol.NewConfigurationError(cfg.SelfParty, "%v", err)
	}
	return cfg, nil
}
