package party

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kashguard/go-secret-learn/internal/config"
	mpcparty "github.com/kashguard/go-secret-learn/internal/mpc/party"
	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/kashguard/go-secret-learn/internal/util/command"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// simulatePoll 同进程内信号立即可见，轮询间隔不必取配置值
const simulatePoll = 20 * time.Millisecond

func newSimulateCmd() *cobra.Command {
	o := &options{}
	var parties []string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run every party of the cluster in this process over in-memory channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return simulate(cmd.Context(), o, parties)
		},
	}
	o.bindSession(cmd)
	o.bindEstimator(cmd)
	cmd.Flags().StringSliceVar(&parties, "parties", []string{"alice", "bob"},
		"Party names to simulate when the config lists no parties")
	return cmd
}

// simulate 用内存介质与内存消息通道在同一进程内运行全部参与方
// --output 指定时每方写入 <output>-<party>.json
func simulate(ctx context.Context, o *options, parties []string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	command.SetupLogger(cfg.Logger)

	cluster := simulatedCluster(cfg, parties)
	book, err := mpcparty.Resolve(cluster)
	if err != nil {
		return err
	}
	if cfg.Rendezvous.PollInterval > simulatePoll {
		cfg.Rendezvous.PollInterval = simulatePoll
	}
	cfg.Rendezvous.Grace = 0
	cfg.Rendezvous.Medium = config.MediumMemory
	cfg.Transport.Kind = config.TransportMemory

	sessionID := sessionIDFor(cfg, book)
	names := book.Names()
	medium := rendezvous.NewMemoryMedium()
	network := transport.NewMemoryNetwork(names...)

	log.Info().
		Str("session_id", sessionID).
		Str("mode", cfg.Mode).
		Strs("parties", names).
		Msg("Simulating session")

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		view, err := book.ForSelf(name)
		if err != nil {
			return err
		}
		local, err := loadLocal(o, names, name, book.Coordinator().Name)
		if err != nil {
			return err
		}
		res := &resources{medium: medium, messenger: network.Messenger(name)}
		n, err := newNode(cfg, view, sessionID, res, o)
		if err != nil {
			return err
		}
		output := reportPath(o.output, name)
		g.Go(func() error {
			return n.execute(gctx, local, o, output)
		})
	}
	return g.Wait()
}

// simulatedCluster 配置未列出参与方时按名称生成回环地址
func simulatedCluster(cfg config.Server, names []string) config.Cluster {
	cluster := cfg.Cluster
	if len(cluster.Parties) == 0 {
		base := config.DefaultBasePorts[cfg.Mode]
		cluster.Parties = make(map[string]config.PartyEndpoint, len(names))
		for i, name := range names {
			cluster.Parties[name] = config.PartyEndpoint{Address: fmt.Sprintf("localhost:%d", base+i)}
		}
	}
	if _, ok := cluster.Parties[cluster.SelfParty]; !ok {
		cluster.SelfParty = ""
		for name := range cluster.Parties {
			if cluster.SelfParty == "" || name < cluster.SelfParty {
				cluster.SelfParty = name
			}
		}
	}
	return cluster
}

func reportPath(output, party string) string {
	if output == "" {
		return ""
	}
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + "-" + party + ext
}
