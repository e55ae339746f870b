package cert

import (
	"sort"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/util/cert"
	"github.com/kashguard/go-secret-learn/internal/util/command"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("cert",
		newGenCmd(),
	)
}

func newGenCmd() *cobra.Command {
	var (
		outDir     string
		configPath string
		parties    []string
		hosts      []string
	)

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a development CA and one mTLS certificate per party",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := partyNames(configPath, parties)
			if err != nil {
				return err
			}
			if err := cert.Generate(outDir, names, hosts); err != nil {
				return err
			}
			log.Info().Str("dir", outDir).Strs("parties", names).Msg("Certificates generated")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "certs", "Output directory for certificates")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Take party names from this cluster config")
	cmd.Flags().StringSliceVar(&parties, "party", nil, "Party names (certificate CN), overrides --config")
	cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1"}, "Extra hostnames/IPs added to every party certificate")

	return cmd
}

func partyNames(configPath string, parties []string) ([]string, error) {
	if len(parties) > 0 {
		return parties, nil
	}
	if configPath == "" {
		return nil, protocol.NewConfigurationError("", "either --party or --config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, protocol.NewConfigurationError("", "%v", err)
	}
	names := make([]string, 0, len(cfg.Parties))
	for name := range cfg.Parties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
