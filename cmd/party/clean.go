package party

import (
	"context"

	"github.com/kashguard/go-secret-learn/internal/config"
	mpcparty "github.com/kashguard/go-secret-learn/internal/mpc/party"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/util/command"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove readiness tokens and queued messages left behind by an aborted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return clean(cmd.Context(), o)
		},
	}
	o.bindSession(cmd)
	cmd.Flags().StringVarP(&o.self, "party", "p", "", "Name of this party (overrides self_party)")
	return cmd
}

// clean 删除会话在共享介质上的全部就绪信号，并清空发往本方的消息队列
func clean(ctx context.Context, o *options) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	command.SetupLogger(cfg.Logger)

	book, err := mpcparty.Resolve(cfg.Cluster)
	if err != nil {
		return err
	}
	if cfg.Rendezvous.Medium == config.MediumGRPC || cfg.Rendezvous.Medium == config.MediumMemory {
		return protocol.NewConfigurationError(book.Self().Name,
			"rendezvous medium %q keeps tokens in process memory, nothing to clean", cfg.Rendezvous.Medium)
	}
	sessionID := sessionIDFor(cfg, book)

	res, err := openResources(ctx, cfg, book, sessionID)
	if err != nil {
		return err
	}
	defer res.close()

	tokens, err := res.medium.List(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if err := res.medium.Delete(ctx, t.SessionID, t.Phase, t.PartyName); err != nil {
			return err
		}
	}
	for _, cleanup := range res.cleanup {
		if err := cleanup(ctx); err != nil {
			return err
		}
	}

	log.Info().
		Str("session_id", sessionID).
		Str("party", book.Self().Name).
		Int("tokens", len(tokens)).
		Msg("Session cleaned")
	return nil
}
