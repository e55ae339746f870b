package party

import (
	"context"
	"time"

	"github.com/kashguard/go-secret-learn/internal/api"
	"github.com/kashguard/go-secret-learn/internal/api/handlers"
	mpcparty "github.com/kashguard/go-secret-learn/internal/mpc/party"
	"github.com/kashguard/go-secret-learn/internal/util/command"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join a session as one party: wait for every party, fit, then predict",
		Long: `Runs this process as one party of the configured cluster.

The party waits until every configured party signalled readiness, exchanges
partition layouts, constructs the compute device and then trains the selected
estimator. Only the authority party receives the model and predictions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runParty(cmd.Context(), o)
		},
	}
	o.bindSession(cmd)
	o.bindEstimator(cmd)
	cmd.Flags().StringVarP(&o.self, "party", "p", "", "Name of this party (overrides self_party)")
	return cmd
}

func runParty(ctx context.Context, o *options) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	command.SetupLogger(cfg.Logger)

	book, err := mpcparty.Resolve(cfg.Cluster)
	if err != nil {
		return err
	}
	self := book.Self().Name
	sessionID := sessionIDFor(cfg, book)

	local, err := loadLocal(o, book.Names(), self, book.Coordinator().Name)
	if err != nil {
		return err
	}

	res, err := openResources(ctx, cfg, book, sessionID)
	if err != nil {
		return err
	}
	defer res.close()

	n, err := newNode(cfg, book, sessionID, res, o)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		ops := api.NewServer(cfg, n.manager)
		handlers.AttachAllRoutes(ops)
		go func() {
			if err := ops.Start(); err != nil {
				log.Error().Err(err).Msg("Ops HTTP server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ops.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to stop ops HTTP server")
			}
		}()
	}

	log.Info().
		Str("session_id", sessionID).
		Str("party", self).
		Str("mode", cfg.Mode).
		Str("medium", cfg.Rendezvous.Medium).
		Str("transport", cfg.Transport.Kind).
		Msg("Party starting")
	return n.execute(ctx, local, o, o.output)
}
