package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kashguard/go-secret-learn/cmd/cert"
	"github.com/kashguard/go-secret-learn/cmd/party"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	root := &cobra.Command{
		Use:           "slearn",
		Short:         "Multi-party federated, split and secret-shared learning",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		party.New(),
		cert.New(),
	)
	return root
}

// Execute 运行根命令；SIGINT/SIGTERM 取消 ctx，错误按分类映射为退出码
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := New().ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()

	if err == nil {
		return
	}
	code := party.ExitCode(err)
	if interrupted {
		code = party.ExitInterrupted
	}
	log.Error().
		Err(err).
		Str("error_type", protocol.TypeOf(err).String()).
		Int("exit_code", code).
		Msg("Command failed")
	os.Exit(code)
}
