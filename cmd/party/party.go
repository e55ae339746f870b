package party

import (
	"github.com/kashguard/go-secret-learn/internal/util/command"
	"github.com/spf13/cobra"
)

// New party 子命令组
func New() *cobra.Command {
	return command.NewSubcommandGroup("party",
		newRunCmd(),
		newSimulateCmd(),
		newCleanCmd(),
	)
}
