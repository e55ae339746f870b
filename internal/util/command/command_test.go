package command

import (
	"bytes"
	"testing"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubcommandGroup(t *testing.T) {
	called := false
	child := &cobra.Command{
		Use: "run",
		RunE: func(*cobra.Command, []string) error {
			called = true
			return nil
		},
	}
	group := NewSubcommandGroup("party", child)
	assert.Equal(t, "party <subcommand>", group.Use)

	group.SetArgs([]string{"run"})
	require.NoError(t, group.Execute())
	assert.True(t, called)
}

func TestSetupLoggerTo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	SetupLoggerTo(&buf, config.Logger{Level: "warn"})
	log.Info().Msg("hidden")
	log.Warn().Str("party", "alice").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"party":"alice"`)

	SetupLoggerTo(&buf, config.Logger{Level: "nonsense"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
