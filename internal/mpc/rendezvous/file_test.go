package rendezvous

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMedium(t *testing.T) {
	dir := t.TempDir()
	medium, err := NewFileMedium(dir)
	require.NoError(t, err)
	ctx := context.Background()

	token := Token{SessionID: "session-1", PartyName: "alice", Phase: PhaseReady, Digest: "abc", IssuedAt: time.Now().UTC()}
	require.NoError(t, medium.Publish(ctx, token))

	_, err = os.Stat(filepath.Join(dir, "session-1.ready.alice.ready"))
	require.NoError(t, err)

	got, err := medium.Lookup(ctx, "session-1", PhaseReady, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Digest)
	assert.True(t, token.IssuedAt.Equal(got.IssuedAt))

	// 写一次：第二次发布不覆盖
	again := token
	again.Digest = "other"
	require.NoError(t, medium.Publish(ctx, again))
	got, err = medium.Lookup(ctx, "session-1", PhaseReady, "alice")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Digest)

	missing, err := medium.Lookup(ctx, "session-1", PhaseReady, "bob")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, medium.Publish(ctx, Token{SessionID: "session-1", PartyName: "bob", Phase: PhaseProceed}))
	require.NoError(t, medium.Publish(ctx, Token{SessionID: "session-10", PartyName: "bob", Phase: PhaseReady}))

	tokens, err := medium.List(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, PhaseProceed, tokens[0].Phase)
	assert.Equal(t, PhaseReady, tokens[1].Phase)

	require.NoError(t, medium.Delete(ctx, "session-1", PhaseReady, "alice"))
	require.NoError(t, medium.Delete(ctx, "session-1", PhaseReady, "alice"))
	tokens, err = medium.List(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, tokens, 1)

	// 临时文件不残留
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFileMedium_RejectsPathCharacters(t *testing.T) {
	medium, err := NewFileMedium(t.TempDir())
	require.NoError(t, err)

	err = medium.Publish(context.Background(), Token{SessionID: "../etc", PartyName: "alice", Phase: PhaseReady})
	assert.Error(t, err)

	err = medium.Publish(context.Background(), Token{SessionID: "s1", PartyName: "", Phase: PhaseReady})
	assert.Error(t, err)
}
