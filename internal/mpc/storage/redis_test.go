package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisMedium_PublishIsWriteOnce(t *testing.T) {
	mr, client := newTestClient(t)
	medium := NewRedisMedium(client, time.Minute)
	ctx := context.Background()

	first := rendezvous.Token{SessionID: "s1", PartyName: "alice", Phase: rendezvous.PhaseReady, Digest: "d1"}
	require.NoError(t, medium.Publish(ctx, first))

	second := first
	second.Digest = "d2"
	require.NoError(t, medium.Publish(ctx, second))

	got, err := medium.Lookup(ctx, "s1", rendezvous.PhaseReady, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.Digest)

	assert.True(t, mr.Exists("slearn:ready:s1:ready:alice"))
	assert.Equal(t, time.Minute, mr.TTL("slearn:ready:s1:ready:alice"))
}

func TestRedisMedium_LookupListDelete(t *testing.T) {
	mr, client := newTestClient(t)
	medium := NewRedisMedium(client, 0)
	ctx := context.Background()

	missing, err := medium.Lookup(ctx, "s1", rendezvous.PhaseReady, "bob")
	require.NoError(t, err)
	assert.Nil(t, missing)

	for _, tk := range []rendezvous.Token{
		{SessionID: "s1", PartyName: "bob", Phase: rendezvous.PhaseReady},
		{SessionID: "s1", PartyName: "alice", Phase: rendezvous.PhaseReady},
		{SessionID: "s1", PartyName: "alice", Phase: rendezvous.PhaseProceed},
		{SessionID: "s2", PartyName: "alice", Phase: rendezvous.PhaseReady},
	} {
		require.NoError(t, medium.Publish(ctx, tk))
	}

	tokens, err := medium.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, rendezvous.PhaseProceed, tokens[0].Phase)
	assert.Equal(t, "alice", tokens[1].PartyName)
	assert.Equal(t, "bob", tokens[2].PartyName)

	require.NoError(t, medium.Delete(ctx, "s1", rendezvous.PhaseReady, "bob"))
	require.NoError(t, medium.Delete(ctx, "s1", rendezvous.PhaseReady, "bob"))
	assert.False(t, mr.Exists("slearn:ready:s1:ready:bob"))

	// TTL 到期后信号自动消失
	mr.FastForward(DefaultTokenTTL + time.Second)
	tokens, err = medium.List(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestRedisMedium_BarrierAcrossParties(t *testing.T) {
	_, client := newTestClient(t)
	medium := NewRedisMedium(client, 0)

	cfg := rendezvous.Config{PollInterval: 20 * time.Millisecond, Timeout: 2 * time.Second, Acknowledge: true}
	expected := []string{"alice", "bob"}

	g, ctx := errgroup.WithContext(context.Background())
	for _, m := range []rendezvous.Member{{Name: "alice", Coordinator: true}, {Name: "bob"}} {
		m := m
		g.Go(func() error {
			_, err := rendezvous.New(medium, cfg).Barrier(ctx, "s1", m, "", expected)
			return err
		})
	}
	require.NoError(t, g.Wait())

	rv := rendezvous.New(medium, cfg)
	require.NoError(t, rv.Clear(context.Background(), "s1", rendezvous.Member{Name: "alice", Coordinator: true}, expected))

	tokens, err := medium.List(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestRedisQueue_SendReceive(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	alice := NewRedisQueue(client, "s1", "alice")
	bob := NewRedisQueue(client, "s1", "bob")

	require.NoError(t, bob.Send(ctx, "alice", []byte("first")))
	require.NoError(t, bob.Send(ctx, "alice", []byte("second")))

	msg, err := alice.Receive(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "first", string(msg))
	msg, err = alice.Receive(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "second", string(msg))

	require.NoError(t, transport.SendJSON(ctx, alice, "bob", "verdict", map[string]bool{"ok": true}))
	var verdict map[string]bool
	require.NoError(t, transport.ReceiveJSON(ctx, bob, "alice", "verdict", &verdict))
	assert.True(t, verdict["ok"])

	assert.Error(t, alice.Send(ctx, "alice", nil))
}

func TestRedisQueue_ReceiveHonoursContext(t *testing.T) {
	_, client := newTestClient(t)
	alice := NewRedisQueue(client, "s1", "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := alice.Receive(ctx, "bob")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRedisQueue_Purge(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	alice := NewRedisQueue(client, "s1", "alice")
	bob := NewRedisQueue(client, "s1", "bob")
	require.NoError(t, alice.Send(ctx, "bob", []byte("x")))
	require.NoError(t, bob.Send(ctx, "alice", []byte("y")))

	require.NoError(t, alice.Purge(ctx, []string{"alice", "bob"}))
	assert.True(t, mr.Exists("slearn:msg:s1:alice:bob"))
	assert.False(t, mr.Exists("slearn:msg:s1:bob:alice"))

	require.NoError(t, bob.Purge(ctx, []string{"alice", "bob"}))
	assert.False(t, mr.Exists("slearn:msg:s1:alice:bob"))
}
