package party

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/kashguard/go-secret-learn/internal/config"
	mpcparty "github.com/kashguard/go-secret-learn/internal/mpc/party"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/mpc/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisServerConfig(t *testing.T, addr string) (config.Server, *mpcparty.Book) {
	t.Helper()
	cluster := config.Cluster{
		Parties: map[string]config.PartyEndpoint{
			"alice": {Address: "localhost:9494"},
			"bob":   {Address: "localhost:9495"},
		},
		SelfParty: "alice",
	}
	book, err := mpcparty.Resolve(cluster)
	require.NoError(t, err)
	return config.Server{
		Cluster:    cluster,
		Rendezvous: config.Rendezvous{Medium: config.MediumFile, Dir: t.TempDir()},
		Transport:  config.Transport{Kind: config.TransportRedis, RedisAddr: addr},
	}, book
}

func TestOpenResourcesDropsStaleInboundMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	cfg, book := redisServerConfig(t, mr.Addr())
	bob := storage.NewRedisQueue(client, "derived-session", "bob")
	require.NoError(t, bob.Send(ctx, "alice", []byte(`{"kind":"outcome","body":{"error":"earlier run"}}`)))

	res, err := openResources(ctx, cfg, book, "derived-session")
	require.NoError(t, err)
	defer res.close()
	require.NotNil(t, res.medium)

	require.NoError(t, bob.Send(ctx, "alice", []byte("fresh")))
	got, err := res.messenger.Receive(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))

	// 本方发出但尚未被读取的消息不受影响
	require.NoError(t, res.messenger.Send(ctx, "bob", []byte("outbound")))
	got, err = bob.Receive(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "outbound", string(got))
}

func TestOpenResourcesRejectsSimulateOnlyMedia(t *testing.T) {
	cfg, book := redisServerConfig(t, "")
	cfg.Rendezvous.Medium = config.MediumMemory

	_, err := openResources(context.Background(), cfg, book, "s")
	require.Error(t, err)
	var cfgErr *protocol.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "party simulate")
}
