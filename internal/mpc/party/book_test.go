package party

import (
	"testing"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threePartyCluster(self string) config.Cluster {
	return config.Cluster{
		Parties: map[string]config.PartyEndpoint{
			"alice": {Address: "localhost:9497", ListenAddr: "0.0.0.0:9497"},
			"bob":   {Address: "localhost:9498", ListenAddr: "0.0.0.0:9498"},
			"carol": {Address: "localhost:9499", ListenAddr: "0.0.0.0:9499"},
		},
		SelfParty: self,
	}
}

func TestResolve(t *testing.T) {
	book, err := Resolve(threePartyCluster("bob"))
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob", "carol"}, book.Names())
	assert.Equal(t, "bob", book.Self().Name)
	assert.Equal(t, RoleParticipant, book.Self().Role)

	// 未显式配置协调方时，名称排序第一的参与方为协调方
	assert.Equal(t, "alice", book.Coordinator().Name)
	assert.True(t, book.Coordinator().IsCoordinator())

	peers := book.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "alice", peers[0].Name)
	assert.Equal(t, "carol", peers[1].Name)

	p, ok := book.Lookup("carol")
	require.True(t, ok)
	assert.Equal(t, "localhost:9499", p.Address)
	assert.Equal(t, 2, book.Index("carol"))
	assert.Equal(t, -1, book.Index("mallory"))
}

func TestResolve_ExplicitCoordinator(t *testing.T) {
	cluster := threePartyCluster("alice")
	cluster.Coordinator = "carol"

	book, err := Resolve(cluster)
	require.NoError(t, err)
	assert.Equal(t, "carol", book.Coordinator().Name)
	assert.Equal(t, RoleParticipant, book.Self().Role)
}

func TestResolve_Deterministic(t *testing.T) {
	first, err := Resolve(threePartyCluster("carol"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Resolve(threePartyCluster("carol"))
		require.NoError(t, err)
		assert.Equal(t, first.Parties(), again.Parties())
	}
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *config.Cluster)
	}{
		{"missing address", func(c *config.Cluster) {
			c.Parties["bob"] = config.PartyEndpoint{}
		}},
		{"malformed address", func(c *config.Cluster) {
			c.Parties["bob"] = config.PartyEndpoint{Address: "bob-without-port"}
		}},
		{"duplicate address", func(c *config.Cluster) {
			c.Parties["bob"] = config.PartyEndpoint{Address: "localhost:9497"}
		}},
		{"duplicate address via loopback alias", func(c *config.Cluster) {
			c.Parties["bob"] = config.PartyEndpoint{Address: "127.0.0.1:9497"}
		}},
		{"self absent", func(c *config.Cluster) {
			c.SelfParty = "mallory"
		}},
		{"coordinator absent", func(c *config.Cluster) {
			c.Coordinator = "mallory"
		}},
		{"no parties", func(c *config.Cluster) {
			c.Parties = nil
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cluster := threePartyCluster("alice")
			tc.mutate(&cluster)

			book, err := Resolve(cluster)
			assert.Nil(t, book)
			require.Error(t, err)
			assert.Equal(t, protocol.ErrTypeConfiguration, protocol.TypeOf(err))
		})
	}
}

func TestBook_ForSelf(t *testing.T) {
	book, err := Resolve(threePartyCluster("alice"))
	require.NoError(t, err)

	bob, err := book.ForSelf("bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", bob.Self().Name)
	assert.Equal(t, "alice", book.Self().Name)

	_, err = book.ForSelf("mallory")
	assert.Error(t, err)
}
