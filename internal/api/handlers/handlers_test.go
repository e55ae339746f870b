package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kashguard/go-secret-learn/internal/api"
	"github.com/kashguard/go-secret-learn/internal/api/handlers"
	"github.com/kashguard/go-secret-learn/internal/api/handlers/sessions"
	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/party"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/mpc/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snap session.Session
}

func (f *fakeSource) Snapshot() session.Session { return f.snap }

func newTestServer(state session.State, cause error) *api.Server {
	alice := party.Party{Name: "alice", Address: "localhost:9494", Role: party.RoleCoordinator}
	bob := party.Party{Name: "bob", Address: "localhost:9495", Role: party.RoleParticipant}
	src := &fakeSource{snap: session.Session{
		ID:           "session-test",
		Mode:         config.ModeSecretShared,
		Parties:      []party.Party{alice, bob},
		Self:         alice,
		State:        state,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAfter: 10 * time.Minute,
		Cause:        cause,
	}}
	s := api.NewServer(config.Server{}, src)
	handlers.AttachAllRoutes(s)
	return s
}

func get(t *testing.T, s *api.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestReadyFollowsSessionState(t *testing.T) {
	tests := []struct {
		state session.State
		want  int
	}{
		{session.StateIdle, http.StatusOK},
		{session.StateFitted, http.StatusOK},
		{session.StateFailed, http.StatusServiceUnavailable},
		{session.StateTerminated, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := get(t, newTestServer(tt.state, nil), "/-/ready")
		assert.Equal(t, tt.want, rec.Code, tt.state)
	}

	rec := get(t, newTestServer(session.StateTerminated, nil), "/-/healthy")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(session.StateIdle, nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestGetSession(t *testing.T) {
	cause := protocol.NewRendezvousTimeoutError("session-test", "ready", []string{"bob"}, time.Second)
	rec := get(t, newTestServer(session.StateFailed, cause), "/api/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)

	var body sessions.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "session-test", body.SessionID)
	assert.Equal(t, "alice", body.Self)
	assert.True(t, body.Coordinator)
	assert.Equal(t, []string{"alice", "bob"}, body.Parties)
	assert.Equal(t, "Failed", body.State)
	assert.False(t, body.HasDevice)
	assert.Equal(t, protocol.ErrTypeRendezvousTimeout.String(), body.CauseType)
	assert.True(t, time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC).Equal(body.ExpiresAt))
}
