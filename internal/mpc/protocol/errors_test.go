package protocol

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOfLooksThroughWrapping(t *testing.T) {
	err := errors.Wrap(NewPartitionShapeMismatchError("bob", "100 rows", "99 rows"), "layout exchange")
	assert.Equal(t, ErrTypePartitionShapeMismatch, TypeOf(err))
	assert.Equal(t, ErrTypeUnknown, TypeOf(errors.New("plain")))
	assert.Equal(t, ErrTypeUnknown, TypeOf(nil))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(NewSessionBusyError("s", "fit")))
	assert.True(t, IsFatal(NewInvalidStateTransitionError("Idle", "predict")))
	assert.True(t, IsFatal(errors.New("network down")))
}

func TestRendezvousTimeoutErrorSortsMissing(t *testing.T) {
	err := NewRendezvousTimeoutError("session-1", "ready", []string{"carol", "bob"}, 1500*time.Millisecond)
	assert.Equal(t, []string{"bob", "carol"}, err.Missing)
	assert.Contains(t, err.Error(), "missing: [bob carol]")
	assert.Contains(t, err.Error(), "session-1")
	assert.Contains(t, err.Error(), "1.5s")
}

func TestDeviceCreationErrorUnwraps(t *testing.T) {
	cause := errors.New("digest mismatch")
	err := errors.Wrap(NewDeviceCreationError("session-1", cause), "start")

	var dce *DeviceCreationError
	require.True(t, errors.As(err, &dce))
	assert.Equal(t, "session-1", dce.SessionID)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "RENDEZVOUS_TIMEOUT", ErrTypeRendezvousTimeout.String())
}

func TestConfigurationErrorMessage(t *testing.T) {
	assert.Equal(t, "[CONFIGURATION] bad port (party: alice)", NewConfigurationError("alice", "bad %s", "port").Error())
	assert.Equal(t, "[CONFIGURATION] no parties", NewConfigurationError("", "no parties").Error())
}
