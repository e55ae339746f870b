package session

import (
	"time"

	"github.com/kashguard/go-secret-learn/internal/mpc/device"
	"github.com/kashguard/go-secret-learn/internal/mpc/party"
)

// State 会话状态
type State string

const (
	StateIdle               State = "Idle"
	StateAwaitingRendezvous State = "AwaitingRendezvous"
	StateDeviceReady        State = "DeviceReady"
	StateFitting            State = "Fitting"
	StateFitted             State = "Fitted"
	StatePredicting         State = "Predicting"
	StateFailed             State = "Failed"
	StateTerminated         State = "Terminated"
)

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == StateTerminated
}

// Session 单次运行的会话，进程内唯一，由 Manager 独占
type Session struct {
	ID           string
	Mode         string
	Parties      []party.Party
	Self         party.Party
	State        State
	Device       device.Handle
	CreatedAt    time.Time
	ExpiresAfter time.Duration
	// Cause 进入 Failed 的原因
	Cause error
}

// ExpiresAt 会话过期时间
func (s *Session) ExpiresAt() time.Time {
	return s.CreatedAt.Add(s.ExpiresAfter)
}

// PartyNames 参与方名称（协议顺序）
func (s *Session) PartyNames() []string {
	names := make([]string, len(s.Parties))
	for i, p := range s.Parties {
		names[i] = p.Name
	}
	return names
}

// canTransition 状态迁移表；任何状态都可经 teardown 进入 Terminated
func canTransition(current, next State) bool {
	if current == StateTerminated {
		return false
	}
	if next == StateTerminated {
		return true
	}
	switch current {
	case StateIdle:
		return next == StateAwaitingRendezvous || next == StateFailed
	case StateAwaitingRendezvous:
		return next == StateDeviceReady || next == StateFailed
	case StateDeviceReady:
		return next == StateFitting || next == StateFailed
	case StateFitting:
		return next == StateFitted || next == StateFailed
	case StateFitted:
		// 允许在同一会话上重新训练
		return next == StatePredicting || next == StateFitting || next == StateFailed
	case StatePredicting:
		return next == StateFitted || next == StateFailed
	case StateFailed:
		return false
	default:
		return false
	}
}
