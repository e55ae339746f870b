package protocol

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrorType 错误分类，决定传播策略与进程退出码
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConfiguration
	ErrTypeRendezvousTimeout
	ErrTypePartitionShapeMismatch
	ErrTypeMultipleLabelOwners
	ErrTypeDeviceCreation
	ErrTypeInvalidStateTransition
	ErrTypeSessionBusy
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeConfiguration:
		return "CONFIGURATION"
	case ErrTypeRendezvousTimeout:
		return "RENDEZVOUS_TIMEOUT"
	case ErrTypePartitionShapeMismatch:
		return "PARTITION_SHAPE_MISMATCH"
	case ErrTypeMultipleLabelOwners:
		return "MULTIPLE_LABEL_OWNERS"
	case ErrTypeDeviceCreation:
		return "DEVICE_CREATION"
	case ErrTypeInvalidStateTransition:
		return "INVALID_STATE_TRANSITION"
	case ErrTypeSessionBusy:
		return "SESSION_BUSY"
	default:
		return "UNKNOWN"
	}
}

// Typed is implemented by every error of the taxonomy.
type Typed interface {
	error
	Type() ErrorType
}

// TypeOf returns the taxonomy type of err, looking through wrapping.
func TypeOf(err error) ErrorType {
	var typed Typed
	if errors.As(err, &typed) {
		return typed.Type()
	}
	return ErrTypeUnknown
}

// IsFatal reports whether err ends the current session. Only SessionBusy is
// recoverable: the caller may retry once the in-flight call completes.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return TypeOf(err) != ErrTypeSessionBusy
}

// ConfigurationError 参与方配置不完整或不一致
type ConfigurationError struct {
	Message string
	Party   string
}

func (e *ConfigurationError) Error() string {
	if e.Party != "" {
		return fmt.Sprintf("[%s] %s (party: %s)", e.Type(), e.Message, e.Party)
	}
	return fmt.Sprintf("[%s] %s", e.Type(), e.Message)
}

func (e *ConfigurationError) Type() ErrorType { return ErrTypeConfiguration }

// NewConfigurationError creates a configuration error
func NewConfigurationError(party string, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...), Party: party}
}

// RendezvousTimeoutError 等待参与方就绪超时
type RendezvousTimeoutError struct {
	SessionID string
	Phase     string
	Missing   []string
	Waited    time.Duration
}

func (e *RendezvousTimeoutError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] parties not ready after %s", e.Type(), e.Waited.Round(time.Millisecond)))
	if len(e.Missing) > 0 {
		sb.WriteString(fmt.Sprintf(" (missing: %v)", e.Missing))
	}
	if e.Phase != "" {
		sb.WriteString(fmt.Sprintf(" [phase: %s]", e.Phase))
	}
	if e.SessionID != "" {
		sb.WriteString(fmt.Sprintf(" [session: %s]", e.SessionID))
	}
	return sb.String()
}

func (e *RendezvousTimeoutError) Type() ErrorType { return ErrTypeRendezvousTimeout }

// NewRendezvousTimeoutError creates a timeout error listing the parties never observed
func NewRendezvousTimeoutError(sessionID, phase string, missing []string, waited time.Duration) *RendezvousTimeoutError {
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	return &RendezvousTimeoutError{SessionID: sessionID, Phase: phase, Missing: sorted, Waited: waited}
}

// PartitionShapeMismatchError 分区形状与约定不一致
type PartitionShapeMismatchError struct {
	Party    string
	Expected string
	Actual   string
}

func (e *PartitionShapeMismatchError) Error() string {
	return fmt.Sprintf("[%s] expected %s, got %s (party: %s)", e.Type(), e.Expected, e.Actual, e.Party)
}

func (e *PartitionShapeMismatchError) Type() ErrorType { return ErrTypePartitionShapeMismatch }

// NewPartitionShapeMismatchError creates a shape mismatch error
func NewPartitionShapeMismatchError(party, expected, actual string) *PartitionShapeMismatchError {
	return &PartitionShapeMismatchError{Party: party, Expected: expected, Actual: actual}
}

// MultipleLabelOwnersError 纵向切分下存在多个标签持有方
type MultipleLabelOwnersError struct {
	Owners []string
}

func (e *MultipleLabelOwnersError) Error() string {
	return fmt.Sprintf("[%s] at most one party may hold labels under vertical partitioning (owners: %v)", e.Type(), e.Owners)
}

func (e *MultipleLabelOwnersError) Type() ErrorType { return ErrTypeMultipleLabelOwners }

// DeviceCreationError 安全计算设备构造失败
type DeviceCreationError struct {
	SessionID string
	Cause     error
}

func (e *DeviceCreationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] secure device construction refused", e.Type()))
	if e.SessionID != "" {
		sb.WriteString(fmt.Sprintf(" [session: %s]", e.SessionID))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}
	return sb.String()
}

func (e *DeviceCreationError) Type() ErrorType { return ErrTypeDeviceCreation }

func (e *DeviceCreationError) Unwrap() error { return e.Cause }

// NewDeviceCreationError creates a device creation error
func NewDeviceCreationError(sessionID string, cause error) *DeviceCreationError {
	return &DeviceCreationError{SessionID: sessionID, Cause: cause}
}

// InvalidStateTransitionError 非法的状态迁移（调用方使用错误）
type InvalidStateTransitionError struct {
	From      string
	Attempted string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("[%s] cannot %s from state %s", e.Type(), e.Attempted, e.From)
}

func (e *InvalidStateTransitionError) Type() ErrorType { return ErrTypeInvalidStateTransition }

// NewInvalidStateTransitionError creates an invalid transition error
func NewInvalidStateTransitionError(from, attempted string) *InvalidStateTransitionError {
	return &InvalidStateTransitionError{From: from, Attempted: attempted}
}

// SessionBusyError 会话已有调用在执行
type SessionBusyError struct {
	SessionID string
	Attempted string
}

func (e *SessionBusyError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("[%s] %s rejected: another call is in flight [session: %s]", e.Type(), e.Attempted, e.SessionID)
	}
	return fmt.Sprintf("[%s] %s rejected: another call is in flight", e.Type(), e.Attempted)
}

func (e *SessionBusyError) Type() ErrorType { return ErrTypeSessionBusy }

// NewSessionBusyError creates a busy error for the rejected call
func NewSessionBusyError(sessionID, attempted string) *SessionBusyError {
	return &SessionBusyError{SessionID: sessionID, Attempted: attempted}
}
