package party

import (
	"context"

	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/pkg/errors"
)

// 进程退出码
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitRendezvous    = 3
	ExitDataContract  = 4
	ExitDevice        = 5
	ExitInterrupted   = 130
)

// ExitCode 按错误分类映射进程退出码
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	switch protocol.TypeOf(err) {
	case protocol.ErrTypeConfiguration:
		return ExitConfiguration
	case protocol.ErrTypeRendezvousTimeout:
		return ExitRendezvous
	case protocol.ErrTypePartitionShapeMismatch, protocol.ErrTypeMultipleLabelOwners:
		return ExitDataContract
	case protocol.ErrTypeDeviceCreation:
		return ExitDevice
	default:
		return ExitFailure
	}
}
