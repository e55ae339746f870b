package estimator

import (
	"context"

	"github.com/kashguard/go-secret-learn/internal/mpc/dataset"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
	"github.com/pkg/errors"
)

const (
	kindLayoutDeclare = "layout/declare"
	kindLayoutVerdict = "layout/verdict"
)

// contractError 可跨参与方传递的数据约定错误
type contractError struct {
	Type     string   `json:"type"`
	Party    string   `json:"party,omitempty"`
	Expected string   `json:"expected,omitempty"`
	Actual   string   `json:"actual,omitempty"`
	Owners   []string `json:"owners,omitempty"`
	Message  string   `json:"message"`
}

type declaration struct {
	Partition dataset.Partition `json:"partition"`
	Error     *contractError    `json:"error,omitempty"`
}

type verdict struct {
	Partitions map[string]dataset.Partition `json:"partitions,omitempty"`
	Error      *contractError               `json:"error,omitempty"`
}

func encodeContractError(err error) *contractError {
	if err == nil {
		return nil
	}
	ce := &contractError{Type: protocol.TypeOf(err).String(), Message: err.Error()}

	var shape *protocol.PartitionShapeMismatchError
	var owners *protocol.MultipleLabelOwnersError
	switch {
	case errors.As(err, &shape):
		ce.Party, ce.Expected, ce.Actual = shape.Party, shape.Expected, shape.Actual
	case errors.As(err, &owners):
		ce.Owners = owners.Owners
	}
	return ce
}

func (ce *contractError) decode() error {
	switch ce.Type {
	case protocol.ErrTypePartitionShapeMismatch.String():
		return protocol.NewPartitionShapeMismatchError(ce.Party, ce.Expected, ce.Actual)
	case protocol.ErrTypeMultipleLabelOwners.String():
		return &protocol.MultipleLabelOwnersError{Owners: ce.Owners}
	default:
		return errors.New(ce.Message)
	}
}

// exchangeLayout 交换分区元数据：参与方把本方分区声明发给协调方，协调方执行 Combine
// 并把结论广播给所有参与方，使各方在数据约定错误上以相同方式失败
// 只交换形状元数据，原始数据始终留在本方
func exchangeLayout(ctx context.Context, m transport.Messenger, coordinator string, parties []string,
	way dataset.Way, local *dataset.Local) (*dataset.PartitionedDataset, error) {
	self := m.Self()

	built, buildErr := dataset.Build(local, way)
	decl := declaration{Error: encodeContractError(buildErr)}
	if local != nil {
		decl.Partition = local.Partition(way)
	}

	var v verdict
	if self != coordinator {
		if err := transport.SendJSON(ctx, m, coordinator, kindLayoutDeclare, decl); err != nil {
			return nil, err
		}
		if err := transport.ReceiveJSON(ctx, m, coordinator, kindLayoutVerdict, &v); err != nil {
			return nil, err
		}
	} else {
		decls := map[string]declaration{self: decl}
		for _, p := range parties {
			if p == self {
				continue
			}
			var d declaration
			if err := transport.ReceiveJSON(ctx, m, p, kindLayoutDeclare, &d); err != nil {
				return nil, err
			}
			decls[p] = d
		}
		v = judge(way, parties, decls)
		if err := transport.Broadcast(ctx, m, parties, kindLayoutVerdict, v); err != nil {
			return nil, err
		}
	}

	if v.Error != nil {
		return nil, v.Error.decode()
	}

	combined, err := dataset.Combine(way, v.Partitions)
	if err != nil {
		return nil, errors.Wrap(err, "coordinator verdict does not combine")
	}
	if _, ok := combined.Partition(self); !ok {
		return nil, errors.Errorf("coordinator verdict has no partition for %s", self)
	}
	combined.Local = built.Local
	return combined, nil
}

// judge 协调方的裁决：先报告各方本地校验错误（按参与方顺序），再做整体校验
func judge(way dataset.Way, parties []string, decls map[string]declaration) verdict {
	partitions := make(map[string]dataset.Partition, len(parties))
	for _, p := range parties {
		d, ok := decls[p]
		if !ok {
			return verdict{Error: &contractError{Type: protocol.ErrTypeUnknown.String(), Message: "no declaration from " + p}}
		}
		if d.Error != nil {
			return verdict{Error: d.Error}
		}
		partitions[p] = d.Partition
	}
	if _, err := dataset.Combine(way, partitions); err != nil {
		return verdict{Error: encodeContractError(err)}
	}
	return verdict{Partitions: partitions}
}
