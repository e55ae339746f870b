package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Messenger 参与方之间的点对点消息通道
// 同一有序参与方对 (from, to) 之间的消息按发送顺序到达
type Messenger interface {
	// Self 本方名称
	Self() string
	// Send 向 to 发送一条消息
	Send(ctx context.Context, to string, payload []byte) error
	// Receive 阻塞接收来自 from 的下一条消息，响应 ctx 取消
	Receive(ctx context.Context, from string) ([]byte, error)
}

// Envelope 带类型标签的消息，用于发现双方步调不一致
type Envelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// OutOfStepError 收到的消息标签与期望不一致；Body 保留对端实际发送的内容
type OutOfStepError struct {
	From     string
	Expected string
	Got      string
	Body     json.RawMessage
}

func (e *OutOfStepError) Error() string {
	return fmt.Sprintf("protocol out of step: expected %s from %s, got %s", e.Expected, e.From, e.Got)
}

// SendJSON 以 kind 标签发送 JSON 消息
func SendJSON(ctx context.Context, m Messenger, to, kind string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s message", kind)
	}
	data, err := json.Marshal(Envelope{Kind: kind, Body: body})
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}
	if err := m.Send(ctx, to, data); err != nil {
		return errors.Wrapf(err, "failed to send %s to %s", kind, to)
	}
	return nil
}

// ReceiveJSON 接收 from 的下一条消息，标签必须为 kind
func ReceiveJSON(ctx context.Context, m Messenger, from, kind string, v interface{}) error {
	data, err := m.Receive(ctx, from)
	if err != nil {
		return errors.Wrapf(err, "failed to receive %s from %s", kind, from)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.Wrap(err, "failed to unmarshal envelope")
	}
	if env.Kind != kind {
		return &OutOfStepError{From: from, Expected: kind, Got: env.Kind, Body: env.Body}
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(env.Body, v); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s message", kind)
	}
	return nil
}

// Broadcast 向 peers 逐一发送同一条 JSON 消息
func Broadcast(ctx context.Context, m Messenger, peers []string, kind string, v interface{}) error {
	for _, p := range peers {
		if p == m.Self() {
			continue
		}
		if err := SendJSON(ctx, m, p, kind, v); err != nil {
			return err
		}
	}
	return nil
}
