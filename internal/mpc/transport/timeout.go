package transport

import (
	"context"
	"time"
)

// WithReceiveTimeout 为每次 Receive 加上等待上限，d <= 0 时原样返回 m
// 超时后返回 context.DeadlineExceeded，对端失联不会使本方无限阻塞
func WithReceiveTimeout(m Messenger, d time.Duration) Messenger {
	if d <= 0 {
		return m
	}
	return &timeoutMessenger{Messenger: m, timeout: d}
}

type timeoutMessenger struct {
	Messenger
	timeout time.Duration
}

func (t *timeoutMessenger) Receive(ctx context.Context, from string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Messenger.Receive(ctx, from)
}
