package rendezvous

import (
	"context"
	"time"
)

// 屏障阶段
const (
	// PhaseReady 参与方已到达屏障
	PhaseReady = "ready"
	// PhaseProceed 参与方已观察到全部就绪信号，即将继续
	PhaseProceed = "proceed"
)

// Token 就绪信号（ReadinessToken）
type Token struct {
	SessionID string    `json:"session_id"`
	PartyName string    `json:"party_name"`
	Phase     string    `json:"phase"`
	Digest    string    `json:"digest,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Medium 就绪信号的共享可见介质
// 以 (session, phase, party) 为键，每个键只写一次
type Medium interface {
	// Publish 写入信号；键已存在时保持原值并返回 nil
	Publish(ctx context.Context, token Token) error
	// Lookup 读取信号；不存在时返回 (nil, nil)
	Lookup(ctx context.Context, sessionID, phase, party string) (*Token, error)
	// Delete 删除信号；不存在时返回 nil
	Delete(ctx context.Context, sessionID, phase, party string) error
	// List 列出会话下当前可见的全部信号
	List(ctx context.Context, sessionID string) ([]Token, error)
}

// Member 调用屏障的本方身份
type Member struct {
	Name        string
	Coordinator bool
}

// Observed AwaitAll 成功时观察到的信号集合
type Observed struct {
	SessionID string
	Phase     string
	Tokens    map[string]Token
	Waited    time.Duration
}

// Digests 按参与方返回信号中携带的配置摘要
func (o *Observed) Digests() map[string]string {
	digests := make(map[string]string, len(o.Tokens))
	for name, t := range o.Tokens {
		digests[name] = t.Digest
	}
	return digests
}

// Config 屏障参数
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Grace        time.Duration
	Acknowledge  bool
}

// DefaultConfig 默认参数：每秒轮询，30 秒超时，开启确认阶段
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		Timeout:      30 * time.Second,
		Grace:        time.Second,
		Acknowledge:  true,
	}
}
