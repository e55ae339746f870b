package estimator

import (
	"context"
	"fmt"

	"github.com/kashguard/go-secret-learn/internal/mpc/algo"
	"github.com/kashguard/go-secret-learn/internal/mpc/dataset"
	"github.com/kashguard/go-secret-learn/internal/mpc/device"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
)

// Status 调用结果状态
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusPartialFailure Status = "PartialFailure"
	StatusFatal          Status = "Fatal"
)

// Payload 结果载荷，类型随模式与操作而定
type Payload interface {
	Kind() string
}

// Model 训练得到的完整模型，只交给权威方
type Model struct {
	Mode   string       `json:"mode"`
	Way    dataset.Way  `json:"way"`
	Params *algo.Params `json:"params"`
	Owners []string     `json:"owners"`
	Rows   int          `json:"rows"`
}

func (*Model) Kind() string { return "model" }

// Prediction 全体样本的预测值（HORIZONTAL 下按参与方顺序拼接）
type Prediction struct {
	Values []float64 `json:"values"`
}

func (*Prediction) Kind() string { return "prediction" }

// Len 预测值个数
func (p *Prediction) Len() int {
	return len(p.Values)
}

type noPayload struct{}

func (noPayload) Kind() string { return "none" }

// NoPayload 非权威方完成参与后得到的空载荷
var NoPayload Payload = noPayload{}

// Result 一次 fit/predict 的结果，由调用方持有
type Result struct {
	Status      Status
	Payload     Payload
	Diagnostics []string
}

// HasPayload 是否携带非空载荷
func (r *Result) HasPayload() bool {
	return r != nil && r.Payload != nil && r.Payload != NoPayload
}

// Call 一次调用在策略内共享的上下文
type Call struct {
	Self        string
	Coordinator string
	Authority   string
	Parties     []string
	Messenger   transport.Messenger
	Device      device.Handle
	Algorithm   algo.Algorithm
	Options     algo.Options
	Layout      *dataset.PartitionedDataset
	Local       *dataset.Local
	Diagnostics []string
}

// IsAuthority 本方是否为权威方
func (c *Call) IsAuthority() bool {
	return c.Self == c.Authority
}

// Peers 除本方外的参与方
func (c *Call) Peers() []string {
	peers := make([]string, 0, len(c.Parties))
	for _, p := range c.Parties {
		if p != c.Self {
			peers = append(peers, p)
		}
	}
	return peers
}

// Note 追加一条诊断信息
func (c *Call) Note(format string, args ...interface{}) {
	c.Diagnostics = append(c.Diagnostics, fmt.Sprintf(format, args...))
}

// Strategy 模式相关的执行策略（ExecutionStrategy），持有本方训练后的状态
// 所有参与方以相同顺序调用 Fit/Predict，策略内部的收发顺序在各方之间一致
type Strategy interface {
	Mode() string
	// Authority 本次调用中持有权威结果的参与方
	Authority(c *Call) string
	Fit(ctx context.Context, c *Call) (Payload, error)
	Predict(ctx context.Context, c *Call) (Payload, error)
}
