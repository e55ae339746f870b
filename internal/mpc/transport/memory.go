package transport

import (
	"container/list"
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryNetwork 进程内模拟网络，每个参与方一个 MemoryMessenger
type MemoryNetwork struct {
	members map[string]*MemoryMessenger
}

// NewMemoryNetwork 按名称创建互相连通的模拟网络
func NewMemoryNetwork(names ...string) *MemoryNetwork {
	n := &MemoryNetwork{members: make(map[string]*MemoryMessenger, len(names))}
	for _, name := range names {
		n.members[name] = &MemoryMessenger{
			self:    name,
			net:     n,
			queues:  make(map[string]*list.List),
			arrived: make(chan struct{}),
		}
	}
	return n
}

// Messenger 返回 name 对应的通道，不存在时返回 nil
func (n *MemoryNetwork) Messenger(name string) *MemoryMessenger {
	return n.members[name]
}

// MemoryMessenger 进程内消息通道
type MemoryMessenger struct {
	self string
	net  *MemoryNetwork

	mu     sync.Mutex
	queues map[string]*list.List
	closed bool
	// arrived 每次入队时关闭并替换，唤醒全部等待者
	arrived chan struct{}
}

var _ Messenger = (*MemoryMessenger)(nil)

// Self 本方名称
func (m *MemoryMessenger) Self() string {
	return m.self
}

// Send 将消息放入接收方的队列
func (m *MemoryMessenger) Send(_ context.Context, to string, payload []byte) error {
	if to == m.self {
		return errors.New("cannot send to self")
	}
	receiver, ok := m.net.members[to]
	if !ok {
		return errors.Errorf("unknown party %s", to)
	}

	msg := append([]byte(nil), payload...)

	receiver.mu.Lock()
	if receiver.closed {
		receiver.mu.Unlock()
		return errors.Errorf("party %s has closed its messenger", to)
	}
	q, ok := receiver.queues[m.self]
	if !ok {
		q = list.New()
		receiver.queues[m.self] = q
	}
	q.PushBack(msg)
	receiver.wakeLocked()
	receiver.mu.Unlock()
	return nil
}

// Receive 取出来自 from 的下一条消息
func (m *MemoryMessenger) Receive(ctx context.Context, from string) ([]byte, error) {
	if from == m.self {
		return nil, errors.New("cannot receive from self")
	}
	if _, ok := m.net.members[from]; !ok {
		return nil, errors.Errorf("unknown party %s", from)
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, errors.New("messenger closed")
		}
		if q := m.queues[from]; q != nil && q.Len() > 0 {
			front := q.Front()
			q.Remove(front)
			m.mu.Unlock()
			return front.Value.([]byte), nil
		}
		arrived := m.arrived
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-arrived:
		}
	}
}

func (m *MemoryMessenger) wakeLocked() {
	close(m.arrived)
	m.arrived = make(chan struct{})
}

// Close 关闭通道，阻塞中的 Receive 将在下一次唤醒时返回
func (m *MemoryMessenger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.wakeLocked()
}
