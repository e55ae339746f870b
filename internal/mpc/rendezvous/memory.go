package rendezvous

import (
	"context"
	"sort"
	"sync"
)

// MemoryMedium 进程内介质，仅用于同进程模拟多方（测试、演示）
type MemoryMedium struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryMedium 创建进程内介质
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{tokens: make(map[string]Token)}
}

func memoryKey(sessionID, phase, party string) string {
	return sessionID + "/" + phase + "/" + party
}

// Publish 写入信号（写一次）
func (m *MemoryMedium) Publish(_ context.Context, token Token) error {
	if err := validateToken(token); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(token.SessionID, token.Phase, token.PartyName)
	if _, exists := m.tokens[key]; !exists {
		m.tokens[key] = token
	}
	return nil
}

// Lookup 读取信号
func (m *MemoryMedium) Lookup(_ context.Context, sessionID, phase, party string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[memoryKey(sessionID, phase, party)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// Delete 删除信号
func (m *MemoryMedium) Delete(_ context.Context, sessionID, phase, party string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tokens, memoryKey(sessionID, phase, party))
	return nil
}

// List 列出会话下的信号
func (m *MemoryMedium) List(_ context.Context, sessionID string) ([]Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Token
	for _, t := range m.tokens {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	sortTokens(out)
	return out, nil
}

func sortTokens(tokens []Token) {
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].Phase != tokens[j].Phase {
			return tokens[i].Phase < tokens[j].Phase
		}
		return tokens[i].PartyName < tokens[j].PartyName
	})
}
