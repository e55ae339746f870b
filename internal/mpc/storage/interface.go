package storage

import (
	"fmt"
	"time"

	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/kashguard/go-secret-learn/internal/mpc/transport"
)

// Redis 键布局
const (
	keyPrefix      = "slearn"
	readyNamespace = "ready"
	queueNamespace = "msg"
)

// DefaultTokenTTL 就绪信号在 Redis 中的最长存活时间，防止崩溃进程遗留信号
const DefaultTokenTTL = 10 * time.Minute

// DefaultQueueTTL 消息队列最长存活时间
const DefaultQueueTTL = time.Hour

var (
	_ rendezvous.Medium   = (*RedisMedium)(nil)
	_ transport.Messenger = (*RedisQueue)(nil)
)

func tokenKey(sessionID, phase, party string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", keyPrefix, readyNamespace, sessionID, phase, party)
}

func tokenPattern(sessionID string) string {
	return fmt.Sprintf("%s:%s:%s:*", keyPrefix, readyNamespace, sessionID)
}

func queueKey(sessionID, from, to string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", keyPrefix, queueNamespace, sessionID, from, to)
}
