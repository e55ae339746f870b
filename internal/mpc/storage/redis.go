package storage

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/kashguard/go-secret-learn/internal/mpc/rendezvous"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisMedium 基于 Redis 的就绪信号介质（SET NX + TTL）
type RedisMedium struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMedium 创建 Redis 介质，ttl <= 0 时使用 DefaultTokenTTL
func NewRedisMedium(client *redis.Client, ttl time.Duration) *RedisMedium {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &RedisMedium{client: client, ttl: ttl}
}

// Publish 写入信号，键已存在时不覆盖
func (s *RedisMedium) Publish(ctx context.Context, token rendezvous.Token) error {
	if token.SessionID == "" || token.Phase == "" || token.PartyName == "" {
		return errors.New("readiness token is incomplete")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return errors.Wrap(err, "failed to marshal token")
	}

	key := tokenKey(token.SessionID, token.Phase, token.PartyName)
	if err := s.client.SetNX(ctx, key, data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to publish token")
	}
	return nil
}

// Lookup 读取信号
func (s *RedisMedium) Lookup(ctx context.Context, sessionID, phase, party string) (*rendezvous.Token, error) {
	data, err := s.client.Get(ctx, tokenKey(sessionID, phase, party)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get token")
	}

	var token rendezvous.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal token")
	}
	return &token, nil
}

// Delete 删除信号
func (s *RedisMedium) Delete(ctx context.Context, sessionID, phase, party string) error {
	if err := s.client.Del(ctx, tokenKey(sessionID, phase, party)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete token")
	}
	return nil
}

// List 扫描会话下的全部信号
func (s *RedisMedium) List(ctx context.Context, sessionID string) ([]rendezvous.Token, error) {
	var out []rendezvous.Token

	iter := s.client.Scan(ctx, 0, tokenPattern(sessionID), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, errors.Wrap(err, "failed to get token")
		}
		var token rendezvous.Token
		if err := json.Unmarshal(data, &token); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal token %s", iter.Val())
		}
		out = append(out, token)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan tokens")
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Phase != out[j].Phase {
			return out[i].Phase < out[j].Phase
		}
		return out[i].PartyName < out[j].PartyName
	})
	return out, nil
}

// RedisQueue 基于 Redis 列表的参与方消息通道
// 键 slearn:msg:<session>:<from>:<to>，RPUSH 发送，BLPOP 接收
type RedisQueue struct {
	client    *redis.Client
	sessionID string
	self      string
	ttl       time.Duration
	poll      time.Duration
}

// NewRedisQueue 创建会话内本方的消息通道
func NewRedisQueue(client *redis.Client, sessionID, self string) *RedisQueue {
	return &RedisQueue{
		client:    client,
		sessionID: sessionID,
		self:      self,
		ttl:       DefaultQueueTTL,
		poll:      time.Second,
	}
}

// Self 本方名称
func (q *RedisQueue) Self() string {
	return q.self
}

// Send 追加消息到 (self, to) 队列
func (q *RedisQueue) Send(ctx context.Context, to string, payload []byte) error {
	if to == q.self {
		return errors.New("cannot send to self")
	}

	key := queueKey(q.sessionID, q.self, to)
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to push message")
	}
	return nil
}

// Receive 阻塞读取 (from, self) 队列的下一条消息
// BLPOP 以 poll 为单位阻塞，每轮之间检查 ctx
func (q *RedisQueue) Receive(ctx context.Context, from string) ([]byte, error) {
	if from == q.self {
		return nil, errors.New("cannot receive from self")
	}

	key := queueKey(q.sessionID, from, q.self)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := q.client.BLPop(ctx, q.poll, key).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, errors.Wrap(err, "failed to pop message")
		}
		// BLPOP 返回 [key, value]
		if len(res) != 2 {
			return nil, errors.Errorf("unexpected BLPOP reply of length %d", len(res))
		}
		return []byte(res[1]), nil
	}
}

// Purge 删除发往本方的队列；本方发出的消息留给接收方读取，由 TTL 兜底过期
func (q *RedisQueue) Purge(ctx context.Context, peers []string) error {
	keys := make([]string, 0, len(peers))
	for _, p := range peers {
		if p == q.self {
			continue
		}
		keys = append(keys, queueKey(q.sessionID, p, q.self))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := q.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "failed to purge queues")
	}
	return nil
}
