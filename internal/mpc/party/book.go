package party

import (
	"net"
	"sort"
	"strings"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
)

// Book 参与方地址簿（按名称排序，顺序即协议中的参与方顺序）
type Book struct {
	parties     []Party
	byName      map[string]int
	self        string
	coordinator string
}

// Resolve 校验集群配置并构造地址簿
// 任一参与方缺少地址、地址重复、本方或协调方不在集群中时返回 ConfigurationError
func Resolve(cluster config.Cluster) (*Book, error) {
	if len(cluster.Parties) == 0 {
		return nil, protocol.NewConfigurationError("", "no parties configured")
	}

	names := make([]string, 0, len(cluster.Parties))
	for name := range cluster.Parties {
		names = append(names, name)
	}
	sort.Strings(names)

	coordinator := cluster.Coordinator
	if coordinator == "" {
		coordinator = names[0]
	}

	seen := make(map[string]string, len(names))
	parties := make([]Party, 0, len(names))
	byName := make(map[string]int, len(names))

	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, protocol.NewConfigurationError("", "party with empty name")
		}
		ep := cluster.Parties[name]
		addr := strings.TrimSpace(ep.Address)
		if addr == "" {
			return nil, protocol.NewConfigurationError(name, "party has no address")
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil || host == "" || port == "" {
			return nil, protocol.NewConfigurationError(name, "address %q is not host:port", addr)
		}
		key := normalizeAddress(host, port)
		if other, dup := seen[key]; dup {
			return nil, protocol.NewConfigurationError(name, "address %s already used by party %s", addr, other)
		}
		seen[key] = name

		role := RoleParticipant
		if name == coordinator {
			role = RoleCoordinator
		}

		byName[name] = len(parties)
		parties = append(parties, Party{
			Name:          name,
			Address:       addr,
			ListenAddress: strings.TrimSpace(ep.ListenAddr),
			Role:          role,
		})
	}

	if _, ok := byName[cluster.SelfParty]; !ok {
		return nil, protocol.NewConfigurationError(cluster.SelfParty, "self party is not part of the configured cluster")
	}
	if _, ok := byName[coordinator]; !ok {
		return nil, protocol.NewConfigurationError(coordinator, "coordinator is not part of the configured cluster")
	}

	return &Book{
		parties:     parties,
		byName:      byName,
		self:        cluster.SelfParty,
		coordinator: coordinator,
	}, nil
}

// normalizeAddress 将 localhost 与回环地址视为同一主机，避免同机端口冲突漏检
func normalizeAddress(host, port string) string {
	h := strings.ToLower(host)
	if h == "localhost" || h == "::1" || strings.HasPrefix(h, "127.") {
		h = "loopback"
	}
	return net.JoinHostPort(h, port)
}

// Parties 返回全部参与方（副本）
func (b *Book) Parties() []Party {
	return append([]Party(nil), b.parties...)
}

// Names 返回全部参与方名称
func (b *Book) Names() []string {
	names := make([]string, len(b.parties))
	for i, p := range b.parties {
		names[i] = p.Name
	}
	return names
}

// Self 返回本方
func (b *Book) Self() Party {
	return b.parties[b.byName[b.self]]
}

// Coordinator 返回协调方
func (b *Book) Coordinator() Party {
	return b.parties[b.byName[b.coordinator]]
}

// Peers 返回除本方外的参与方
func (b *Book) Peers() []Party {
	peers := make([]Party, 0, len(b.parties)-1)
	for _, p := range b.parties {
		if p.Name != b.self {
			peers = append(peers, p)
		}
	}
	return peers
}

// Lookup 按名称查找参与方
func (b *Book) Lookup(name string) (Party, bool) {
	idx, ok := b.byName[name]
	if !ok {
		return Party{}, false
	}
	return b.parties[idx], true
}

// Index 参与方在协议顺序中的位置，不存在时返回 -1
func (b *Book) Index(name string) int {
	idx, ok := b.byName[name]
	if !ok {
		return -1
	}
	return idx
}

// Len 参与方数量
func (b *Book) Len() int {
	return len(b.parties)
}

// ForSelf 返回以另一参与方为本方的地址簿视图（同进程模拟多方时使用）
func (b *Book) ForSelf(name string) (*Book, error) {
	if _, ok := b.byName[name]; !ok {
		return nil, protocol.NewConfigurationError(name, "self party is not part of the configured cluster")
	}
	clone := *b
	clone.self = name
	return &clone, nil
}
