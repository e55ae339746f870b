package party

// Role 参与方角色
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleParticipant Role = "participant"
)

// Party 参与方信息，会话开始后不可变
type Party struct {
	Name          string
	Address       string // 对端可达地址 host:port
	ListenAddress string // 本地监听地址
	Role          Role
}

// IsCoordinator 是否为协调方
func (p Party) IsCoordinator() bool {
	return p.Role == RoleCoordinator
}
