package domain

// UserRole 用户角色，由外部认证服务写入访问令牌
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// Principal 当前请求的调用者
type Principal struct {
	UserID int64    `json:"user_id"`
	Role   UserRole `json:"role"`
}

// IsAdmin 判断是否为管理员
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == UserRoleAdmin
}
