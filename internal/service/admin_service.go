package service

import (
	"errors"

	"line-gemini-relay/pkg/hash"
	"line-gemini-relay/pkg/token"
)

// AdminRole 是管理 token 中携带的角色。
const AdminRole = "ADMIN"

// ErrInvalidPassword 表示管理员密码不匹配。
var ErrInvalidPassword = errors.New("invalid admin password")

// AdminService 负责管理接口的登录。
type AdminService interface {
	Login(password string) (string, error)
}

type adminService struct {
	passwordHash string
	jwtManager   *token.JWTManager
}

// NewAdminService 创建一个新的 AdminService。passwordHash 为 bcrypt 哈希。
func NewAdminService(passwordHash string, jwtManager *token.JWTManager) AdminService {
	return &adminService{passwordHash: passwordHash, jwtManager: jwtManager}
}

// Login 校验密码并签发管理 token。
func (s *adminService) Login(password string) (string, error) {
	if s.passwordHash == "" || !hash.CheckPasswordHash(password, s.passwordHash) {
		return "", ErrInvalidPassword
	}
	return s.jwtManager.GenerateToken("admin", AdminRole)
}
