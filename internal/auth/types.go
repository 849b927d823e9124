package auth

import (
	"context"
	"strings"

	xerrors "CoSign-Chain/internal/errors"
)

// 认证相关错误码。
const (
	CodeUnauthenticated  xerrors.Code = "UNAUTHENTICATED"
	CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"
)

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{
		Message:  "authentication required",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{
		Message:  "permission denied",
		Severity: xerrors.SeverityWarning,
	})
}

// 接口权限。
const (
	PermissionSubmit = "jobs:submit"
	PermissionRead   = "jobs:read"
)

// Store 保存运维账号及其权限，实现需并发安全。
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	LoadSubject(ctx context.Context, userID int64) (*Subject, error)
}

// User 是持久化的账号，PasswordHash 为 bcrypt 摘要。
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Disabled     bool
}

// Subject 是通过认证的调用方，随请求上下文传递。
type Subject struct {
	ID          int64
	Username    string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断主体是否拥有指定权限，"*" 表示全部权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet["*"]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 校验主体拥有全部所需权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return xerrors.New(CodeUnauthenticated, "缺少认证主体")
	}
	if s.Disabled {
		return xerrors.New(CodePermissionDenied, "账号已停用", xerrors.WithMetadata("user", s.Username))
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return xerrors.New(CodePermissionDenied, "缺少权限 "+perm,
				xerrors.WithMetadata("user", s.Username),
				xerrors.WithMetadata("permission", perm))
		}
	}
	return nil
}

// Clone 返回主体的副本。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	return &Subject{
		ID:          s.ID,
		Username:    s.Username,
		Permissions: append([]string(nil), s.Permissions...),
		Disabled:    s.Disabled,
	}
}

// TokenRequest 是签发令牌接口的请求体。
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

// TokenPair 包含签发的访问令牌与刷新令牌。
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	TokenType        string `json:"token_type"`
}

// Mode 表示认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// Config 配置认证服务。
type Config struct {
	Mode  Mode
	JWT   JWTOptions
	Seeds []Seed
}

// JWTOptions 为本地 HS256 令牌签发参数，TTL 单位为秒。
type JWTOptions struct {
	Secret     string
	Issuer     string
	AccessTTL  int64
	RefreshTTL int64
}

// Seed 描述启动时写入的账号。Password 与 PasswordHash 二选一。
type Seed struct {
	Username     string
	Password     string
	PasswordHash string
	Permissions  []string
	Disabled     bool
}
