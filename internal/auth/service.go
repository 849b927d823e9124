package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/pkg/logger"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	grantTypePassword = "password"
	grantTypeRefresh  = "refresh_token"
)

// Service 负责签发与校验接口访问令牌。
type Service struct {
	mode  Mode
	store Store
	jwt   *jwtManager
	audit *slog.Logger
}

// NewService 构造认证服务。jwt 模式需要账号库与签名密钥。
func NewService(ctx context.Context, cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, store: store, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if store == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "jwt 模式需要账号库")
		}
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 jwt 签名密钥")
		}
		if cfg.JWT.AccessTTL <= 0 {
			cfg.JWT.AccessTTL = 3600
		}
		if cfg.JWT.RefreshTTL <= 0 {
			cfg.JWT.RefreshTTL = 86400
		}
		svc.jwt = &jwtManager{
			secret:     []byte(cfg.JWT.Secret),
			issuer:     cfg.JWT.Issuer,
			accessTTL:  time.Duration(cfg.JWT.AccessTTL) * time.Second,
			refreshTTL: time.Duration(cfg.JWT.RefreshTTL) * time.Second,
			now:        time.Now,
		}
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("不支持的认证模式 %s", cfg.Mode))
	}

	if writer, ok := store.(interface {
		ApplySeed(context.Context, Seed) error
	}); ok {
		for _, seed := range cfg.Seeds {
			if err := writer.ApplySeed(ctx, seed); err != nil {
				return nil, err
			}
		}
	}
	return svc, nil
}

// Enabled 报告是否需要认证。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// Authenticate 按授权类型签发令牌，支持 password 与 refresh_token。
func (s *Service) Authenticate(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if !s.Enabled() {
		return nil, xerrors.New(xerrors.CodeNotFound, "认证未启用")
	}
	grant := strings.ToLower(strings.TrimSpace(req.GrantType))
	if grant == "" {
		grant = grantTypePassword
	}

	var subject *Subject
	switch grant {
	case grantTypePassword:
		user, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(req.Username))
		if err != nil || !verifyPassword(user.PasswordHash, req.Password) {
			s.audit.Warn("auth_failed", slog.String("user", req.Username), slog.String("grant", grant))
			return nil, xerrors.New(CodeUnauthenticated, "用户名或密码错误")
		}
		if subject, err = s.loadSubject(ctx, user.ID); err != nil {
			return nil, err
		}
	case grantTypeRefresh:
		claims, err := s.jwt.verify(req.RefreshToken, tokenTypeRefresh)
		if err != nil {
			return nil, err
		}
		if subject, err = s.subjectOf(ctx, claims); err != nil {
			return nil, err
		}
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的授权类型 %s", req.GrantType))
	}

	pair, err := s.jwt.generate(subject)
	if err != nil {
		return nil, err
	}
	s.audit.Info("token_issued", slog.String("user", subject.Username), slog.String("grant", grant))
	return pair, nil
}

// AuthenticateRequest 校验 Authorization 头中的 Bearer 访问令牌。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, xerrors.New(CodeUnauthenticated, "认证未启用")
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return nil, xerrors.New(CodeUnauthenticated, "缺少 Bearer 令牌")
	}
	claims, err := s.jwt.verify(strings.TrimSpace(parts[1]), tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	return s.subjectOf(ctx, claims)
}

// subjectOf 以账号库中的当前权限为准，停用账号的旧令牌随即失效。
func (s *Service) subjectOf(ctx context.Context, c *claims) (*Subject, error) {
	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return nil, xerrors.New(CodeUnauthenticated, "令牌主体无效")
	}
	return s.loadSubject(ctx, userID)
}

func (s *Service) loadSubject(ctx context.Context, userID int64) (*Subject, error) {
	subject, err := s.store.LoadSubject(ctx, userID)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeNotFound) {
			return nil, xerrors.New(CodeUnauthenticated, "账号不存在")
		}
		return nil, err
	}
	if subject.Disabled {
		return nil, xerrors.New(CodePermissionDenied, "账号已停用", xerrors.WithMetadata("user", subject.Username))
	}
	return subject, nil
}

type claims struct {
	Username  string `json:"username,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type jwtManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func (m *jwtManager) generate(subject *Subject) (*TokenPair, error) {
	now := m.now()
	access, err := m.sign(subject, tokenTypeAccess, now, m.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(subject, tokenTypeRefresh, now, m.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		ExpiresIn:        int64(m.accessTTL.Seconds()),
		RefreshToken:     refresh,
		RefreshExpiresIn: int64(m.refreshTTL.Seconds()),
		TokenType:        "Bearer",
	}, nil
}

func (m *jwtManager) sign(subject *Subject, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username:  subject.Username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subject.ID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInitializationFailure, err, "签发令牌失败")
	}
	return signed, nil
}

func (m *jwtManager) verify(raw, tokenType string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, xerrors.Wrap(CodeUnauthenticated, err, "令牌已过期")
		}
		return nil, xerrors.Wrap(CodeUnauthenticated, err, "令牌无效")
	}
	if c.TokenType != tokenType {
		return nil, xerrors.New(CodeUnauthenticated, "令牌类型不匹配")
	}
	if m.issuer != "" && !c.VerifyIssuer(m.issuer, true) {
		return nil, xerrors.New(CodeUnauthenticated, "令牌签发方不匹配")
	}
	return &c, nil
}
