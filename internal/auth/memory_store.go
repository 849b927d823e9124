package auth

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	xerrors "CoSign-Chain/internal/errors"
)

// hashCost 为 bcrypt 计算成本。
var hashCost = bcrypt.DefaultCost

// HashPassword 返回密码的 bcrypt 摘要。
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "密码不能为空")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "生成密码摘要失败")
	}
	return string(hashed), nil
}

func verifyPassword(hashed, password string) bool {
	if hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

// MemoryStore 在内存中保存账号，账号来自配置中的种子。
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*User
	byID   map[int64]*Subject
	nextID int64
}

// NewMemoryStore 创建内存账号库并写入种子账号。
func NewMemoryStore(seeds ...Seed) (*MemoryStore, error) {
	store := &MemoryStore{
		users:  make(map[string]*User),
		byID:   make(map[int64]*Subject),
		nextID: 1,
	}
	for _, seed := range seeds {
		if err := store.ApplySeed(context.Background(), seed); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// ApplySeed 新增或覆盖一个账号。
func (s *MemoryStore) ApplySeed(_ context.Context, seed Seed) error {
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "种子账号缺少用户名")
	}
	hashed := strings.TrimSpace(seed.PasswordHash)
	if hashed == "" {
		var err error
		if hashed, err = HashPassword(seed.Password); err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "种子账号 "+username+" 密码无效")
		}
	} else if _, err := bcrypt.Cost([]byte(hashed)); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "种子账号 "+username+" 的密码摘要不是 bcrypt 格式")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		user = &User{ID: s.nextID}
		s.nextID++
	}
	user.Username = username
	user.PasswordHash = hashed
	user.Disabled = seed.Disabled
	s.users[username] = user
	s.byID[user.ID] = &Subject{
		ID:          user.ID,
		Username:    username,
		Permissions: dedupeStrings(seed.Permissions),
		Disabled:    seed.Disabled,
	}
	return nil
}

// FindUserByUsername 按用户名查找账号。
func (s *MemoryStore) FindUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[strings.TrimSpace(username)]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, xerrors.New(xerrors.CodeNotFound, "账号不存在")
}

// LoadSubject 读取账号的权限主体。
func (s *MemoryStore) LoadSubject(_ context.Context, userID int64) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject, ok := s.byID[userID]; ok {
		return subject.Clone(), nil
	}
	return nil, xerrors.New(xerrors.CodeNotFound, "账号不存在")
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			seen[value] = struct{}{}
		}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
