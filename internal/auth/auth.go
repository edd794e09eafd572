// Package auth implements htpasswd accounts, JWT session tokens and the
// package access rules consulted by the registry API.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/config"
)

// Well-known groups usable in package access rules.
const (
	GroupAll           = "$all"
	GroupAuthenticated = "$authenticated"
	GroupAnonymous     = "$anonymous"
)

var (
	ErrBadCredentials       = errors.New("auth: bad username or password")
	ErrRegistrationDisabled = errors.New("auth: user registration disabled")
	ErrMaxUsersReached      = errors.New("auth: maximum amount of users reached")
	ErrUserExists           = errors.New("auth: user already exists")
	ErrInvalidToken         = errors.New("auth: invalid token")
)

// User is the identity attached to a request. The zero value is anonymous.
type User struct {
	Name   string
	Groups []string
}

// Authenticated 表示请求是否携带了有效凭据。
func (u User) Authenticated() bool {
	return u.Name != ""
}

func (u User) memberOf(group string) bool {
	switch group {
	case GroupAll:
		return true
	case GroupAuthenticated:
		return u.Authenticated()
	case GroupAnonymous:
		return !u.Authenticated()
	}
	if u.Authenticated() && group == u.Name {
		return true
	}
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Auth is shared by every request; it is safe for concurrent use.
type Auth struct {
	logger   *logrus.Logger
	secret   []byte
	tokenTTL time.Duration
	maxUsers int
	packages []config.PackageAccess

	htpasswdPath string
	mu           sync.RWMutex
	users        map[string]string
}

// New 加载 htpasswd 文件（不存在视为空）并准备 token 签名密钥。
func New(cfg *config.Config, logger *logrus.Logger) (*Auth, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	secret := []byte(cfg.Global.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		logger.WithField("action", "auth_init").Warn("Secret 未配置，token 在重启后失效")
	}

	a := &Auth{
		logger:       logger,
		secret:       secret,
		tokenTTL:     cfg.Auth.TokenTTL.DurationValue(),
		maxUsers:     cfg.Auth.MaxUsers,
		packages:     append([]config.PackageAccess(nil), cfg.Packages...),
		htpasswdPath: cfg.Auth.HtpasswdFile,
	}
	users, err := readHtpasswd(a.htpasswdPath)
	if err != nil {
		return nil, err
	}
	a.users = users
	return a, nil
}

// UserCount 返回已注册用户数量。
func (a *Auth) UserCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}

// CanAccess reports whether user may read pkg.
func (a *Auth) CanAccess(user User, pkg string) bool {
	rule, ok := a.match(pkg)
	return ok && allowed(user, rule.Access)
}

// CanPublish reports whether user may publish pkg.
func (a *Auth) CanPublish(user User, pkg string) bool {
	rule, ok := a.match(pkg)
	return ok && allowed(user, rule.Publish)
}

// match 返回第一条匹配包名的规则。
func (a *Auth) match(pkg string) (config.PackageAccess, bool) {
	for _, rule := range a.packages {
		matched, err := doublestar.Match(rule.Pattern, pkg)
		if err == nil && matched {
			return rule, true
		}
	}
	return config.PackageAccess{}, false
}

func allowed(user User, groups []string) bool {
	for _, group := range groups {
		if user.memberOf(strings.TrimSpace(group)) {
			return true
		}
	}
	return false
}
