package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Authenticate checks name/password against the htpasswd entries.
func (a *Auth) Authenticate(name, password string) (User, error) {
	a.mu.RLock()
	hash, ok := a.users[name]
	a.mu.RUnlock()
	if !ok {
		return User{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return User{}, ErrBadCredentials
	}
	return User{Name: name}, nil
}

// AddUser registers a new account and persists the htpasswd file.
func (a *Auth) AddUser(name, password string) (User, error) {
	if a.maxUsers < 0 {
		return User{}, ErrRegistrationDisabled
	}
	if name == "" || password == "" || strings.ContainsAny(name, ":\n\r") {
		return User{}, ErrBadCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.users[name]; exists {
		return User{}, ErrUserExists
	}
	if a.maxUsers > 0 && len(a.users) >= a.maxUsers {
		return User{}, ErrMaxUsersReached
	}

	next := make(map[string]string, len(a.users)+1)
	for k, v := range a.users {
		next[k] = v
	}
	next[name] = string(hash)
	if err := writeHtpasswd(a.htpasswdPath, next); err != nil {
		return User{}, err
	}
	a.users = next

	a.logger.WithFields(logrus.Fields{
		"action": "user_add",
		"user":   name,
	}).Info("user registered")
	return User{Name: name}, nil
}

func readHtpasswd(path string) (map[string]string, error) {
	users := make(map[string]string)
	if path == "" {
		return users, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return users, nil
		}
		return nil, fmt.Errorf("open htpasswd: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, hash, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			continue
		}
		// 兼容 htpasswd 的附加字段（name:hash:comment）。
		if i := strings.Index(hash, ":"); i >= 0 {
			hash = hash[:i]
		}
		users[name] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read htpasswd: %w", err)
	}
	return users, nil
}

func writeHtpasswd(path string, users map[string]string) error {
	if path == "" {
		return nil
	}
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(users[name])
		b.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".htpasswd-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
