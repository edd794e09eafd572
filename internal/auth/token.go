package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	tokenIssuer = "any-registry"
	localsUser  = "_anyregistry_remote_user"
)

// Claims is the JWT payload issued on login.
type Claims struct {
	Groups []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs a session token for user.
func (a *Auth) IssueToken(user User) (string, error) {
	now := time.Now()
	claims := Claims{
		Groups: user.Groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user.Name,
			Issuer:   tokenIssuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.tokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.tokenTTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// VerifyToken parses a token produced by IssueToken.
func (a *Auth) VerifyToken(raw string) (User, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return User{}, ErrInvalidToken
	}
	return User{Name: claims.Subject, Groups: claims.Groups}, nil
}

// Middleware resolves the remote user from the Authorization header. Invalid
// credentials leave the request anonymous; access checks decide the outcome.
func (a *Auth) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		user, err := a.identify(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"action": "auth",
				"path":   c.Path(),
			}).Debug("credentials rejected, continuing as anonymous")
		}
		c.Locals(localsUser, user)
		return c.Next()
	}
}

func (a *Auth) identify(header string) (User, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return User{}, nil
	}
	scheme, credentials, ok := strings.Cut(header, " ")
	if !ok {
		return User{}, ErrInvalidToken
	}
	credentials = strings.TrimSpace(credentials)

	switch strings.ToLower(scheme) {
	case "bearer":
		return a.VerifyToken(credentials)
	case "basic":
		decoded, err := base64.StdEncoding.DecodeString(credentials)
		if err != nil {
			return User{}, ErrBadCredentials
		}
		name, password, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return User{}, ErrBadCredentials
		}
		return a.Authenticate(name, password)
	default:
		return User{}, ErrInvalidToken
	}
}

// RemoteUser returns the user resolved by Middleware, anonymous otherwise.
func RemoteUser(c fiber.Ctx) User {
	if user, ok := c.Locals(localsUser).(User); ok {
		return user
	}
	return User{}
}
