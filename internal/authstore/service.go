// Package authstore is a reference implementation of the gitproto.Authenticate
// hook, backed by a database/sql user and token store. It is optional: a
// deployment that wants a different backing store implements gitproto.Authenticate
// directly and never imports this package.
package authstore

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/brindlecode/smartgit/internal/gitproto"
)

const patPrefix = "pat_"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
	ErrScopeInsufficient  = errors.New("token scope does not permit this operation")
)

// Scope controls which git operations a personal access token may authorize.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write" // implies read
)

func (sc Scope) permits(op gitproto.OperationType) bool {
	if sc == ScopeWrite {
		return true
	}
	return op == gitproto.Fetch
}

type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Scope    Scope  `json:"scope"`
	jwt.RegisteredClaims
}

// Service issues and validates personal access tokens and hashes/verifies
// user passwords. It holds no database handle; persistence lives in Store.
type Service struct {
	secret   []byte
	duration time.Duration
}

func NewService(secret string, duration time.Duration) *Service {
	return &Service{
		secret:   []byte(secret),
		duration: duration,
	}
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Service) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// IssueToken mints a PAT-style JWT, returned with the patPrefix already
// attached so callers can hand it straight to a git client as a Basic-auth
// password.
func (s *Service) IssueToken(userID int64, username string, scope Scope) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.duration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return patPrefix + signed, nil
}

func (s *Service) ValidateToken(presented string) (*Claims, error) {
	raw := strings.TrimPrefix(presented, patPrefix)
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func looksLikeToken(password string) bool {
	return strings.HasPrefix(password, patPrefix)
}
