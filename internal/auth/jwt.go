// Package auth verifies admin bearer tokens for the config and experiment API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// Roles.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// DefaultLeeway is the clock skew tolerated on exp/nbf/iat.
const DefaultLeeway = 30 * time.Second

// Claims are the token claims. Subject carries the admin id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Service issues and verifies HS256 tokens.
type Service struct {
	secret []byte
	leeway time.Duration
	clock  clock.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for issuing and expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLeeway sets the tolerated clock skew.
func WithLeeway(d time.Duration) Option {
	return func(s *Service) { s.leeway = d }
}

// NewService creates a Service signing with secret.
func NewService(secret string, opts ...Option) *Service {
	s := &Service{secret: []byte(secret), leeway: DefaultLeeway, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for subject with role, valid for ttl.
func (s *Service) Issue(subject, role string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	now := s.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrUnauthorized
		}
		return s.secret, nil
	},
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

type claimsKey struct{}

// WithClaims stores claims on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims stored by Middleware, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// RequireAdmin returns the admin id on ctx or a permission error.
func RequireAdmin(ctx context.Context) (string, error) {
	c, ok := ClaimsFrom(ctx)
	if !ok {
		return "", ErrUnauthorized
	}
	if c.Role != RoleAdmin {
		return "", ErrForbidden
	}
	return c.Subject, nil
}

// Middleware rejects requests without a valid admin bearer token: 401 for
// missing or invalid tokens, 403 for non-admin roles.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r.Header.Get("Authorization"))
		if !ok {
			deny(w, http.StatusUnauthorized, ErrUnauthorized)
			return
		}
		claims, err := s.Verify(raw)
		if err != nil {
			deny(w, http.StatusUnauthorized, ErrUnauthorized)
			return
		}
		ctx := WithClaims(r.Context(), claims)
		if _, err := RequireAdmin(ctx); err != nil {
			deny(w, http.StatusForbidden, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearer(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// IsPermission reports whether err is an auth failure.
func IsPermission(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
