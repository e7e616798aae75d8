// Package auth validates the bearer tokens that callers present to the gateway.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/tiered-gateway/middleware"
	"github.com/upb/tiered-gateway/services"
)

// Config holds HMAC validation settings
type Config struct {
	Secret   string
	Issuer   string
	Audience string

	// Leeway tolerates clock skew on exp/nbf/iat
	Leeway time.Duration
}

// TokenClaims is the JWT body accepted by the gateway. Roles is read as an
// alias of Groups for tokens minted by other issuers.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email  string   `json:"email,omitempty"`
	Groups []string `json:"groups,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// HMACValidator validates HS256 tokens signed with a shared secret
type HMACValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACValidator creates a validator. It fails when the secret is empty.
func NewHMACValidator(cfg Config) (*HMACValidator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}

	return &HMACValidator{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// ValidateToken implements middleware.TokenValidator
func (v *HMACValidator) ValidateToken(_ context.Context, tokenString string) (*middleware.Claims, error) {
	claims := &TokenClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, services.ErrTokenExpired
		}
		return nil, services.WrapError(services.ErrorTypeUnauthorized, "invalid token", err)
	}
	if !token.Valid {
		return nil, services.ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "invalid token: missing sub claim", nil)
	}

	return toMiddlewareClaims(claims), nil
}

func toMiddlewareClaims(c *TokenClaims) *middleware.Claims {
	groups := make([]string, 0, len(c.Groups)+len(c.Roles))
	seen := make(map[string]struct{}, cap(groups))
	for _, g := range append(append([]string(nil), c.Groups...), c.Roles...) {
		if _, ok := seen[g]; ok || g == "" {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}

	out := &middleware.Claims{
		Sub:    c.Subject,
		Email:  c.Email,
		Groups: groups,
		Iss:    c.Issuer,
	}
	if c.ExpiresAt != nil {
		out.Exp = c.ExpiresAt.Unix()
	}
	if c.IssuedAt != nil {
		out.Iat = c.IssuedAt.Unix()
	}
	return out
}

// RejectAllValidator rejects every token. It guards protected routes when no
// secret is configured.
type RejectAllValidator struct{}

// ValidateToken always fails
func (RejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "authentication not configured", nil)
}

// IssueToken signs an HS256 token accepted by HMACValidator
func IssueToken(cfg Config, subject string, groups []string, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("auth: jwt secret is required")
	}
	now := time.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Groups: groups,
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
