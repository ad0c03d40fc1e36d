// Package auth verifies the bearer tokens that identify lecturers on the HTTP API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classwatch/internal/config"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Claims carried by an identity token; the subject is the owner id
type Claims struct {
	Role     string `json:"role"`
	Approved bool   `json:"approved"`
	jwt.RegisteredClaims
}

// JWTProvider implements interfaces.IdentityProvider with HS256 tokens
// issued by the account service.
type JWTProvider struct {
	secret []byte
	issuer string
	parser *jwt.Parser
	now    func() time.Time
}

var _ interfaces.IdentityProvider = (*JWTProvider)(nil)

// NewJWTProvider builds a provider from the auth config
func NewJWTProvider(cfg config.AuthConfig) (*JWTProvider, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &JWTProvider{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		parser: jwt.NewParser(opts...),
		now:    time.Now,
	}, nil
}

// Identify reads "Authorization: Bearer <token>".
// Every failure is reported as interfaces.ErrUnauthorized.
func (p *JWTProvider) Identify(r *http.Request) (*types.Identity, error) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, ErrMissingToken)
	}

	claims := &Claims{}
	_, err := p.parser.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", interfaces.ErrUnauthorized)
	}

	return &types.Identity{
		OwnerID:    claims.Subject,
		Role:       claims.Role,
		IsApproved: claims.Approved,
	}, nil
}

// Issue signs a token for the identity. ttl <= 0 issues a token without expiry.
func (p *JWTProvider) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	now := p.now()
	claims := Claims{
		Role:     identity.Role,
		Approved: identity.IsApproved,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.OwnerID,
			Issuer:   p.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// RequireLecturer allows approved lecturers only
func RequireLecturer(identity *types.Identity) error {
	if identity == nil {
		return interfaces.ErrUnauthorized
	}
	if identity.Role != string(types.RoleLecturer) {
		return fmt.Errorf("%w: lecturer role required", interfaces.ErrForbidden)
	}
	if !identity.IsApproved {
		return fmt.Errorf("%w: lecturer account is not approved", interfaces.ErrForbidden)
	}
	return nil
}

// IsUnauthorized reports whether err should become a 401
func IsUnauthorized(err error) bool {
	return errors.Is(err, interfaces.ErrUnauthorized)
}
