package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classwatch/internal/config"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

func newProvider(t *testing.T) *JWTProvider {
	t.Helper()
	p, err := NewJWTProvider(config.AuthConfig{JWTSecret: "test-secret", Issuer: "classwatch-accounts"})
	if err != nil {
		t.Fatalf("NewJWTProvider failed: %v", err)
	}
	return p
}

func requestWithToken(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestNewJWTProvider_RequiresSecret(t *testing.T) {
	if _, err := NewJWTProvider(config.AuthConfig{}); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("Expected ErrMissingSecret, got %v", err)
	}
}

func TestJWTProvider_IssueAndIdentify(t *testing.T) {
	p := newProvider(t)
	token, err := p.Issue(types.Identity{OwnerID: "lecturer-7", Role: "lecturer", IsApproved: true}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	identity, err := p.Identify(requestWithToken(token))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if identity.OwnerID != "lecturer-7" || identity.Role != "lecturer" || !identity.IsApproved {
		t.Errorf("Unexpected identity %+v", identity)
	}
}

func TestJWTProvider_Rejections(t *testing.T) {
	p := newProvider(t)

	other, _ := NewJWTProvider(config.AuthConfig{JWTSecret: "other-secret", Issuer: "classwatch-accounts"})
	foreign, _ := other.Issue(types.Identity{OwnerID: "x", Role: "lecturer"}, time.Hour)

	wrongIssuer, _ := NewJWTProvider(config.AuthConfig{JWTSecret: "test-secret", Issuer: "someone-else"})
	misissued, _ := wrongIssuer.Issue(types.Identity{OwnerID: "x", Role: "lecturer"}, time.Hour)

	p.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := p.Issue(types.Identity{OwnerID: "x", Role: "lecturer"}, time.Hour)
	noSubject, _ := p.Issue(types.Identity{Role: "lecturer"}, time.Hour)
	p.now = time.Now

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "garbage", header: "Bearer not-a-jwt"},
		{name: "wrong secret", header: "Bearer " + foreign},
		{name: "wrong issuer", header: "Bearer " + misissued},
		{name: "expired", header: "Bearer " + expired},
		{name: "no subject", header: "Bearer " + noSubject},
		{name: "alg none", header: "Bearer " + none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if _, err := p.Identify(req); !IsUnauthorized(err) {
				t.Errorf("Expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestRequireLecturer(t *testing.T) {
	if err := RequireLecturer(nil); !errors.Is(err, interfaces.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if err := RequireLecturer(&types.Identity{OwnerID: "s", Role: "student", IsApproved: true}); !errors.Is(err, interfaces.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for a student, got %v", err)
	}
	if err := RequireLecturer(&types.Identity{OwnerID: "l", Role: "lecturer"}); !errors.Is(err, interfaces.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for an unapproved lecturer, got %v", err)
	}
	if err := RequireLecturer(&types.Identity{OwnerID: "l", Role: "lecturer", IsApproved: true}); err != nil {
		t.Errorf("Expected approved lecturer to pass, got %v", err)
	}
}
