package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "hms",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "stmary",
		Roles:    []string{RoleBilling},
	}
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	var inner echo.Context
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		inner = c
		return nil
	})(c)
	return inner, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, h := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(h, func(t *testing.T) {
			_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, h)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tok := createTestToken(t, validClaims(), testSigningKey)
	c, err := runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "hms"}, "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if UserIDFromContext(ctx) != "user-42" {
		t.Errorf("expected user-42, got %s", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleBilling {
		t.Errorf("unexpected roles %v", roles)
	}
	if c.Get("jwt_tenant_id") != "stmary" {
		t.Errorf("expected tenant stmary, got %v", c.Get("jwt_tenant_id"))
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := []struct {
		name  string
		token string
		cfg   JWTConfig
	}{
		{"wrong key", createTestToken(t, validClaims(), []byte("other")), JWTConfig{SigningKey: testSigningKey}},
		{"expired", createTestToken(t, expired, testSigningKey), JWTConfig{SigningKey: testSigningKey}},
		{"wrong issuer", createTestToken(t, validClaims(), testSigningKey), JWTConfig{SigningKey: testSigningKey, Issuer: "other"}},
		{"wrong audience", createTestToken(t, validClaims(), testSigningKey), JWTConfig{SigningKey: testSigningKey, Audience: "billing-api"}},
		{"garbage", "not.a.jwt", JWTConfig{SigningKey: testSigningKey}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runJWT(t, tt.cfg, "Bearer "+tt.token)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestDevAuthMiddleware_NoHeader(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	var roles []string
	err := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		roles = RolesFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Errorf("expected admin role, got %v", roles)
	}
}

func TestDevAuthMiddleware_ValidatesToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer junk")
	c := e.NewContext(req, httptest.NewRecorder())
	err := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(func(echo.Context) error { return nil })(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		have    []string
		require []string
		allowed bool
	}{
		{"matching role", []string{RoleBilling}, []string{RoleBilling, RoleReceptionist}, true},
		{"admin bypass", []string{RoleAdmin}, []string{RoleBilling}, true},
		{"missing role", []string{RoleDoctor}, []string{RoleBilling}, false},
		{"no roles", nil, []string{RoleBilling}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithUser(context.Background(), "u", tt.have))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(tt.require...)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})(c)
			if tt.allowed && err != nil {
				t.Errorf("expected access, got %v", err)
			}
			if !tt.allowed {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}
