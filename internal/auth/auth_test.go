package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"futures-trading-engine/config"
)

func testManager() *Manager {
	return NewManager(config.AuthConfig{
		Enabled:       true,
		JWTSecret:     "test-secret",
		OperatorKey:   "operator-key",
		TokenDuration: time.Hour,
	})
}

func TestLoginRoundTrip(t *testing.T) {
	m := testManager()

	token, err := m.Login("operator-key")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Role != "operator" {
		t.Errorf("Role = %s, want operator", claims.Role)
	}
	if claims.Subject != "operator" {
		t.Errorf("Subject = %s, want operator", claims.Subject)
	}
}

func TestLoginWrongKey(t *testing.T) {
	m := testManager()

	for _, key := range []string{"", "wrong"} {
		if _, err := m.Login(key); !errors.Is(err, ErrInvalidOperatorKey) {
			t.Errorf("Login(%q) error = %v, want ErrInvalidOperatorKey", key, err)
		}
	}
}

func TestValidateExpiredToken(t *testing.T) {
	m := NewManager(config.AuthConfig{
		Enabled:       true,
		JWTSecret:     "test-secret",
		OperatorKey:   "operator-key",
		TokenDuration: -time.Minute,
	})

	token, err := m.Login("operator-key")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := m.ValidateToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ValidateToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestValidateForeignToken(t *testing.T) {
	m := testManager()
	other := NewManager(config.AuthConfig{
		Enabled:       true,
		JWTSecret:     "other-secret",
		OperatorKey:   "operator-key",
		TokenDuration: time.Hour,
	})

	token, err := other.Login("operator-key")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := m.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
}

func middlewareStatus(m *Manager, header string) int {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	if header != "" {
		c.Request.Header.Set("Authorization", header)
	}

	handled := http.StatusOK
	m.Middleware()(c)
	if c.IsAborted() {
		handled = w.Code
	}
	return handled
}

func TestMiddleware(t *testing.T) {
	m := testManager()
	token, err := m.Login("operator-key")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := middlewareStatus(m, tt.header); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	m := NewManager(config.AuthConfig{Enabled: false})

	if got := middlewareStatus(m, ""); got != http.StatusOK {
		t.Errorf("status = %d, want %d with auth disabled", got, http.StatusOK)
	}
}
