package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"audiotricks-service/internal/pkg/jwt"
	"audiotricks-service/internal/pkg/session"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type verifierStub struct{}

func (verifierStub) VerifyAccessToken(token string) (*jwt.Claims, error) {
	switch token {
	case "user-token":
		return &jwt.Claims{UserID: 4, Roles: []string{"user"}, RegisteredClaims: gojwt.RegisteredClaims{ID: "jti-user"}}, nil
	case "admin-token":
		return &jwt.Claims{UserID: 1, Roles: []string{"admin"}, RegisteredClaims: gojwt.RegisteredClaims{ID: "jti-admin"}}, nil
	case "revoked-token":
		return &jwt.Claims{UserID: 4, RegisteredClaims: gojwt.RegisteredClaims{ID: "jti-revoked"}}, nil
	}
	return nil, errors.New("bad token")
}

type sessionStub struct{}

func (sessionStub) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	return jti == "jti-revoked", nil
}

func (sessionStub) GetSession(ctx context.Context, userID int64, jti string) (*session.SessionData, error) {
	return &session.SessionData{UserID: userID, JTI: jti}, nil
}

func newRouter() *gin.Engine {
	m := NewAuthMiddleware(verifierStub{}, sessionStub{})
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()), LoggingMiddleware(zap.NewNop(), nil))
	r.GET("/me", m.Auth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": MustGetUserID(c)})
	})
	r.GET("/admin", append(m.AdminOnly(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})...)
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return r
}

func TestAuth(t *testing.T) {
	r := newRouter()

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing token", "/me", "", http.StatusUnauthorized},
		{"bad token", "/me", "Bearer nope", http.StatusUnauthorized},
		{"revoked token", "/me", "Bearer revoked-token", http.StatusUnauthorized},
		{"valid token", "/me", "Bearer user-token", http.StatusOK},
		{"admin route as user", "/admin", "Bearer user-token", http.StatusForbidden},
		{"admin route as admin", "/admin", "Bearer admin-token", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuth_QueryToken(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token=user-token", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}
}
