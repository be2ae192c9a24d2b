package job

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestJobHandler_RejectsBadInput(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewJobHandler(nil, zap.NewNop())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", int64(1))
		c.Next()
	})
	r.POST("/api/jobs", h.CreateJob)
	r.GET("/api/jobs", h.ListJobs)
	r.GET("/api/jobs/:id", h.GetJob)
	r.POST("/api/jobs/:id/speech", h.Speech)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"create without upload", http.MethodPost, "/api/jobs", `{"workspace_id":1}`},
		{"create with malformed upload id", http.MethodPost, "/api/jobs", `{"workspace_id":1,"upload_id":"nope"}`},
		{"list without workspace", http.MethodGet, "/api/jobs", ""},
		{"list with oversized limit", http.MethodGet, "/api/jobs?workspace_id=1&limit=500", ""},
		{"get non-numeric id", http.MethodGet, "/api/jobs/abc", ""},
		{"speech negative id", http.MethodPost, "/api/jobs/-4/speech", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}
