package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(key))
	r.GET("/v1/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header map[string]string
		query  string
		want   int
	}{
		{"disabled", "", nil, "", http.StatusOK},
		{"missing", "s3cret", nil, "", http.StatusUnauthorized},
		{"header", "s3cret", map[string]string{"X-API-Key": "s3cret"}, "", http.StatusOK},
		{"bearer", "s3cret", map[string]string{"Authorization": "Bearer s3cret"}, "", http.StatusOK},
		{"bearer lowercase scheme", "s3cret", map[string]string{"Authorization": "bearer s3cret"}, "", http.StatusOK},
		{"basic is ignored", "s3cret", map[string]string{"Authorization": "Basic s3cret"}, "", http.StatusUnauthorized},
		{"query", "s3cret", nil, "?api_key=s3cret", http.StatusOK},
		{"wrong", "s3cret", map[string]string{"X-API-Key": "nope"}, "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ping"+tt.query, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			newRouter(tt.key).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}
