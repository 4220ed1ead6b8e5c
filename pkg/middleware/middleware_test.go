package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ok(c *gin.Context) { c.String(http.StatusOK, "ok") }

func TestAuthMiddleware(t *testing.T) {
	token, _, err := auth.GenerateAccessToken("ops", auth.RoleOperator, "test-secret", "phonehub", 5)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/api/x", AuthMiddleware("test-secret", "phonehub"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("operator_id"))
	})
	router.GET("/api/admin", AuthMiddleware("test-secret", "phonehub"), RoleMiddleware(auth.RoleAdmin), ok)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing header", "/api/x", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/api/x", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "/api/x", "Bearer nope", http.StatusUnauthorized, ""},
		{"valid", "/api/x", "Bearer " + token, http.StatusOK, "ops"},
		{"lowercase scheme", "/api/x", "bearer " + token, http.StatusOK, "ops"},
		{"role denied", "/api/admin", "Bearer " + token, http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
			if tt.wantStatus >= 400 {
				assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRedisMiddleware_WithoutRedis(t *testing.T) {
	router := gin.New()
	router.Use(IdempotencyMiddleware(nil))
	router.Use(NewRateLimiter(nil, 1, zap.NewNop()).Middleware())
	router.POST("/api/calls", ok)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/calls", nil)
		req.Header.Set("Idempotency-Key", "same")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-Idempotency-Key-Used"))
	}
}

func twilioSign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioSignature(t *testing.T) {
	const base = "https://hub.example.com"
	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"hello"}}
	path := "/twilio/voice/turn?data=j.e30"
	good := twilioSign("token", base+path, form)

	tests := []struct {
		name       string
		enabled    bool
		signature  string
		wantStatus int
	}{
		{"valid", true, good, http.StatusOK},
		{"missing", true, "", http.StatusForbidden},
		{"forged", true, "AAAA", http.StatusForbidden},
		{"disabled", false, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/twilio/voice/turn", TwilioSignature("token", base, tt.enabled, zap.NewNop()), func(c *gin.Context) {
				c.String(http.StatusOK, c.PostForm("SpeechResult"))
			})

			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.signature != "" {
				req.Header.Set("X-Twilio-Signature", tt.signature)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "hello", w.Body.String(), "form stays readable after verification")
			}
		})
	}
}

func TestValidateCallSIDParam(t *testing.T) {
	router := gin.New()
	router.GET("/api/calls/:sid", ValidateCallSIDParam("sid"), ok)

	tests := []struct {
		sid  string
		want int
	}{
		{"CA" + strings.Repeat("a", 32), http.StatusOK},
		{"CA123", http.StatusBadRequest},
		{"XX" + strings.Repeat("a", 32), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.sid, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/"+tt.sid, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequestSizeLimit(t *testing.T) {
	router := gin.New()
	router.Use(RequestSizeLimit(16))
	router.POST("/x", ok)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(strings.Repeat("a", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTraceMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(TraceMiddleware(), SecurityHeaders())
	router.GET("/x", ok)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
