package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const idempotencyKeyHeader = "Idempotency-Key"
const idempotencyTTL = 24 * time.Hour

// bodyRecorder keeps a copy of what the handler writes.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a successful POST
// that carried the same Idempotency-Key header. Without Redis it does nothing.
func IdempotencyMiddleware(redisClient redis.Cmdable) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		cacheKey := "idempotency:" + hashIdempotencyKey(c.GetString("operator_id")+":"+key)
		ctx := c.Request.Context()

		if val, err := redisClient.Get(ctx, cacheKey).Result(); err == nil && val != "" {
			c.Header("X-Idempotency-Key-Used", "true")
			c.Data(http.StatusOK, "application/json", []byte(val))
			c.Abort()
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if status >= 200 && status < 300 && rec.body.Len() > 0 {
			redisClient.Set(ctx, cacheKey, rec.body.String(), idempotencyTTL)
		}
	}
}

func hashIdempotencyKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
