package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/webhook"
)

// TwilioSignature rejects webhook requests not signed with authToken.
// Twilio signs the public URL it called, so the URL is rebuilt from
// publicBaseURL rather than from the Host header.
func TwilioSignature(authToken, publicBaseURL string, enabled bool, logger *zap.Logger) gin.HandlerFunc {
	if !enabled || authToken == "" {
		logger.Info("Twilio signature verification disabled")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		fullURL := publicBaseURL + c.Request.URL.RequestURI()
		signature := c.GetHeader(webhook.SignatureHeader)
		if err := webhook.VerifyTwilioSignature(authToken, fullURL, c.Request.PostForm, signature); err != nil {
			logger.Warn("Webhook signature verification failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("call_sid", c.Request.PostForm.Get("CallSid")),
				zap.Error(err),
			)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
