package middleware

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/phonehub/phonehub/pkg/errors"
)

var callSIDPattern = regexp.MustCompile(`^CA[0-9a-fA-F]{32}$`)

// ValidateCallSIDParam validates that a parameter is a Twilio call SID
func ValidateCallSIDParam(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.Param(paramName)
		if sid == "" {
			errors.BadRequest(c, paramName+" parameter is required")
			c.Abort()
			return
		}

		if !callSIDPattern.MatchString(sid) {
			errors.BadRequest(c, "invalid "+paramName+": must be a call SID (CA followed by 32 hex digits)")
			c.Abort()
			return
		}

		c.Next()
	}
}

// SanitizeString removes potentially dangerous characters from strings
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}
