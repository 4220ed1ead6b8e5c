package logger

import (
	"strings"

	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/utils"
)

// MaskPhone logs a phone number with its middle digits hidden. Caller IDs
// without any digits, such as "anonymous" or "client:alice", are logged
// as they are.
func MaskPhone(key, phone string) zap.Field {
	if !strings.ContainsAny(phone, "0123456789") {
		return zap.String(key, strings.TrimSpace(phone))
	}
	return zap.String(key, utils.MaskPhoneNumber(phone))
}

// MaskPhoneIfPresent is MaskPhone that leaves the field out for a blank
// number.
func MaskPhoneIfPresent(key, phone string) zap.Field {
	if strings.TrimSpace(phone) == "" {
		return zap.Skip()
	}
	return MaskPhone(key, phone)
}
