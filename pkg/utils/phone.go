package utils

import (
	"regexp"
	"strings"
)

var (
	e164Re     = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	nonDigitRe = regexp.MustCompile(`[^\d+]`)
)

// MaskPhoneNumber masks a phone number for logging
// Example: +18305005485 -> +1830•••5485
func MaskPhoneNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	// Country code and area code stay visible on E.164 numbers
	if e164Re.MatchString(phone) && len(phone) > 9 {
		return phone[:5] + strings.Repeat("•", len(phone)-9) + phone[len(phone)-4:]
	}

	if len(phone) > 4 {
		return strings.Repeat("•", len(phone)-4) + phone[len(phone)-4:]
	}
	return strings.Repeat("•", len(phone))
}

// ValidateE164 validates E.164 phone number format
func ValidateE164(phone string) bool {
	return e164Re.MatchString(phone)
}

// NormalizePhone normalizes a North American number to E.164.
// Numbers that already carry a + are only stripped of formatting.
func NormalizePhone(phone string) string {
	cleaned := nonDigitRe.ReplaceAllString(strings.TrimSpace(phone), "")
	if cleaned == "" || strings.HasPrefix(cleaned, "+") {
		return cleaned
	}

	switch {
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "1"):
		return "+" + cleaned
	case len(cleaned) == 10:
		return "+1" + cleaned
	default:
		return "+" + cleaned
	}
}
