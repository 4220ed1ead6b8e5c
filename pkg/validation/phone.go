package validation

import (
	"fmt"
	"strings"

	"github.com/phonehub/phonehub/pkg/utils"
)

func ValidateE164(phone string) error {
	if strings.TrimSpace(phone) == "" {
		return fmt.Errorf("phone number is required")
	}

	if !utils.ValidateE164(strings.TrimSpace(phone)) {
		return fmt.Errorf("phone number must be in E.164 format (e.g., +18305005485)")
	}

	return nil
}

// NormalizeE164 formats phone as E.164 and rejects anything that does not
// come out valid.
func NormalizeE164(phone string) (string, error) {
	normalized := utils.NormalizePhone(phone)
	if err := ValidateE164(normalized); err != nil {
		return "", fmt.Errorf("cannot normalize phone number %q: %w", utils.MaskPhoneNumber(phone), err)
	}
	return normalized, nil
}
