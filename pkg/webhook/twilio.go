package webhook

import (
	"errors"
	"net/url"

	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

var (
	ErrMissingSignature = errors.New("signature header missing")
	ErrInvalidSignature = errors.New("invalid signature")
)

// VerifyTwilioSignature checks the signature Twilio computed over the full
// request URL and the posted form. If authToken is empty, verification is
// skipped (for development/testing).
func VerifyTwilioSignature(authToken, fullURL string, form url.Values, signature string) error {
	if authToken == "" {
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}

	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	validator := client.NewRequestValidator(authToken)
	if !validator.Validate(fullURL, params, signature) {
		return ErrInvalidSignature
	}
	return nil
}
