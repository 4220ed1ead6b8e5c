package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

// sign reproduces Twilio's scheme: HMAC-SHA1 over the URL followed by every
// form key and value in key order.
func sign(token, fullURL string, form url.Values) string {
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

func TestVerifyTwilioSignature(t *testing.T) {
	const token = "12345"
	fullURL := "https://hub.example.com/twilio/voice/turn?data=j.e30"
	form := url.Values{
		"CallSid":      {"CA1234567890ABCDE"},
		"From":         {"+12125550100"},
		"To":           {"+18305005485"},
		"SpeechResult": {"yes, Tuesday works"},
	}
	good := sign(token, fullURL, form)

	tests := []struct {
		name      string
		token     string
		url       string
		signature string
		wantErr   error
	}{
		{"valid", token, fullURL, good, nil},
		{"verification disabled", "", fullURL, "", nil},
		{"missing header", token, fullURL, "", ErrMissingSignature},
		{"wrong token", "other", fullURL, good, ErrInvalidSignature},
		{"tampered url", token, "https://hub.example.com/twilio/voice/turn?data=j.e31", good, ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyTwilioSignature(tt.token, tt.url, form, tt.signature)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
