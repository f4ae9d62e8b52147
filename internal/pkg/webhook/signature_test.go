package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"eventType":"payment.succeeded","data":{}}`)
	secret := "whsec_test_123"
	valid := signPayload(payload, secret)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid signature", payload, valid, secret, true},
		{"altered payload byte", []byte(`{"eventType":"payment.succeeded","data":{ }}`), valid, secret, false},
		{"wrong secret", payload, valid, "whsec_other", false},
		{"empty signature", payload, "", secret, false},
		{"empty secret", payload, valid, "", false},
		{"garbage signature", payload, "not!base64!!", secret, false},
		{"truncated signature", payload, valid[:len(valid)-4], secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.payload, tt.signature, tt.secret))
		})
	}
}

func TestVerifySignatureAcceptsUnpaddedAndURLSafeEncodings(t *testing.T) {
	payload := []byte(`{"eventType":"payment.failed"}`)
	secret := "whsec_test_123"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sum := mac.Sum(nil)

	assert.True(t, VerifySignature(payload, base64.RawStdEncoding.EncodeToString(sum), secret))
	assert.True(t, VerifySignature(payload, base64.RawURLEncoding.EncodeToString(sum), secret))
}

func TestFallbackEventIDIsDeterministic(t *testing.T) {
	a := FallbackEventID([]byte(`{"a":1}`))
	b := FallbackEventID([]byte(`{"a":1}`))
	c := FallbackEventID([]byte(`{"a":2}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "hash:")
}
