// Package telephony verifies inbound voice-provider webhooks.
package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/smallbiznis/answerline/internal/config"
	"go.uber.org/zap"
)

var (
	ErrMissingSignature = errors.New("missing_signature")
	ErrInvalidSignature = errors.New("invalid_signature")
)

// Verifier checks the hex HMAC-SHA256 of the raw body.
type Verifier struct {
	secret []byte
	header string
	skip   bool
	log    *zap.Logger
}

func NewVerifier(cfg config.Config, log *zap.Logger) *Verifier {
	header := strings.TrimSpace(cfg.Telephony.SignatureHeader)
	if header == "" {
		header = "X-Signature"
	}
	v := &Verifier{
		secret: []byte(cfg.Telephony.WebhookSecret),
		header: header,
		skip:   cfg.Telephony.SkipSignature,
		log:    log.Named("providers.telephony"),
	}
	if v.skip {
		v.log.Warn("telephony signature verification is DISABLED", zap.String("environment", cfg.Environment))
	}
	return v
}

// Header is the request header carrying the signature.
func (v *Verifier) Header() string { return v.header }

func (v *Verifier) Verify(body []byte, signature string) error {
	if v.skip {
		v.log.Warn("accepting unsigned telephony webhook")
		return nil
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	if len(v.secret) == 0 {
		return ErrInvalidSignature
	}
	signature = strings.TrimPrefix(strings.ToLower(signature), "sha256=")

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(provided, Sign(v.secret, body)) {
		return ErrInvalidSignature
	}
	return nil
}

func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is the header value a provider would send.
func SignHex(secret, body []byte) string {
	return hex.EncodeToString(Sign(secret, body))
}
