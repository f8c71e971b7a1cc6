package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/aretw0/wadialog/pkg/domain"
)

// SignatureHeader is the HTTP header carrying the payload HMAC.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// VerifyChallenge completes the webhook subscription handshake.
// It returns challenge only if mode is "subscribe" and token equals verifyToken.
func VerifyChallenge(mode, token, challenge, verifyToken string) (string, error) {
	if mode != "subscribe" || verifyToken == "" {
		return "", domain.ErrChallengeFailed
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", domain.ErrChallengeFailed
	}
	return challenge, nil
}

// Sign returns the header value the platform would send for body.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header is a valid "sha256=<hex>" HMAC of rawBody.
func VerifySignature(rawBody []byte, header, appSecret string) bool {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

// Verifier checks inbound webhook signatures.
type Verifier struct {
	AppSecret string
	Enforce   bool
}

// Check validates the signature header of rawBody.
// With enforcement disabled every payload passes.
func (v Verifier) Check(rawBody []byte, header string) error {
	if !v.Enforce {
		return nil
	}
	if strings.TrimSpace(header) == "" {
		return domain.ErrMissingSignature
	}
	if !VerifySignature(rawBody, header, v.AppSecret) {
		return domain.ErrInvalidSignature
	}
	return nil
}
