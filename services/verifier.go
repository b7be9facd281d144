package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-BC-Api-Content-Hash"

// Verification failure reasons.
const (
	ReasonMissingSignature   = "missing_signature"
	ReasonMissingSecret      = "missing_secret"
	ReasonMalformedSignature = "malformed_signature"
	ReasonSignatureMismatch  = "signature_mismatch"
)

// Verification is the result of checking one delivery's signature.
type Verification struct {
	Valid  bool
	Reason string
}

// SignatureVerifier authenticates webhook bodies against a store's shared secret.
type SignatureVerifier struct{}

func NewSignatureVerifier() *SignatureVerifier {
	return &SignatureVerifier{}
}

// Verify fails closed: anything other than an exact match is invalid.
func (v *SignatureVerifier) Verify(rawBody []byte, headerSignature, storeSecret string) Verification {
	headerSignature = strings.TrimSpace(headerSignature)
	if headerSignature == "" {
		return Verification{Reason: ReasonMissingSignature}
	}
	if storeSecret == "" {
		return Verification{Reason: ReasonMissingSecret}
	}
	given, err := hex.DecodeString(strings.ToLower(headerSignature))
	if err != nil || len(given) != sha256.Size {
		return Verification{Reason: ReasonMalformedSignature}
	}
	if !hmac.Equal(given, computeMAC(rawBody, storeSecret)) {
		return Verification{Reason: ReasonSignatureMismatch}
	}
	return Verification{Valid: true}
}

// Sign returns the header value the platform would send for body.
func Sign(body []byte, secret string) string {
	return hex.EncodeToString(computeMAC(body, secret))
}

func computeMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
