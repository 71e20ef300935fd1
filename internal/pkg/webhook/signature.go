package webhook

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a Stripe signature timestamp may be
// before the delivery is rejected as a replay.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifyStripeSignature validates a "t=<unix>,v1=<hex>" signature header. The
// signed message is "<t>.<payload>" with HMAC-SHA256 over the endpoint secret.
// It returns false on any malformed input and never panics.
func VerifyStripeSignature(payload []byte, signatureHeader, secret string, tolerance time.Duration) bool {
	header := strings.TrimSpace(signatureHeader)
	if header == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	var timestamp string
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			decoded, err := hex.DecodeString(v)
			if err == nil {
				candidates = append(candidates, decoded)
			}
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(expected, candidate) {
			return true
		}
	}
	return false
}

// VerifyFireblocksSignature validates an RSA-PKCS1v15 signature over the
// SHA-512 digest of the payload. The header carries the signature
// base64-encoded, the key arrives PEM-encoded. Failure returns false, never an
// error.
func VerifyFireblocksSignature(payload []byte, signatureHeader, publicKeyPEM string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || strings.TrimSpace(publicKeyPEM) == "" {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}

	key := parseRSAPublicKey(publicKeyPEM)
	if key == nil {
		return false
	}

	digest := sha512.Sum512(payload)
	return rsa.VerifyPKCS1v15(key, crypto.SHA512, digest[:], decoded) == nil
}

func parseRSAPublicKey(pemData string) *rsa.PublicKey {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil
	}

	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if key, ok := parsed.(*rsa.PublicKey); ok {
			return key
		}
		return nil
	}
	// Older Fireblocks keys ship in PKCS#1 form.
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key
	}
	return nil
}
