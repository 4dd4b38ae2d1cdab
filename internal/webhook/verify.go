package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// maxSkew bounds how old (or future-dated) a delivery may be. Anything
// outside the window is treated as a replay.
const maxSkew = 5 * time.Minute

var (
	errMissingAuth   = errors.New("missing signature or timestamp header")
	errBadTimestamp  = errors.New("invalid timestamp")
	errOutsideWindow = errors.New("delivery outside replay window")
	errBadSignature  = errors.New("signature mismatch")
)

// verifySignature authenticates a delivery: the signature is an HMAC-SHA256
// over timestamp + "\n" + raw body, hex encoded, compared in constant time.
func verifySignature(secret, timestamp, signature string, body []byte, now time.Time) error {
	if timestamp == "" || signature == "" {
		return errMissingAuth
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return errBadTimestamp
	}

	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > maxSkew {
		return errOutsideWindow
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return errBadSignature
	}
	if !hmac.Equal(expected, mac.Sum(nil)) {
		return errBadSignature
	}

	return nil
}

// Sign computes the signature a caller must attach for the given timestamp
// and body. Exported for the replay tooling and tests.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
