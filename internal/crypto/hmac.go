package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Gateway request headers. The caller address header is covered by the
// signature so a key holder cannot be replayed as another caller.
const (
	HeaderAPIKey    = "X-Escrowd-Key"
	HeaderTimestamp = "X-Escrowd-Timestamp"
	HeaderSignature = "X-Escrowd-Signature"
	HeaderCaller    = "X-Caller-Address"
)

// ErrRequestSignature is returned when a gateway request signature is missing,
// stale or wrong.
var ErrRequestSignature = errors.New("crypto: invalid request signature")

// HMACAuth holds the shared credentials of one gateway client.
type HMACAuth struct {
	Key    string
	Secret string
}

// HeadersAt returns the signed gateway headers for a request stamped with the
// given Unix time.
func (h *HMACAuth) HeadersAt(caller, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderCaller:    caller,
		HeaderSignature: h.sign(ts, caller, method, path, body),
	}
}

// Verify checks a request signature produced by HeadersAt. Timestamps further
// than maxSkew from now are rejected.
func (h *HMACAuth) Verify(ts, caller, method, path, body, signature string, now time.Time, maxSkew time.Duration) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrRequestSignature)
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if maxSkew > 0 && skew > maxSkew {
		return fmt.Errorf("%w: timestamp outside %s window", ErrRequestSignature, maxSkew)
	}
	want := h.sign(ts, caller, method, path, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrRequestSignature
	}
	return nil
}

// sign computes base64(HMAC-SHA256(secret, ts+caller+method+path+body)).
func (h *HMACAuth) sign(ts, caller, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(ts + caller + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
