package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/crypto"
	"github.com/alanyoungcy/escrowd/internal/domain"
)

// maxSignedBody bounds how much of a request body is buffered for signature
// verification.
const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller domain.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller returns the caller asserted for the request, if any.
func Caller(ctx context.Context) (domain.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(domain.Address)
	return c, ok
}

// AuthConfig lists the gateway clients allowed to call the API.
type AuthConfig struct {
	Clients []crypto.HMACAuth
	MaxSkew time.Duration
	// Public paths skip authentication.
	Public []string
	Now    func() time.Time
}

// Auth verifies the HMAC request signature of a registered gateway client and
// stores the X-Caller-Address it vouches for in the request context. With no
// clients configured every request passes and the caller header is trusted
// as is, which is only suitable for local development.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	clients := make(map[string]crypto.HMACAuth, len(cfg.Clients))
	for _, c := range cfg.Clients {
		clients[c.Key] = c
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(cfg.Public, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			callerHex := strings.TrimSpace(r.Header.Get(crypto.HeaderCaller))
			if len(clients) > 0 {
				client, ok := clients[r.Header.Get(crypto.HeaderAPIKey)]
				if !ok {
					writeUnauthorized(w, "unknown api key")
					return
				}
				body, err := readBody(r)
				if err != nil {
					writeUnauthorized(w, err.Error())
					return
				}
				if err := client.Verify(
					r.Header.Get(crypto.HeaderTimestamp), callerHex,
					r.Method, r.URL.RequestURI(), string(body),
					r.Header.Get(crypto.HeaderSignature), cfg.Now(), cfg.MaxSkew,
				); err != nil {
					writeUnauthorized(w, "invalid request signature")
					return
				}
			}

			if callerHex != "" {
				if !common.IsHexAddress(callerHex) {
					writeUnauthorized(w, "malformed caller address")
					return
				}
				r = r.WithContext(WithCaller(r.Context(), common.HexToAddress(callerHex)))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// readBody buffers the body and puts a fresh reader back on the request.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(body) > maxSignedBody {
		return nil, errors.New("request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func isPublic(public []string, path string) bool {
	for _, p := range public {
		if path == p {
			return true
		}
	}
	return false
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
