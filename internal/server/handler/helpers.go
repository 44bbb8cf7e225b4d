package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
	"github.com/alanyoungcy/escrowd/internal/server/middleware"
	"github.com/alanyoungcy/escrowd/internal/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorResponse carries the error class alongside the message so clients can
// branch without parsing text.
type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

// statusFor maps an engine or service error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	switch domain.Class(err) {
	case "validation":
		return http.StatusBadRequest
	case "state":
		return http.StatusConflict
	case "authorization":
		return http.StatusForbidden
	case "payment":
		return http.StatusPaymentRequired
	case "settlement":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal failures are
// logged and their text is not exposed.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse{Error: op + " failed", Class: "internal"})
		return
	}
	class := domain.Class(err)
	if class == "internal" {
		class = ""
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Class: class})
}

// decodeJSON reads a JSON body into v, rejecting unknown fields and trailing
// data.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// callFrom builds the ledger call for an authenticated request. It writes a
// 401 and returns false when no caller was asserted.
func callFrom(w http.ResponseWriter, r *http.Request, value domain.Amount) (ledger.Call, bool) {
	caller, ok := middleware.Caller(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller address required")
		return ledger.Call{}, false
	}
	return ledger.Call{Caller: caller, Value: value.Big()}, true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// pathID parses a positive entity id from the named path parameter.
func pathID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(pathParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, pathParam(r, name))
	}
	return id, nil
}

// parseAddress accepts a 0x-prefixed hex address.
func parseAddress(s string) (domain.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return domain.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// Duration decodes from a Go duration string ("36h") or a number of seconds
// and encodes as a duration string.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs int64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or whole seconds: %s", data)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// entryResponse is one entry of a bulk call result.
type entryResponse struct {
	Index int    `json:"index"`
	ID    uint64 `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Class string `json:"class,omitempty"`
}

func entryResponses(results []domain.EntryResult) []entryResponse {
	out := make([]entryResponse, len(results))
	for i, res := range results {
		out[i] = entryResponse{Index: res.Index, ID: res.ID, OK: res.OK()}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			out[i].Class = domain.Class(res.Err)
		}
	}
	return out
}
