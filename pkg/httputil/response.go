package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
)

// ErrorBody is the JSON body written by [WriteError].
type ErrorBody struct {
	Error string       `json:"error"`
	Code  perrors.Code `json:"code,omitempty"`
}

// WriteJSON writes v as indented JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteError writes err as a JSON error body with a status derived from its
// code.
func WriteError(w http.ResponseWriter, err error) {
	code := perrors.GetCode(err)
	status := StatusCode(code)
	body := ErrorBody{Error: perrors.UserMessage(err), Code: code}
	if code == "" {
		body.Error = http.StatusText(status)
	}
	WriteJSON(w, status, body)
}

// StatusCode maps an error code to an HTTP status.
func StatusCode(code perrors.Code) int {
	switch code {
	case perrors.ErrCodeNotFound, perrors.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case perrors.ErrCodeInvalidInput, perrors.ErrCodeInvalidFormat, perrors.ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case perrors.ErrCodeUnsupported:
		return http.StatusNotImplemented
	case perrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case perrors.ErrCodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ETag formats a version counter as a weak entity tag.
func ETag(version uint64) string {
	return `W/"` + strconv.FormatUint(version, 10) + `"`
}

// NotModified sets the ETag header and reports whether the request's
// If-None-Match already names it. When it does, a 304 has been written and
// the handler must return.
func NotModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	w.Header().Set("ETag", etag)
	for _, candidate := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == etag || candidate == "*" || "W/"+candidate == etag {
			w.WriteHeader(http.StatusNotModified)
			return true
		}
	}
	return false
}
