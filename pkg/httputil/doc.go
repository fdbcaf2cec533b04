// Package httputil provides the response helpers shared by pipescope's HTTP
// handlers.
//
// # JSON Responses
//
// [WriteJSON] encodes a value with the right content type and status:
//
//	httputil.WriteJSON(w, http.StatusOK, view.Status)
//
// # Errors
//
// [WriteError] maps structured error codes from
// [github.com/matzehuels/pipescope/pkg/errors] to HTTP status codes and
// writes a JSON error body:
//
//	{"error": "session \"x\" not found", "code": "SESSION_NOT_FOUND"}
//
// Errors without a code are reported as 500 with a generic message, so
// internal details never leak to clients.
//
// # Conditional Requests
//
// [NotModified] implements weak ETag matching for polling clients. Handlers
// derive the tag from a version counter:
//
//	if httputil.NotModified(w, r, httputil.ETag(view.Seq)) {
//	    return
//	}
package httputil
