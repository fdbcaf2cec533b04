package errors

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ValidateSessionName validates a session name before it is used as a file
// name or storage key. It rejects names that could be used for path
// traversal or key injection.
//
// The rules are intentionally conservative:
//   - No empty names
//   - No control characters
//   - No path traversal sequences (.., /, \)
//   - Maximum length of 128 characters
func ValidateSessionName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidInput, "session name cannot be empty")
	}

	if len(name) > 128 {
		return New(ErrCodeInvalidInput, "session name too long (max 128 characters)")
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "session name contains invalid control characters")
		}
	}

	for _, pattern := range []string{"..", "/", "\\", ":"} {
		if strings.Contains(name, pattern) {
			return New(ErrCodeInvalidInput, "session name contains invalid characters: %q", pattern)
		}
	}

	if !sessionNameRegex.MatchString(name) {
		return New(ErrCodeInvalidInput, "invalid session name: %q", name)
	}
	return nil
}

var sessionNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateListenAddress validates a host:port pair for the transport or the
// HTTP API. The host may be empty (all interfaces); the port must be a
// number between 0 and 65535.
func ValidateListenAddress(addr string) error {
	if addr == "" {
		return New(ErrCodeInvalidConfig, "address cannot be empty")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return Wrap(ErrCodeInvalidConfig, err, "invalid address %q", addr)
	}
	if host != "" && net.ParseIP(host) == nil && !hostnameRegex.MatchString(host) {
		return New(ErrCodeInvalidConfig, "invalid host %q", host)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return New(ErrCodeInvalidConfig, "invalid port %q", port)
	}
	return nil
}

var hostnameRegex = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?$`)
