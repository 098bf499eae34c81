package providers

import (
	"net/http"
	"strings"
)

// extractErrorMetadata pulls an HTTP status code and Retry-After hint out
// of an SDK error. Both SDKs flatten response metadata into the error
// string, so this is necessarily pattern matching.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	var httpStatus int
	var retryAfter string

	switch {
	case strings.Contains(errStr, "429"):
		httpStatus = http.StatusTooManyRequests
	case strings.Contains(errStr, "500"):
		httpStatus = http.StatusInternalServerError
	case strings.Contains(errStr, "502"):
		httpStatus = http.StatusBadGateway
	case strings.Contains(errStr, "503"):
		httpStatus = http.StatusServiceUnavailable
	case strings.Contains(errStr, "504"):
		httpStatus = http.StatusGatewayTimeout
	case strings.Contains(errStr, "401"):
		httpStatus = http.StatusUnauthorized
	case strings.Contains(errStr, "403"):
		httpStatus = http.StatusForbidden
	case strings.Contains(errStr, "402"):
		httpStatus = http.StatusPaymentRequired
	case strings.Contains(errStr, "400"):
		httpStatus = http.StatusBadRequest
	}

	lower := strings.ToLower(errStr)
	if idx := strings.Index(lower, "retry-after"); idx != -1 {
		retryAfter = firstField(errStr[idx+len("retry-after"):])
	} else if idx := strings.Index(lower, "retry after"); idx != -1 {
		retryAfter = firstField(errStr[idx+len("retry after"):])
	}

	return httpStatus, retryAfter
}

// firstField returns the first token after an optional colon separator.
func firstField(s string) string {
	s = strings.TrimLeft(s, ": \t")
	if parts := strings.Fields(s); len(parts) > 0 {
		return strings.TrimRight(parts[0], ",;")
	}
	return ""
}
