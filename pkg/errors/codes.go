// Package errors provides the closed error taxonomy of the swcache runtime
// and the standardized JSON error responses of its control API.
package errors

import "net/http"

// ErrorCode names one condition of the runtime error taxonomy.
type ErrorCode string

// Runtime error codes. Each is raised with a details payload rather than
// a stack-oriented message.
const (
	// Strategy and request level errors
	CodeNoResponse               ErrorCode = "no-response"
	CodeCachePutWithNoResponse   ErrorCode = "cache-put-with-no-response"
	CodePluginErrorRequestFetch  ErrorCode = "plugin-error-request-will-fetch"
	CodeCrossOriginCopyResponse  ErrorCode = "cross-origin-copy-response"
	CodeBadPrecachingResponse    ErrorCode = "bad-precaching-response"
	CodeMissingPrecacheEntry     ErrorCode = "missing-precache-entry"
	CodeNonPrecachedURL          ErrorCode = "non-precached-url"
	CodeConflictingEntries       ErrorCode = "add-to-cache-list-conflicting-entries"
	CodeConflictingIntegrities   ErrorCode = "add-to-cache-list-conflicting-integrities"
	CodeUnexpectedCacheListEntry ErrorCode = "add-to-cache-list-unexpected-type"
	CodeInvalidManifest          ErrorCode = "invalid-manifest"

	// Router errors
	CodeRouteMethodNotFound  ErrorCode = "unregister-route-but-not-found-with-method"
	CodeRouteNotRegistered   ErrorCode = "unregister-route-route-not-registered"
	CodeUnsupportedRouteType ErrorCode = "unsupported-route-type"

	// Control API errors
	CodeInvalidInput      ErrorCode = "invalid-input"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeRateLimitExceeded ErrorCode = "rate-limit-exceeded"
	CodeInternal          ErrorCode = "internal-error"
)

// errorMessages maps error codes to default messages
var errorMessages = map[ErrorCode]string{
	CodeNoResponse:               "The strategy could not generate a response",
	CodeCachePutWithNoResponse:   "There was an attempt to cache a request without a response",
	CodePluginErrorRequestFetch:  "A requestWillFetch plugin threw an error",
	CodeCrossOriginCopyResponse:  "Cannot copy a response from a different origin",
	CodeBadPrecachingResponse:    "The precaching request could not be stored",
	CodeMissingPrecacheEntry:     "The precache entry is missing and network fallback is disabled",
	CodeNonPrecachedURL:          "The URL is not part of the precache list",
	CodeConflictingEntries:       "Two precache entries share a URL but differ in revision",
	CodeConflictingIntegrities:   "Two precache entries share a cache key but differ in integrity",
	CodeUnexpectedCacheListEntry: "A precache entry is missing its url",
	CodeInvalidManifest:          "The precache manifest could not be parsed",

	CodeRouteMethodNotFound:  "No route is registered for the method",
	CodeRouteNotRegistered:   "The route is not registered",
	CodeUnsupportedRouteType: "The route capture is not a supported type",

	CodeInvalidInput:      "Invalid input provided",
	CodeUnauthorized:      "Unauthorized access",
	CodeRateLimitExceeded: "Rate limit exceeded",
	CodeInternal:          "Internal error",
}

// codeToHTTPStatus is used when a runtime error reaches the HTTP surface.
var codeToHTTPStatus = map[ErrorCode]int{
	CodeNoResponse:              http.StatusBadGateway,
	CodeCachePutWithNoResponse:  http.StatusBadGateway,
	CodeCrossOriginCopyResponse: http.StatusBadGateway,
	CodeBadPrecachingResponse:   http.StatusBadGateway,
	CodeMissingPrecacheEntry:    http.StatusNotFound,
	CodeNonPrecachedURL:         http.StatusNotFound,
	CodePluginErrorRequestFetch: http.StatusInternalServerError,

	CodeConflictingEntries:       http.StatusConflict,
	CodeConflictingIntegrities:   http.StatusConflict,
	CodeUnexpectedCacheListEntry: http.StatusBadRequest,
	CodeInvalidManifest:          http.StatusBadRequest,

	CodeRouteMethodNotFound:  http.StatusNotFound,
	CodeRouteNotRegistered:   http.StatusNotFound,
	CodeUnsupportedRouteType: http.StatusInternalServerError,

	CodeInvalidInput:      http.StatusBadRequest,
	CodeUnauthorized:      http.StatusUnauthorized,
	CodeRateLimitExceeded: http.StatusTooManyRequests,
	CodeInternal:          http.StatusInternalServerError,
}

// Message returns the default message for an error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// String returns the code itself
func (c ErrorCode) String() string {
	return string(c)
}

// HTTPStatus returns the HTTP status code for an error code
func (c ErrorCode) HTTPStatus() int {
	if status, ok := codeToHTTPStatus[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}
