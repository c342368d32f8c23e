package core

import (
	"errors"
	"fmt"
)

// StandardCode is one of the thirteen canonical error codes every manifest's
// provider-specific errors are classified into (§3, §4.5). Each code carries
// static retryable/fallbackable/category metadata, independent of any
// single call.
type StandardCode string

const (
	CodeInvalidRequest   StandardCode = "E1001"
	CodeAuthentication   StandardCode = "E1002"
	CodePermissionDenied StandardCode = "E1003"
	CodeNotFound         StandardCode = "E1004"
	CodeRequestTooLarge  StandardCode = "E1005"
	CodeRateLimited      StandardCode = "E2001"
	CodeQuotaExhausted   StandardCode = "E2002"
	CodeServerError      StandardCode = "E3001"
	CodeOverloaded       StandardCode = "E3002"
	CodeTimeout          StandardCode = "E3003"
	CodeConflict         StandardCode = "E4001"
	CodeCancelled        StandardCode = "E4002"
	CodeUnknown          StandardCode = "E9999"
)

// ErrorCategory groups codes for dashboards, independent of the
// retry/fallback decision itself (that lives in the per-code metadata).
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryRate     ErrorCategory = "rate"
	CategoryUpstream ErrorCategory = "upstream"
	CategoryLocal    ErrorCategory = "local"
	CategoryUnknown  ErrorCategory = "unknown"
)

type codeMeta struct {
	name         string
	retryable    bool
	fallbackable bool
	category     ErrorCategory
}

// codeTable is the static §4.5 metadata. retryable follows §4.3's retry
// decision literally: only {E1001, E1002, E1003, E1004, E1005, E4002, E9999}
// are non-retryable; every other code is retryable. fallbackable is not
// fully enumerated by the spec text — E1002 and E1001 (capability miss) are
// explicitly fallbackable by the worked examples in §4.3/§8; E4002
// (cancellation) is explicitly non-fallbackable (§5: "does not trigger
// fallback"); E9999 is kept non-fallbackable since an unclassified error
// gives the fallback decision no signal to act on. See DESIGN.md.
var codeTable = map[StandardCode]codeMeta{
	CodeInvalidRequest:   {"invalid_request", false, true, CategoryClient},
	CodeAuthentication:   {"authentication", false, true, CategoryClient},
	CodePermissionDenied: {"permission_denied", false, true, CategoryClient},
	CodeNotFound:         {"not_found", false, true, CategoryClient},
	CodeRequestTooLarge:  {"request_too_large", false, true, CategoryClient},
	CodeRateLimited:      {"rate_limited", true, true, CategoryRate},
	CodeQuotaExhausted:   {"quota_exhausted", true, true, CategoryRate},
	CodeServerError:      {"server_error", true, true, CategoryUpstream},
	CodeOverloaded:       {"overloaded", true, true, CategoryUpstream},
	CodeTimeout:          {"timeout", true, true, CategoryUpstream},
	CodeConflict:         {"conflict", true, true, CategoryClient},
	CodeCancelled:        {"cancelled", false, false, CategoryLocal},
	CodeUnknown:          {"unknown", false, false, CategoryUnknown},
}

// Name returns the canonical lowercase name for the code, e.g. "rate_limited".
func (c StandardCode) Name() string {
	if m, ok := codeTable[c]; ok {
		return m.name
	}
	return "unknown"
}

// Retryable reports whether a single attempt at this model should be
// retried after this code (§4.3 Retry decision).
func (c StandardCode) Retryable() bool {
	return codeTable[c].retryable
}

// Fallbackable reports whether the client may move to the next model in
// the fallback chain after this code (§4.3 Fallback decision).
func (c StandardCode) Fallbackable() bool {
	return codeTable[c].fallbackable
}

// Category returns the dashboard grouping for this code.
func (c StandardCode) Category() ErrorCategory {
	if m, ok := codeTable[c]; ok {
		return m.category
	}
	return CategoryUnknown
}

// Valid reports whether c is one of the thirteen standard codes.
func (c StandardCode) Valid() bool {
	_, ok := codeTable[c]
	return ok
}

// StandardHTTPMapping maps a raw HTTP status to a StandardCode using the
// fixed table from §4.5 step 3, the fallback used once both a manifest's
// by_error_status and by_http_status tables have failed to match.
func StandardHTTPMapping(status int) StandardCode {
	switch status {
	case 400:
		return CodeInvalidRequest
	case 401:
		return CodeAuthentication
	case 403:
		return CodePermissionDenied
	case 404:
		return CodeNotFound
	case 408, 504:
		return CodeTimeout
	case 409:
		return CodeConflict
	case 413:
		return CodeRequestTooLarge
	case 429:
		return CodeRateLimited
	case 529:
		return CodeOverloaded
	default:
		switch {
		case status >= 500:
			return CodeServerError
		case status >= 400:
			return CodeInvalidRequest
		default:
			return CodeUnknown
		}
	}
}

// CanonicalizeProviderCode maps the free-form error-code strings providers
// actually send (e.g. "invalid_api_key", "context_length_exceeded") onto
// the thirteen standard codes, mirroring the original implementation's
// alias table (see SPEC_FULL.md, Supplemented Features #2). An
// unrecognized or blank string returns ("", false) so callers fall through
// to the manifest's by_http_status table.
func CanonicalizeProviderCode(raw string) (StandardCode, bool) {
	code, ok := providerCodeAliases[raw]
	return code, ok
}

var providerCodeAliases = map[string]StandardCode{
	"invalid_request_error":   CodeInvalidRequest,
	"invalid_request":         CodeInvalidRequest,
	"validation_error":        CodeInvalidRequest,
	"authorized_error":        CodeAuthentication,
	"invalid_api_key":         CodeAuthentication,
	"authentication_error":    CodeAuthentication,
	"permission_error":        CodePermissionDenied,
	"permission_denied":       CodePermissionDenied,
	"model_not_found":         CodeNotFound,
	"not_found_error":         CodeNotFound,
	"context_length_exceeded": CodeRequestTooLarge,
	"request_too_large":       CodeRequestTooLarge,
	"rate_limit_exceeded":     CodeRateLimited,
	"rate_limit_error":        CodeRateLimited,
	"insufficient_quota":      CodeQuotaExhausted,
	"quota_exceeded":          CodeQuotaExhausted,
	"overloaded_error":        CodeOverloaded,
	"server_error":            CodeServerError,
	"api_error":               CodeServerError,
	"service_unavailable":     CodeServerError,
	"timeout_error":           CodeTimeout,
	"conflict_error":          CodeConflict,
}

// AIError is the single error type the runtime surfaces to callers: every
// transport, pipeline, and policy failure that reaches the client facade is
// wrapped into one of these before being returned from a call (§7). It
// replaces the teacher's sentinel-based ProviderError with a StandardCode
// carrying static retry/fallback metadata.
type AIError struct {
	Code              StandardCode
	Provider          string
	Model             string
	Endpoint          string
	HTTPStatus        int
	ClientRequestID   string
	UpstreamRequestID string
	ProviderErrorCode string
	HumanMessage      string
	Err               error
}

func (e *AIError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Code.Name())
	if e.HumanMessage != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.HumanMessage)
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("[%s] %s", e.Provider, msg)
	}
	if e.UpstreamRequestID != "" {
		msg = fmt.Sprintf("%s (upstream_request_id=%s)", msg, e.UpstreamRequestID)
	}
	return msg
}

func (e *AIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether this error should trigger another attempt at
// the same model.
func (e *AIError) Retryable() bool {
	return e.Code.Retryable()
}

// Fallbackable reports whether this error should trigger a move to the
// next model in the fallback chain.
func (e *AIError) Fallbackable() bool {
	return e.Code.Fallbackable()
}

// NewAIError constructs an AIError, wrapping an underlying cause if any.
func NewAIError(code StandardCode, cause error) *AIError {
	return &AIError{Code: code, Err: cause}
}

// Validation sentinel errors, raised before any network call is made.
var (
	ErrModelRequired    = errors.New("conduit: model is required")
	ErrNoMessages       = errors.New("conduit: at least one message is required")
	ErrManifestNotFound = errors.New("conduit: no manifest registered for provider")
	ErrCapabilityUnmet  = errors.New("conduit: request requires a capability the manifest does not declare")
	ErrCircuitOpen      = errors.New("conduit: circuit breaker open for provider/endpoint")
	ErrNoModelsRemain   = errors.New("conduit: all models in the fallback chain have been exhausted")
)

// AsAIError is a convenience wrapper around errors.As for callers that want
// the concrete type without declaring a local variable.
func AsAIError(err error) (*AIError, bool) {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr, true
	}
	return nil, false
}
