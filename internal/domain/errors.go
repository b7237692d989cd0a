package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// Selection errors.
	ErrNoEligibleProvider = fmt.Errorf("no provider satisfies required capabilities")
	ErrProviderNotFound   = fmt.Errorf("chat provider not found")

	// Dispatch errors.
	ErrAllProvidersExhausted = fmt.Errorf("all providers in the selection chain failed")
	ErrProviderTimeout       = fmt.Errorf("provider attempt timed out")
	ErrMalformedResponse     = fmt.Errorf("provider returned a malformed response")
	ErrRateLimit             = fmt.Errorf("rate limit exceeded")

	// Handover / conversation errors.
	ErrHandoverTimeout        = fmt.Errorf("no human accepted the handover before its deadline")
	ErrLowConfidenceDetection = fmt.Errorf("intervention signal below confidence floor")
	ErrStateConflict          = fmt.Errorf("conversation state mutated outside serialization discipline")
	ErrInvalidTransition      = fmt.Errorf("control state transition not allowed")
	ErrConversationEnded      = fmt.Errorf("conversation already ended")
	ErrConversationNotFound   = fmt.Errorf("conversation not found")
	ErrHandoverNotFound       = fmt.Errorf("handover request not found")

	// Infrastructure errors.
	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
	ErrEventLogWrite = fmt.Errorf("event log write failed")
	ErrAuthInvalid   = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Selector.Select")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ExhaustedError reports that every candidate in a selection chain failed.
// It wraps ErrAllProvidersExhausted and carries the last provider error.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: last error: %v",
		ErrAllProvidersExhausted, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return ErrAllProvidersExhausted }

// RecoverySuggestion returns the user-facing hint for surfaced failures.
// Only ErrNoEligibleProvider and ErrAllProvidersExhausted reach callers;
// everything else is recovered locally.
func RecoverySuggestion(err error) string {
	switch {
	case errors.Is(err, ErrNoEligibleProvider):
		return "a different model may be required for this request"
	case errors.Is(err, ErrAllProvidersExhausted):
		return "all providers are unavailable, try again shortly"
	default:
		return ""
	}
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNoEligibleProvider ErrorCode = "NO_ELIGIBLE_PROVIDER"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodeProvidersExhausted ErrorCode = "ALL_PROVIDERS_EXHAUSTED"
	CodeProviderTimeout    ErrorCode = "PROVIDER_TIMEOUT"
	CodeMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeHandoverTimeout    ErrorCode = "HANDOVER_TIMEOUT"
	CodeLowConfidence      ErrorCode = "LOW_CONFIDENCE_DETECTION"
	CodeStateConflict      ErrorCode = "STATE_CONFLICT"
	CodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	CodeConversationEnded  ErrorCode = "CONVERSATION_ENDED"
	CodeConversationLost   ErrorCode = "CONVERSATION_NOT_FOUND"
	CodeHandoverNotFound   ErrorCode = "HANDOVER_NOT_FOUND"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeEventLogWrite      ErrorCode = "EVENT_LOG_WRITE"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNoEligibleProvider:     CodeNoEligibleProvider,
	ErrProviderNotFound:       CodeProviderNotFound,
	ErrAllProvidersExhausted:  CodeProvidersExhausted,
	ErrProviderTimeout:        CodeProviderTimeout,
	ErrMalformedResponse:      CodeMalformedResponse,
	ErrRateLimit:              CodeRateLimit,
	ErrHandoverTimeout:        CodeHandoverTimeout,
	ErrLowConfidenceDetection: CodeLowConfidence,
	ErrStateConflict:          CodeStateConflict,
	ErrInvalidTransition:      CodeInvalidTransition,
	ErrConversationEnded:      CodeConversationEnded,
	ErrConversationNotFound:   CodeConversationLost,
	ErrHandoverNotFound:       CodeHandoverNotFound,
	ErrConfigLoad:             CodeConfigLoad,
	ErrEventLogWrite:          CodeEventLogWrite,
	ErrAuthInvalid:            CodeAuthInvalid,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
