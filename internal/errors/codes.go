// Package errors provides structured error handling for kbsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors
//   - 3XX: Model errors (embedding, classifier, reranker)
//   - 4XX: Validation and request errors
//   - 5XX: Internal errors
package errors

import "net/http"

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates article-store errors.
	CategoryStore Category = "STORE"
	// CategoryModel indicates embedding/classifier/reranker errors.
	CategoryModel Category = "MODEL"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the request cannot proceed.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the service continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreTimeout     = "ERR_202_STORE_TIMEOUT"
	ErrCodeLogFailed        = "ERR_203_LOG_FAILED"

	// Model errors (300-399)
	ErrCodeEmbeddingFailed = "ERR_301_EMBEDDING_FAILED"
	ErrCodeRerankFailed    = "ERR_302_RERANK_FAILED"
	ErrCodeModelLoad       = "ERR_303_MODEL_LOAD"

	// Validation and request errors (400-499)
	ErrCodeInvalidInput    = "ERR_401_INVALID_INPUT"
	ErrCodeUnauthenticated = "ERR_402_UNAUTHENTICATED"
	ErrCodeForbidden       = "ERR_403_FORBIDDEN"
	ErrCodeRateLimited     = "ERR_404_RATE_LIMITED"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode derives the category from the code's numeric block.
func categoryFromCode(code string) Category {
	switch {
	case len(code) > 4 && code[4] == '1':
		return CategoryConfig
	case len(code) > 4 && code[4] == '2':
		return CategoryStore
	case len(code) > 4 && code[4] == '3':
		return CategoryModel
	case len(code) > 4 && code[4] == '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives the severity from the code.
// Log failures and rerank failures degrade; everything else fails the request.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeLogFailed, ErrCodeRerankFailed:
		return SeverityWarning
	case ErrCodeEmbeddingFailed, ErrCodeStoreTimeout, ErrCodeConfigInvalid:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether the failed operation may be retried.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeStoreTimeout, ErrCodeEmbeddingFailed, ErrCodeRerankFailed:
		return true
	default:
		return false
	}
}

// httpStatusByCode maps error codes to HTTP status codes for the API layer.
var httpStatusByCode = map[string]int{
	ErrCodeInvalidInput:     http.StatusBadRequest,
	ErrCodeUnauthenticated:  http.StatusUnauthorized,
	ErrCodeForbidden:        http.StatusForbidden,
	ErrCodeRateLimited:      http.StatusTooManyRequests,
	ErrCodeEmbeddingFailed:  http.StatusInternalServerError,
	ErrCodeStoreTimeout:     http.StatusInternalServerError,
	ErrCodeStoreUnavailable: http.StatusInternalServerError,
	ErrCodeInternal:         http.StatusInternalServerError,
}

// HTTPStatus returns the HTTP status for an error.
// Non-kbsearch errors map to 500.
func HTTPStatus(err error) int {
	if status, ok := httpStatusByCode[GetCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
