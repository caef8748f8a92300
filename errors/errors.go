package errors

import (
	"fmt"
)

// Error categories for structured error handling
const (
	CategoryConfig     = "config"
	CategoryCatalog    = "catalog"
	CategorySession    = "session"
	CategoryStorage    = "storage"
	CategoryServer     = "server"
	CategoryValidation = "validation"
)

// SequencerError represents a structured error with category and context
type SequencerError struct {
	Category string
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
}

func (e *SequencerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func (e *SequencerError) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy carrying the extra key. Package-level sentinels
// are shared across goroutines, so the receiver is never mutated.
func (e *SequencerError) WithContext(key string, value interface{}) *SequencerError {
	enriched := *e
	enriched.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		enriched.Context[k] = v
	}
	enriched.Context[key] = value
	return &enriched
}

// New creates a new SequencerError
func New(category, code, message string) *SequencerError {
	return &SequencerError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with SequencerError
func Wrap(err error, category, code, message string) *SequencerError {
	return &SequencerError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    err,
		Context:  make(map[string]interface{}),
	}
}

// Config errors
var (
	ErrInvalidPort         = New(CategoryConfig, "INVALID_PORT", "invalid port number")
	ErrInvalidLogLevel     = New(CategoryConfig, "INVALID_LOG_LEVEL", "invalid log level")
	ErrInvalidDatabasePath = New(CategoryConfig, "INVALID_DATABASE_PATH", "invalid database path")
	ErrInvalidCatalogPath  = New(CategoryConfig, "INVALID_CATALOG_PATH", "invalid catalog path")
	ErrInvalidCrossfade    = New(CategoryConfig, "INVALID_CROSSFADE", "invalid crossfade duration")
	ErrInvalidPreloadLead  = New(CategoryConfig, "INVALID_PRELOAD_LEAD", "invalid preload lead duration")
)

// Catalog errors
var (
	ErrCatalogEmpty   = New(CategoryCatalog, "CATALOG_EMPTY", "no tracks with a valid harmonic key")
	ErrCatalogRead    = New(CategoryCatalog, "CATALOG_READ_FAILED", "failed to read catalog")
	ErrCatalogDecode  = New(CategoryCatalog, "CATALOG_DECODE_FAILED", "failed to decode catalog")
	ErrTrackNotFound  = New(CategoryCatalog, "TRACK_NOT_FOUND", "track not found in catalog")
	ErrMalformedTrack = New(CategoryCatalog, "MALFORMED_TRACK", "malformed track record")
)

// Session errors
var (
	ErrUnknownGoal     = New(CategorySession, "UNKNOWN_GOAL", "unknown session goal preset")
	ErrSessionNotFound = New(CategorySession, "SESSION_NOT_FOUND", "session not found")
	ErrSuperseded      = New(CategorySession, "ADVANCE_SUPERSEDED", "advance superseded by a newer request")
)

// Storage errors
var (
	ErrStorageConnection = New(CategoryStorage, "CONNECTION_FAILED", "storage connection failed")
	ErrStorageQuery      = New(CategoryStorage, "QUERY_FAILED", "storage query failed")
	ErrStorageMigration  = New(CategoryStorage, "MIGRATION_FAILED", "storage migration failed")
	ErrBlobNotFound      = New(CategoryStorage, "BLOB_NOT_FOUND", "blob not found")
)

// Server errors
var (
	ErrServerStart    = New(CategoryServer, "START_FAILED", "server failed to start")
	ErrServerShutdown = New(CategoryServer, "SHUTDOWN_FAILED", "server shutdown failed")
)

// Validation errors
var (
	ErrValidationFailed = New(CategoryValidation, "VALIDATION_FAILED", "validation failed")
	ErrInvalidInput     = New(CategoryValidation, "INVALID_INPUT", "invalid input")
	ErrMissingParameter = New(CategoryValidation, "MISSING_PARAMETER", "missing required parameter")
)

// Helper functions for common error patterns
func IsCategory(err error, category string) bool {
	var seqErr *SequencerError
	if !As(err, &seqErr) {
		return false
	}
	return seqErr.Category == category
}

func GetErrorCode(err error) string {
	var seqErr *SequencerError
	if !As(err, &seqErr) {
		return ""
	}
	return seqErr.Code
}

func GetErrorContext(err error) map[string]interface{} {
	var seqErr *SequencerError
	if !As(err, &seqErr) {
		return nil
	}
	return seqErr.Context
}

// As is a wrapper around errors.As
func As(err error, target interface{}) bool {
	if err == nil {
		return false
	}
	// Simple type assertion for our use case
	if seqErr, ok := err.(*SequencerError); ok {
		if targetPtr, ok := target.(**SequencerError); ok {
			*targetPtr = seqErr
			return true
		}
	}
	return false
}
