package domain

import "errors"

var (
	// ErrInvalidInput signals a malformed request payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrOracleUnavailable signals that the reasoning oracle could not be reached.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrOracleOutput signals oracle output with no usable recommendations.
	ErrOracleOutput = errors.New("oracle output unparseable")
	// ErrPersistence signals a failed write to the recommendation store.
	ErrPersistence = errors.New("persistence failed")
)
