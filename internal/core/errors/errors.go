// Package errors provides centralized error definitions for the hotspot engine.
// Errors are organized by domain to avoid duplication and provide consistent naming.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import "errors"

// Lookup errors.
var (
	// ErrNotFound indicates the referenced hotspot, cluster, report or push item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKeyword indicates a hotspot with the same keyword already exists.
	ErrDuplicateKeyword = errors.New("keyword already exists")
)

// Validation errors.
var (
	// ErrInvalidArgument indicates invalid input was provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidTransition indicates a lifecycle event that is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Cluster errors.
var (
	// ErrWouldEmptyCluster indicates a split that removes every member of a cluster.
	ErrWouldEmptyCluster = errors.New("split would empty cluster")

	// ErrNotClusterMember indicates a hotspot that does not belong to the cluster.
	ErrNotClusterMember = errors.New("hotspot is not a member of the cluster")
)

// Concurrency errors.
var (
	// ErrConflict indicates the row changed between read and conditional write.
	ErrConflict = errors.New("concurrent modification")
)

// Collaborator errors.
var (
	// ErrCircuitBreakerOpen indicates the circuit breaker has tripped and requests are blocked.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// ErrEmbeddingUnavailable indicates no embedding provider could serve the request.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrEmptyResponse indicates an empty response was received.
	ErrEmptyResponse = errors.New("empty response")

	// ErrUnknownChannel indicates a push channel name with no registered sender.
	ErrUnknownChannel = errors.New("unknown push channel")
)

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
