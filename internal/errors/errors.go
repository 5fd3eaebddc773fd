// Package errors provides explicit, human-readable error types for fedra.
// All errors must include a Reason and Suggestion for actionable feedback.
package errors

import (
	"errors"
	"fmt"
)

// FedraError is the base error type for all fedra errors.
// Every error must provide a human-readable reason and suggestion.
type FedraError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of error for exit code mapping.
type ErrorCode int

const (
	CodeValidation ErrorCode = 1
	CodeEngine     ErrorCode = 3
	CodeInternal   ErrorCode = 4
)

func (e *FedraError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *FedraError) Unwrap() error {
	return e.Cause
}

// exitCode is promoted to every error type embedding FedraError, so
// ExitCode finds their code through errors.As.
func (e *FedraError) exitCode() ErrorCode { return e.Code }

// ExitCode maps an error to a process exit code. Unknown errors map to
// the internal error code.
func ExitCode(err error) int {
	var coded interface{ exitCode() ErrorCode }
	if errors.As(err, &coded) {
		return int(coded.exitCode())
	}
	var ce *ErrCancelled
	if errors.As(err, &ce) {
		return int(CodeEngine)
	}
	return int(CodeInternal)
}

// ErrConfig is returned for invalid or missing member/engine configuration.
// Configuration errors are fatal at startup.
type ErrConfig struct {
	FedraError
	Field string
}

// NewConfig creates a new ErrConfig.
func NewConfig(field, reason string) *ErrConfig {
	return &ErrConfig{
		FedraError: FedraError{
			Code:       CodeValidation,
			Message:    "invalid configuration",
			Reason:     fmt.Sprintf("field '%s': %s", field, reason),
			Suggestion: "check the members file and engine properties",
		},
		Field: field,
	}
}

// ErrParse is returned for malformed SPARQL.
type ErrParse struct {
	FedraError
	Query    string
	Position int
}

// NewParse creates a new ErrParse. Position is a byte offset into the
// query text, or -1 if unknown.
func NewParse(query, reason string, position int) *ErrParse {
	msg := "malformed SPARQL query"
	if position >= 0 {
		msg = fmt.Sprintf("malformed SPARQL query at offset %d", position)
	}
	return &ErrParse{
		FedraError: FedraError{
			Code:       CodeValidation,
			Message:    msg,
			Reason:     reason,
			Suggestion: "check the query syntax",
		},
		Query:    query,
		Position: position,
	}
}

// ErrUnsupportedSyntax is returned when a query uses SPARQL constructs the
// engine does not evaluate. Rejections must be explicit and stable.
type ErrUnsupportedSyntax struct {
	FedraError
	Construct string
}

// NewUnsupportedSyntax creates an error for an unsupported SPARQL construct.
func NewUnsupportedSyntax(construct string) *ErrUnsupportedSyntax {
	return &ErrUnsupportedSyntax{
		FedraError: FedraError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("unsupported SPARQL construct: %s", construct),
			Reason:     fmt.Sprintf("%s is not supported by the federation engine", construct),
			Suggestion: "rewrite the query using SELECT with basic graph patterns, FILTER, UNION and OPTIONAL",
		},
		Construct: construct,
	}
}

// ErrOptimization is returned when query planning fails, including source
// selection probe failures and timeouts.
type ErrOptimization struct {
	FedraError
	Timeout bool
}

// NewOptimization creates a new ErrOptimization.
func NewOptimization(reason string, cause error) *ErrOptimization {
	return &ErrOptimization{
		FedraError: FedraError{
			Code:       CodeEngine,
			Message:    "query optimization failed",
			Reason:     reason,
			Suggestion: "check that all federation members are reachable",
			Cause:      cause,
		},
	}
}

// NewOptimizationTimeout creates an ErrOptimization for a source selection
// that did not finish within the query's time budget.
func NewOptimizationTimeout(reason string) *ErrOptimization {
	return &ErrOptimization{
		FedraError: FedraError{
			Code:       CodeEngine,
			Message:    "source selection timed out",
			Reason:     reason,
			Suggestion: "raise enforceMaxQueryTime or remove unreachable members",
		},
		Timeout: true,
	}
}

// ErrEvaluation is returned when query evaluation fails. It carries the
// originating endpoint so failures can be traced to a federation member.
type ErrEvaluation struct {
	FedraError
	EndpointID string
}

// NewEvaluation creates a new ErrEvaluation.
func NewEvaluation(endpointID, reason string, cause error) *ErrEvaluation {
	msg := "query evaluation failed"
	if endpointID != "" {
		msg = fmt.Sprintf("query evaluation failed on member '%s'", endpointID)
	}
	return &ErrEvaluation{
		FedraError: FedraError{
			Code:       CodeEngine,
			Message:    msg,
			Reason:     reason,
			Suggestion: "check the member's availability and the engine log",
			Cause:      cause,
		},
		EndpointID: endpointID,
	}
}

// ErrCancelled signals a requested abort. It is silent: the query returns
// an empty result carrying cancellation status rather than a failure.
type ErrCancelled struct {
	QueryID uint64
}

func (e *ErrCancelled) Error() string {
	return fmt.Sprintf("query %d cancelled", e.QueryID)
}

// NewCancelled creates a new ErrCancelled.
func NewCancelled(queryID uint64) *ErrCancelled {
	return &ErrCancelled{QueryID: queryID}
}

// IsCancelled reports whether the error chain contains a cancellation.
func IsCancelled(err error) bool {
	var ce *ErrCancelled
	return errors.As(err, &ce)
}

// ErrMemberNotFound is returned when an endpoint id is not registered.
type ErrMemberNotFound struct {
	FedraError
	MemberID string
}

// NewMemberNotFound creates a new ErrMemberNotFound.
func NewMemberNotFound(id string) *ErrMemberNotFound {
	return &ErrMemberNotFound{
		FedraError: FedraError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("federation member not found: %s", id),
			Reason:     "no member registered with this id",
			Suggestion: "list configured members with 'fedra members list'",
		},
		MemberID: id,
	}
}
