package agent

import (
	"errors"
	"fmt"
)

// ErrKind enumerates the error taxonomy from spec §7: every fatal or
// in-band condition the core produces carries one of these kinds.
type ErrKind string

const (
	KindMissingSecret          ErrKind = "missing_secret"
	KindAuthFailure            ErrKind = "auth_failure"
	KindRateLimited            ErrKind = "rate_limited"
	KindToolArgumentValidation ErrKind = "tool_argument_validation"
	KindToolHandlerFailure     ErrKind = "tool_handler_failure"
	KindToolUnknown            ErrKind = "tool_unknown"
	KindDuplicateSuite         ErrKind = "duplicate_suite"
	KindDuplicateTool          ErrKind = "duplicate_tool"
	KindSessionFrozen          ErrKind = "session_frozen"
	KindAlreadyRunning         ErrKind = "already_running"
	KindTurnLimitExceeded      ErrKind = "turn_limit_exceeded"
	KindProviderProtocol       ErrKind = "provider_protocol"
	KindResumeNotFound         ErrKind = "resume_not_found"
)

// CoreError is the single typed error shape that escapes the core as a
// fatal failure (provider errors, registry management errors, loop
// lifecycle errors). Tool failures are never wrapped in a CoreError: they
// are returned as values, per spec §4.2/§9.
type CoreError struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Cause }

func newCoreError(kind ErrKind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// IsKind reports whether err is a CoreError of the given kind, unwrapping
// through any wrapping errors.
func IsKind(err error, kind ErrKind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

func NewMissingSecretError(secretID string) *CoreError {
	return newCoreError(KindMissingSecret, fmt.Sprintf("missing secret %q", secretID), nil)
}

func NewAuthFailureError(cause error) *CoreError {
	return newCoreError(KindAuthFailure, "", cause)
}

func NewProviderProtocolError(message string, cause error) *CoreError {
	return newCoreError(KindProviderProtocol, message, cause)
}

func NewSessionFrozenError(moduleID string) *CoreError {
	return newCoreError(KindSessionFrozen, fmt.Sprintf("capability host is frozen: cannot register module %q", moduleID), nil)
}

func NewAlreadyRunningError() *CoreError {
	return newCoreError(KindAlreadyRunning, "agent loop is already running a send()", nil)
}

func NewTurnLimitExceededError(limit int) *CoreError {
	return newCoreError(KindTurnLimitExceeded, fmt.Sprintf("exceeded turn limit of %d", limit), nil)
}

func NewResumeNotFoundError(resumeID string) *CoreError {
	return newCoreError(KindResumeNotFound, fmt.Sprintf("no snapshot found for resume id %q", resumeID), nil)
}

func NewDuplicateToolError(name string) *CoreError {
	return newCoreError(KindDuplicateTool, fmt.Sprintf("tool %q is already registered by another suite", name), nil)
}

func NewDuplicateSuiteError(id string) *CoreError {
	return newCoreError(KindDuplicateSuite, fmt.Sprintf("tool suite %q is already registered", id), nil)
}

// ToolExecutionError is the in-band value returned to the model as a tool
// message when a tool call cannot run or fails. It deliberately does not
// satisfy CoreError: tool failures are data the model sees, not a
// condition that aborts the loop.
type ToolExecutionError struct {
	Kind       ErrKind
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

func (e *ToolExecutionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// NewToolUnknownError formats the exact spec §4.2 message for an
// unresolvable tool name.
func NewToolUnknownError(name, callID string) *ToolExecutionError {
	return &ToolExecutionError{
		Kind:       KindToolUnknown,
		ToolName:   name,
		ToolCallID: callID,
		Message:    fmt.Sprintf("Tool %q is not available.", name),
	}
}

// NewToolArgumentValidationError formats the exact spec §4.2 message
// shape: "Invalid arguments for "<name>": <issues>."
func NewToolArgumentValidationError(name, callID, issues string) *ToolExecutionError {
	return &ToolExecutionError{
		Kind:       KindToolArgumentValidation,
		ToolName:   name,
		ToolCallID: callID,
		Message:    fmt.Sprintf("Invalid arguments for %q: %s", name, issues),
	}
}

// NewToolHandlerFailureError formats the exact spec §4.2 message shape:
// "Failed to run "<name>": <message>".
func NewToolHandlerFailureError(name, callID string, cause error) *ToolExecutionError {
	return &ToolExecutionError{
		Kind:       KindToolHandlerFailure,
		ToolName:   name,
		ToolCallID: callID,
		Message:    fmt.Sprintf("Failed to run %q: %v", name, cause),
		Cause:      cause,
	}
}
