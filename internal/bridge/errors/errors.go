// Package errors defines the sentinel and structured errors shared across
// the bridge.
package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrContractRequired  = sterrors.New("wireflow: contract is required")
	ErrRegistrarRequired = sterrors.New("wireflow: channel registrar is required")
	ErrInvokeRequired    = sterrors.New("wireflow: invoke function is required")
	ErrTargetRequired    = sterrors.New("wireflow: target accessor is required")
	ErrHandlerRequired   = sterrors.New("wireflow: handler function is required")
	ErrDisposed          = sterrors.New("wireflow: already disposed")
	ErrInvalidQueueSize  = sterrors.New("wireflow: max queue size must be a positive integer")

	ErrMissingImplementation   = sterrors.New("wireflow: method has no implementation")
	ErrDuplicateImplementation = sterrors.New("wireflow: method has more than one implementation")
	ErrUnknownImplementation   = sterrors.New("wireflow: implementation does not match any contract method")
	ErrUnknownMethod           = sterrors.New("wireflow: method is not part of the contract")
	ErrUnknownEvent            = sterrors.New("wireflow: event is not part of the contract")
	ErrSourceRequired          = sterrors.New("wireflow: event source is required")
)

// ConfigValidationError wraps the reason a configuration failed validation.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("wireflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, or returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// Stage identifies which part of a call failed when the failure is not the
// method's declared domain error. The values are stable; callers branch on
// them.
type Stage string

const (
	StageRequestEncoding  Stage = "request-encoding"
	StageInvoke           Stage = "invoke"
	StageInvalidEnvelope  Stage = "invalid-envelope"
	StageSuccessDecode    Stage = "success-decode"
	StageFailureDecode    Stage = "failure-decode"
	StageNoErrorViolation Stage = "noerror-violation"
	StageLegacyDecode     Stage = "legacy-decode"
	StageRemoteDefect     Stage = "remote-defect"
)

// CallError is the defect-class error a client call returns whenever the
// failure is not the method's declared domain error: infrastructure
// trouble, protocol violations, or a defect reported by the remote side.
type CallError struct {
	Stage   Stage
	Method  string
	Message string
	Cause   error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("wireflow: call %q failed at %s", e.Method, e.Stage)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Cause }

// Is matches call errors by stage, so callers can probe with
// errors.Is(err, &CallError{Stage: StageInvoke}) without reconstructing the
// remaining fields. An empty method in the target matches any method.
func (e *CallError) Is(target error) bool {
	other, ok := target.(*CallError)
	if !ok {
		return false
	}
	if other.Stage != "" && other.Stage != e.Stage {
		return false
	}
	if other.Method != "" && other.Method != e.Method {
		return false
	}
	return true
}

// NewCallError builds a CallError for one failed stage.
func NewCallError(stage Stage, method, message string, cause error) *CallError {
	return &CallError{Stage: stage, Method: method, Message: message, Cause: cause}
}
