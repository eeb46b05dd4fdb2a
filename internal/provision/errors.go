package provision

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned before any collaborator is called.
	ErrInvalidRequest = errors.New("invalid provisioning request")

	ErrNotFound                 = errors.New("not found")
	ErrLifecycleRejected        = errors.New("lifecycle rejected")
	ErrProvisioningFailure      = errors.New("provisioning failure")
	ErrAddressResolutionFailure = errors.New("address resolution failure")
)

// Kind classifies a step failure.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindLifecycleRejected Kind = "lifecycle_rejected"
	KindProvisioning      Kind = "provisioning_failure"
	KindAddressResolution Kind = "address_resolution_failure"
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindLifecycleRejected:
		return ErrLifecycleRejected
	case KindProvisioning:
		return ErrProvisioningFailure
	case KindAddressResolution:
		return ErrAddressResolutionFailure
	default:
		return nil
	}
}

// Step names the orchestrator stage that failed.
type Step string

const (
	StepResolvePlugin     Step = "resolve_plugin"
	StepLocateConnection  Step = "locate_connection"
	StepNormalize         Step = "normalize"
	StepBeginLifecycle    Step = "begin_lifecycle"
	StepProvisionEgress   Step = "provision_integration"
	StepGrantUsage        Step = "grant_usage"
	StepResolveAddresses  Step = "resolve_addresses"
	StepCompleteLifecycle Step = "complete_lifecycle"
)

// StepError is the single failure surfaced by a provisioning call. Message is
// the collaborator-supplied reason, surfaced verbatim.
type StepError struct {
	Kind    Kind
	Step    Step
	Message string
	Err     error
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Kind)
}

func (e *StepError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// RejectedError is returned by collaborators that answered with success=false.
// Platform adapters return it so the orchestrator can surface the message as is.
type RejectedError struct {
	Operation string
	Message   string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return e.Operation + " reported failure"
	}
	return e.Message
}

func stepFailure(kind Kind, step Step, err error) *StepError {
	se := &StepError{Kind: kind, Step: step, Err: err}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		se.Message = rejected.Message
	}
	return se
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) (Kind, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
