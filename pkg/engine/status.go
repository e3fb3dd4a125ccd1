package engine

import "fmt"

// InstanceStatus represents the lifecycle state of a component instance.
type InstanceStatus string

const (
	// InstanceStatusPending indicates the instance was declared but not
	// yet validated.
	InstanceStatusPending InstanceStatus = "pending"

	// InstanceStatusValidated indicates the instance passed schema
	// validation and reference resolution.
	InstanceStatusValidated InstanceStatus = "validated"

	// InstanceStatusPlanned indicates the instance has a computed
	// operation in the current plan.
	InstanceStatusPlanned InstanceStatus = "planned"

	// InstanceStatusApplying indicates the instance's operation is
	// currently executing.
	InstanceStatusApplying InstanceStatus = "applying"

	// InstanceStatusApplied indicates the observed resource matches the
	// desired definition.
	InstanceStatusApplied InstanceStatus = "applied"

	// InstanceStatusFailed indicates the instance's operation failed.
	InstanceStatusFailed InstanceStatus = "failed"
)

// Validate checks if the instance status is valid.
func (s InstanceStatus) Validate() error {
	switch s {
	case InstanceStatusPending, InstanceStatusValidated, InstanceStatusPlanned,
		InstanceStatusApplying, InstanceStatusApplied, InstanceStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid instance status: %s", s)
	}
}

// IsTerminal returns true if the status is a terminal state for a run.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusApplied || s == InstanceStatusFailed
}

// CanTransitionTo checks whether the lifecycle permits moving from this
// status to the target status.
func (s InstanceStatus) CanTransitionTo(target InstanceStatus) bool {
	switch s {
	case InstanceStatusPending:
		return target == InstanceStatusValidated || target == InstanceStatusFailed
	case InstanceStatusValidated:
		return target == InstanceStatusPlanned || target == InstanceStatusFailed
	case InstanceStatusPlanned:
		return target == InstanceStatusApplying || target == InstanceStatusFailed
	case InstanceStatusApplying:
		return target == InstanceStatusApplied || target == InstanceStatusFailed
	case InstanceStatusApplied, InstanceStatusFailed:
		// Terminal for a run; a new run starts over from pending.
		return target == InstanceStatusPending
	default:
		return false
	}
}

// OperationType represents the kind of change an operation performs.
type OperationType string

const (
	// OperationCreate provisions a new resource.
	OperationCreate OperationType = "create"

	// OperationUpdate modifies an existing resource in place.
	OperationUpdate OperationType = "update"

	// OperationDelete removes a resource no longer declared.
	OperationDelete OperationType = "delete"

	// OperationNoop records that the observed resource already matches
	// the desired definition.
	OperationNoop OperationType = "noop"
)

// Validate checks if the operation type is valid.
func (t OperationType) Validate() error {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", t)
	}
}

// IsDestructive returns true if the operation removes a resource.
func (t OperationType) IsDestructive() bool {
	return t == OperationDelete
}

// OperationStatus represents the execution state of a plan operation.
type OperationStatus string

const (
	// OperationStatusPending indicates the operation has not started.
	OperationStatusPending OperationStatus = "pending"

	// OperationStatusRunning indicates the operation is executing.
	OperationStatusRunning OperationStatus = "running"

	// OperationStatusSucceeded indicates the operation completed.
	OperationStatusSucceeded OperationStatus = "succeeded"

	// OperationStatusFailed indicates the operation failed after
	// exhausting retries.
	OperationStatusFailed OperationStatus = "failed"

	// OperationStatusBlocked indicates the operation was not attempted
	// because a dependency failed.
	OperationStatusBlocked OperationStatus = "blocked"

	// OperationStatusCancelled indicates the run was cancelled before
	// the operation started.
	OperationStatusCancelled OperationStatus = "cancelled"
)

// Validate checks if the operation status is valid.
func (s OperationStatus) Validate() error {
	switch s {
	case OperationStatusPending, OperationStatusRunning, OperationStatusSucceeded,
		OperationStatusFailed, OperationStatusBlocked, OperationStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid operation status: %s", s)
	}
}

// IsTerminal returns true if the operation will not execute further.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OperationStatusSucceeded, OperationStatusFailed,
		OperationStatusBlocked, OperationStatusCancelled:
		return true
	default:
		return false
	}
}

// RunStatus represents the overall state of an apply run.
type RunStatus string

const (
	// RunStatusPlanning indicates the run is computing its plan.
	RunStatusPlanning RunStatus = "planning"

	// RunStatusApplying indicates operations are executing.
	RunStatusApplying RunStatus = "applying"

	// RunStatusSucceeded indicates every operation succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates some operations succeeded and some
	// failed or were blocked.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates the run failed before or during apply.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled.
	RunStatusCancelled RunStatus = "cancelled"
)

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPlanning, RunStatusApplying, RunStatusSucceeded,
		RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// IsTerminal returns true if the run has finished.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}
