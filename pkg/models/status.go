package models

import (
	"slices"
	"time"
)

// Axis names one of the three independently tracked pipeline stages of a table.
type Axis string

const (
	AxisEnrichment    Axis = "enrichment"
	AxisRelationships Axis = "relationships"
	AxisGraphImport   Axis = "graph_import"
)

// ValidAxes lists the axes in pipeline order.
var ValidAxes = []Axis{AxisEnrichment, AxisRelationships, AxisGraphImport}

// IsValidAxis checks if the given axis is valid.
func IsValidAxis(a Axis) bool {
	return slices.Contains(ValidAxes, a)
}

// DependsOnEnrichment reports whether the axis may only leave NOT_STARTED
// once enrichment has completed.
func (a Axis) DependsOnEnrichment() bool {
	return a == AxisRelationships || a == AxisGraphImport
}

// AxisState is the state of one status axis.
type AxisState string

const (
	AxisStateNotStarted AxisState = "NOT_STARTED"
	AxisStateInProgress AxisState = "IN_PROGRESS"
	AxisStateCompleted  AxisState = "COMPLETED"
	AxisStateFailed     AxisState = "FAILED"
)

// ValidAxisStates contains all valid axis states.
var ValidAxisStates = []AxisState{
	AxisStateNotStarted,
	AxisStateInProgress,
	AxisStateCompleted,
	AxisStateFailed,
}

// IsValidAxisState checks if the given state is valid.
func IsValidAxisState(s AxisState) bool {
	return slices.Contains(ValidAxisStates, s)
}

// StatusAxis is the persisted progress of one pipeline stage for one table.
type StatusAxis struct {
	Axis        Axis       `json:"axis"`
	State       AxisState  `json:"state"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error,omitempty"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsStale reports whether an IN_PROGRESS axis has not been touched for longer
// than staleAfter and can be reclaimed.
func (s StatusAxis) IsStale(now time.Time, staleAfter time.Duration) bool {
	if s.State != AxisStateInProgress {
		return false
	}
	if s.LastAttempt == nil {
		return true
	}
	return now.Sub(*s.LastAttempt) > staleAfter
}

// Retryable reports whether the axis can be claimed again under maxRetries.
func (s StatusAxis) Retryable(maxRetries int) bool {
	return (s.State == AxisStateNotStarted || s.State == AxisStateFailed) && s.RetryCount < maxRetries
}

// ItemResult is the outcome of one unit inside a multi-item operation.
type ItemResult struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"` // Not eligible or already in progress
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
