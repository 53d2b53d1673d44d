package model

import "time"

type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
)

type StackStatus string

const (
	StackPending    StackStatus = "pending"
	StackInProgress StackStatus = "in-progress"
	StackComplete   StackStatus = "complete"
	StackFailed     StackStatus = "failed"
	StackNoChanges  StackStatus = "no-changes"
)

// Terminal reports whether no further transitions can happen.
func (s StackStatus) Terminal() bool {
	return s == StackComplete || s == StackFailed || s == StackNoChanges
}

// StackOperation is the handle of one create/update submitted to the
// orchestration service. Everything needed to resume polling lives here.
type StackOperation struct {
	ID          string        `json:"id"`
	StackName   string        `json:"stackName"`
	Kind        OperationKind `json:"kind"`
	Status      StackStatus   `json:"status"`
	SubmittedAt time.Time     `json:"submittedAt"`
}

// StackEvent is a diagnostic event reported by the orchestration service.
type StackEvent struct {
	Time     time.Time `json:"time"`
	Resource string    `json:"resource"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
}

// Template is a compiled infrastructure template ready for submission.
// URL is set when the orchestration service can fetch the body itself.
type Template struct {
	Body []byte
	URL  string
}
