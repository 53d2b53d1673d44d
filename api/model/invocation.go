package model

import "time"

type InvocationKind string

const (
	KindDeploy   InvocationKind = "deploy"
	KindRollback InvocationKind = "rollback"
	KindCleanup  InvocationKind = "cleanup"
)

type InvocationStatus string

const (
	StatusRunning    InvocationStatus = "running"
	StatusSucceeded  InvocationStatus = "succeeded"
	StatusRolledBack InvocationStatus = "rolled_back"
	StatusSkipped    InvocationStatus = "skipped"
	StatusFailed     InvocationStatus = "failed"
)

// StepLog is the recorded result of one pipeline step.
type StepLog struct {
	Step       string `json:"step"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
	Message    string `json:"message,omitempty"`
}

// Invocation is the history record of one deploy, rollback or cleanup.
type Invocation struct {
	ID         string           `json:"id"`
	SagaID     string           `json:"sagaId"`
	Kind       InvocationKind   `json:"kind"`
	Service    string           `json:"service"`
	Stage      string           `json:"stage"`
	Region     string           `json:"region"`
	Timestamp  string           `json:"timestamp,omitempty"`
	Status     InvocationStatus `json:"status"`
	Steps      []StepLog        `json:"steps"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
}

// Finished reports whether the invocation reached a final status.
func (i *Invocation) Finished() bool {
	return i.Status != StatusRunning && i.Status != ""
}
