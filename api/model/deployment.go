package model

import "time"

// Deployment is one stored, versioned snapshot of a service: its compiled
// template plus the content-addressed artifacts it references.
type Deployment struct {
	Timestamp         string   `json:"timestamp"`
	Prefix            string   `json:"prefix"`
	TemplateDirectory string   `json:"templateDirectory"`
	TemplateKey       string   `json:"templateKey"`
	ManifestKey       string   `json:"manifestKey,omitempty"`
	ArtifactNames     []string `json:"artifactNames"`
}

// Objects returns every storage key belonging to the deployment.
func (d Deployment) Objects() []string {
	keys := []string{d.TemplateKey}
	if d.ManifestKey != "" {
		keys = append(keys, d.ManifestKey)
	}
	return append(keys, d.ArtifactNames...)
}

// Artifact is a single packaged unit uploaded to the deployment bucket.
type Artifact struct {
	Name       string `json:"name"`
	LocalPath  string `json:"localPath"`
	IsArchive  bool   `json:"isArchive"`
	Digest     string `json:"digest,omitempty"`
	Size       int64  `json:"size,omitempty"`
	StorageKey string `json:"storageKey,omitempty"`
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result summarises one deploy or rollback invocation.
type Result struct {
	SagaID    string        `json:"sagaId"`
	Outcome   Outcome       `json:"outcome"`
	Timestamp string        `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`
	Uploaded  int           `json:"uploaded"`
	Skipped   int           `json:"skipped"`
	Removed   int           `json:"removed"`
}
