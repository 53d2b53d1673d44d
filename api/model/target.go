package model

import (
	"path"
	"regexp"
)

const DefaultRootPrefix = "skald"

var validNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-_]*$`)

// ValidName reports whether s can be used as a service, stage or lineage name.
func ValidName(s string) bool {
	return validNameRe.MatchString(s)
}

// Target identifies one deployment destination: a service in a stage,
// backed by one bucket in one region.
type Target struct {
	Service    string `json:"service"`
	Stage      string `json:"stage"`
	Region     string `json:"region"`
	Bucket     string `json:"bucket"`
	RootPrefix string `json:"rootPrefix,omitempty"`
	// Lineage separates parallel deployment histories (e.g. per branch)
	// under the same service and stage.
	Lineage string `json:"lineage,omitempty"`

	ServerSideEncryption string `json:"serverSideEncryption,omitempty"`
	SSEKMSKeyID          string `json:"sseKmsKeyId,omitempty"`
}

// Namespace is the storage prefix holding every deployment of the target.
func (t Target) Namespace() string {
	root := t.RootPrefix
	if root == "" {
		root = DefaultRootPrefix
	}
	return path.Join(root, t.Service, t.Stage)
}

// DeploymentPrefix is the prefix new deployments of the target are written under.
func (t Target) DeploymentPrefix() string {
	if t.Lineage == "" {
		return t.Namespace()
	}
	return path.Join(t.Namespace(), t.Lineage)
}

func (t Target) StackName() string {
	return t.Service + "-" + t.Stage
}

func (t Target) Validate() error {
	if !validNameRe.MatchString(t.Service) {
		return &ValidationError{Field: "service", Reason: "must be alphanumeric with dashes"}
	}
	if !validNameRe.MatchString(t.Stage) {
		return &ValidationError{Field: "stage", Reason: "must be alphanumeric with dashes"}
	}
	if t.Bucket == "" {
		return &ValidationError{Field: "bucket", Reason: "required"}
	}
	if t.Lineage != "" && !validNameRe.MatchString(t.Lineage) {
		return &ValidationError{Field: "lineage", Reason: "must be alphanumeric with dashes"}
	}
	return nil
}
