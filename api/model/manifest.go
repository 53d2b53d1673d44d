package model

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	ManifestFile     = "skald.yaml"
	DefaultRetention = 5
)

// Manifest describes what the packaging step produced for a service and
// where it should be deployed.
type Manifest struct {
	Service         string            `yaml:"service" json:"service"`
	Lineage         string            `yaml:"lineage,omitempty" json:"lineage,omitempty"`
	Template        string            `yaml:"template" json:"template"`
	Artifacts       []ArtifactSpec    `yaml:"artifacts" json:"artifacts"`
	CustomResources string            `yaml:"customResources,omitempty" json:"customResources,omitempty"`
	Parameters      map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Bucket          *BucketSpec       `yaml:"deploymentBucket,omitempty" json:"deploymentBucket,omitempty"`

	// Dir is the directory the manifest was loaded from; relative paths
	// resolve against it.
	Dir string `yaml:"-" json:"-"`
}

type ArtifactSpec struct {
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Path    string `yaml:"path" json:"path"`
	Archive *bool  `yaml:"archive,omitempty" json:"archive,omitempty"` // defaults to true
}

type BucketSpec struct {
	Name                 string `yaml:"name,omitempty" json:"name,omitempty"`
	ServerSideEncryption string `yaml:"serverSideEncryption,omitempty" json:"serverSideEncryption,omitempty"` // AES256 or aws:kms
	SSEKMSKeyID          string `yaml:"sseKmsKeyId,omitempty" json:"sseKmsKeyId,omitempty"`
	MaxPrevious          *int   `yaml:"maxPreviousDeploymentArtifacts,omitempty" json:"maxPreviousDeploymentArtifacts,omitempty"`
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	if m.Bucket == nil {
		m.Bucket = &BucketSpec{}
	}
	if m.Bucket.MaxPrevious == nil {
		n := DefaultRetention
		m.Bucket.MaxPrevious = &n
	}
	return &m, nil
}

// Retention is the number of most recent deployments cleanup keeps.
func (m *Manifest) Retention() int {
	if m.Bucket == nil || m.Bucket.MaxPrevious == nil {
		return DefaultRetention
	}
	return *m.Bucket.MaxPrevious
}

// Target builds the deployment target of the manifest's service in stage.
// The manifest's deployment bucket settings override bucket.
func (m *Manifest) Target(stage, region, bucket string) Target {
	t := Target{Service: m.Service, Stage: stage, Region: region, Bucket: bucket, Lineage: m.Lineage}
	if m.Bucket != nil {
		if m.Bucket.Name != "" {
			t.Bucket = m.Bucket.Name
		}
		t.ServerSideEncryption = m.Bucket.ServerSideEncryption
		t.SSEKMSKeyID = m.Bucket.SSEKMSKeyID
	}
	return t
}

// Resolve makes a manifest-relative path absolute.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ArtifactList returns the manifest's artifacts in declaration order with
// resolved paths.
func (m *Manifest) ArtifactList() []Artifact {
	out := make([]Artifact, 0, len(m.Artifacts))
	for _, a := range m.Artifacts {
		name := a.Name
		if name == "" {
			name = filepath.Base(a.Path)
		}
		archive := a.Archive == nil || *a.Archive
		out = append(out, Artifact{Name: name, LocalPath: m.Resolve(a.Path), IsArchive: archive})
	}
	return out
}

func (m *Manifest) Validate() error {
	if !validNameRe.MatchString(m.Service) {
		return &ValidationError{Field: "service", Reason: "must be alphanumeric with dashes"}
	}
	if m.Template == "" {
		return &ValidationError{Field: "template", Reason: "required"}
	}
	for i, a := range m.Artifacts {
		if a.Path == "" {
			return &ValidationError{Field: fmt.Sprintf("artifacts[%d].path", i), Reason: "required"}
		}
	}
	if m.Retention() < 0 {
		return &ValidationError{Field: "deploymentBucket.maxPreviousDeploymentArtifacts", Reason: "must not be negative"}
	}
	if m.Bucket != nil {
		if sse := m.Bucket.ServerSideEncryption; sse != "" && sse != "AES256" && sse != "aws:kms" {
			return &ValidationError{Field: "deploymentBucket.serverSideEncryption", Reason: "must be AES256 or aws:kms"}
		}
	}
	return nil
}

// DiscoverServices scans the given directory for subdirectories containing
// a skald.yaml manifest.
func DiscoverServices(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := LoadManifest(filepath.Join(dir, entry.Name(), ManifestFile))
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
