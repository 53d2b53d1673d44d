// Package validate runs preflight checks on a service manifest before it
// is deployed.
package validate

import (
	"context"
	"fmt"
	"os"

	"skald/api/artifact"
	"skald/api/model"
	"skald/api/storage"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
}

// Result collects the findings for one service.
type Result struct {
	Service  string    `json:"service"`
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
	Infos    int       `json:"infos"`
	Findings []Finding `json:"findings"`
}

// Valid reports whether the service can be deployed. Warnings do not block.
func (r *Result) Valid() bool {
	return r.Errors == 0
}

func (r *Result) add(sev Severity, check, field, msg string) {
	r.Findings = append(r.Findings, Finding{Check: check, Severity: sev, Message: msg, Field: field})
	switch sev {
	case SeverityError:
		r.Errors++
	case SeverityWarning:
		r.Warnings++
	default:
		r.Infos++
	}
}

func (r *Result) fail(check, field, msg string) { r.add(SeverityError, check, field, msg) }
func (r *Result) warn(check, field, msg string) { r.add(SeverityWarning, check, field, msg) }
func (r *Result) note(check, field, msg string) { r.add(SeverityInfo, check, field, msg) }

// Validator checks a manifest. Open and ParseTemplate are optional; without
// them the storage and backend checks are skipped.
type Validator struct {
	Open storage.Opener
	// ParseTemplate rejects templates the stack backend cannot run.
	ParseTemplate func(body []byte) error
}

func (v *Validator) Validate(ctx context.Context, m *model.Manifest, t model.Target) *Result {
	result := &Result{Service: m.Service, Findings: []Finding{}}
	checkStructure(m, result)
	v.checkFiles(m, result)
	checkBucket(m, result)
	v.checkStorage(ctx, t, result)
	return result
}

func checkStructure(m *model.Manifest, r *Result) {
	if m.Service == "" {
		r.fail("manifest.service.required", "service", "service name is required")
	} else if !model.ValidName(m.Service) {
		r.fail("manifest.service.format", "service", fmt.Sprintf("service name %q must be alphanumeric with dashes", m.Service))
	}
	if m.Lineage != "" && !model.ValidName(m.Lineage) {
		r.fail("manifest.lineage.format", "lineage", fmt.Sprintf("lineage %q must be alphanumeric with dashes", m.Lineage))
	}

	if m.Template == "" {
		r.fail("manifest.template.required", "template", "template is required")
	}

	if len(m.Artifacts) == 0 {
		r.note("manifest.artifacts.empty", "artifacts", "no artifacts declared, only the template will be stored")
	}
	names := map[string]bool{}
	for i, a := range m.Artifacts {
		if a.Path == "" {
			r.fail("manifest.artifacts.path.required", fmt.Sprintf("artifacts[%d].path", i), fmt.Sprintf("artifacts[%d] requires a path", i))
		}
	}
	for _, a := range m.ArtifactList() {
		if names[a.Name] {
			r.warn("manifest.artifacts.name.duplicate", "artifacts", fmt.Sprintf("artifact name %q is used twice", a.Name))
		}
		names[a.Name] = true
	}
}

func (v *Validator) checkFiles(m *model.Manifest, r *Result) {
	if m.Template != "" {
		body, err := artifact.LoadTemplate(m.Resolve(m.Template))
		switch {
		case os.IsNotExist(err):
			r.fail("files.template.missing", "template", fmt.Sprintf("template %s not found, package the service first", m.Template))
		case err != nil:
			r.fail("files.template.invalid", "template", err.Error())
		case v.ParseTemplate != nil:
			if err := v.ParseTemplate(body); err != nil {
				r.fail("files.template.backend", "template", err.Error())
			}
		}
	}

	for _, a := range m.ArtifactList() {
		if _, err := os.Stat(a.LocalPath); err != nil {
			r.fail("files.artifact.missing", "artifacts", fmt.Sprintf("artifact %s not found at %s", a.Name, a.LocalPath))
		}
	}

	if m.CustomResources != "" {
		if _, err := os.Stat(m.Resolve(m.CustomResources)); err != nil {
			r.fail("files.customResources.missing", "customResources", fmt.Sprintf("custom resources %s not found", m.CustomResources))
		}
	}
}

func checkBucket(m *model.Manifest, r *Result) {
	if m.Bucket == nil {
		return
	}
	switch sse := m.Bucket.ServerSideEncryption; sse {
	case "", "AES256":
	case "aws:kms":
		if m.Bucket.SSEKMSKeyID == "" {
			r.warn("bucket.kms.key.recommended", "deploymentBucket.sseKmsKeyId", "aws:kms without sseKmsKeyId uses the account's default key")
		}
	default:
		r.fail("bucket.sse.invalid", "deploymentBucket.serverSideEncryption", fmt.Sprintf("serverSideEncryption %q must be AES256 or aws:kms", sse))
	}

	switch keep := m.Retention(); {
	case keep < 0:
		r.fail("bucket.retention.negative", "deploymentBucket.maxPreviousDeploymentArtifacts", "maxPreviousDeploymentArtifacts must not be negative")
	case keep == 0:
		r.warn("bucket.retention.zero", "deploymentBucket.maxPreviousDeploymentArtifacts", "maxPreviousDeploymentArtifacts is 0, cleanup is disabled and history grows without bound")
	}
}

func (v *Validator) checkStorage(ctx context.Context, t model.Target, r *Result) {
	if v.Open == nil || t.Bucket == "" {
		return
	}
	objects, err := v.Open(t.Bucket)
	if err == nil {
		var infos []storage.ObjectInfo
		infos, err = objects.List(ctx, t.DeploymentPrefix()+"/")
		if err == nil {
			if len(infos) == 0 {
				r.note("storage.history.empty", "", fmt.Sprintf("no deployments stored under %s yet", t.DeploymentPrefix()))
			}
			return
		}
	}
	r.warn("storage.bucket.unreachable", "", fmt.Sprintf("bucket %s: %v", t.Bucket, err))
}
