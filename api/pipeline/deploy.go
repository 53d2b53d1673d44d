package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"skald/api/artifact"
	"skald/api/deployments"
	"skald/api/model"
	"skald/api/naming"
)

// deployState carries what the package step read from disk.
type deployState struct {
	manifest        *model.Manifest
	artifacts       []model.Artifact
	customResources string
	body            []byte
}

// Deploy uploads the packaged service described by m, updates the stack
// from the new template and prunes deployments beyond the manifest's
// retention. Cleanup problems are reported as warnings only.
func (p *Pipeline) Deploy(ctx context.Context, inv *Invocation, m *model.Manifest) (*model.Result, error) {
	st := &deployState{manifest: m}
	inv.Parameters = m.Parameters

	steps := []step{
		{name: "package", fn: func(ctx context.Context, inv *Invocation) error { return p.pack(inv, st) }},
		{name: "upload", fn: func(ctx context.Context, inv *Invocation) error { return p.upload(ctx, inv, st) }},
		{name: "update", fn: p.submit},
		{name: "monitor", fn: p.await},
		{name: "cleanup", fn: func(ctx context.Context, inv *Invocation) error {
			if _, err := p.prune(ctx, inv, m.Retention()); err != nil {
				p.event(ctx, inv, "cleanup.warning", "cleanup: "+err.Error(), nil)
			}
			return nil
		}},
	}

	res := &model.Result{SagaID: inv.SagaID}
	if err := p.run(ctx, inv, steps); err != nil {
		res.Outcome = model.OutcomeFailed
		res.Timestamp = inv.Timestamp()
		res.Elapsed = inv.outcome.Elapsed
		p.finish(ctx, inv, model.StatusFailed, err)
		return res, err
	}

	res.Outcome = inv.outcome.Result
	res.Timestamp = inv.Timestamp()
	res.Elapsed = inv.outcome.Elapsed
	res.Uploaded = inv.report.Uploaded
	res.Skipped = inv.report.Skipped
	if inv.cleanup != nil {
		res.Removed = len(inv.cleanup.Removed)
	}

	status := model.StatusSucceeded
	if res.Outcome == model.OutcomeSkipped {
		status = model.StatusSkipped
	}
	p.finish(ctx, inv, status, nil)
	return res, nil
}

func (p *Pipeline) pack(inv *Invocation, st *deployState) error {
	m := st.manifest
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Service != inv.Target.Service {
		return &model.ValidationError{Field: "service", Reason: fmt.Sprintf("manifest is for %q, not %q", m.Service, inv.Target.Service)}
	}
	body, err := artifact.LoadTemplate(m.Resolve(m.Template))
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}
	st.body = body
	st.artifacts = m.ArtifactList()
	st.customResources = m.Resolve(m.CustomResources)

	// one timestamp per deploy, shared by every object it writes
	inv.TemplateDirectory = naming.NewTimestamp(p.now())
	inv.log.Info("packaged service",
		zap.String("templateDirectory", inv.TemplateDirectory), zap.Int("artifacts", len(st.artifacts)))
	return nil
}

func (p *Pipeline) upload(ctx context.Context, inv *Invocation, st *deployState) error {
	u := artifact.NewUploader(inv.store, inv.log)
	u.Concurrency = p.UploadConcurrency
	u.Retry = p.Retry

	dst := artifact.Destination{
		Prefix:               inv.Prefix,
		TemplateDirectory:    inv.TemplateDirectory,
		ServerSideEncryption: inv.Target.ServerSideEncryption,
		SSEKMSKeyID:          inv.Target.SSEKMSKeyID,
	}
	report, err := u.UploadAll(ctx, dst, st.artifacts, st.customResources, st.body)
	if err != nil {
		return err
	}
	inv.report = report
	inv.template = model.Template{Body: st.body, URL: inv.store.URL(report.TemplateKey)}
	inv.saga.Log(ctx, "upload.summary", fmt.Sprintf("%d uploaded, %d unchanged", report.Uploaded, report.Skipped),
		map[string]string{"uploaded": fmt.Sprint(report.Uploaded), "skipped": fmt.Sprint(report.Skipped)})
	return nil
}

// prune removes deployments of the invocation's lineage beyond keep.
// Deletion failures become warnings; only a failed listing is returned.
func (p *Pipeline) prune(ctx context.Context, inv *Invocation, keep int) (*deployments.CleanupReport, error) {
	ds, err := deployments.NewLister(inv.store, inv.log).Find(ctx, inv.Target)
	if err != nil {
		return nil, err
	}
	ds = deployments.InLineage(ds, inv.Prefix)
	report := deployments.NewCleaner(inv.store, inv.log).Delete(ctx, deployments.SelectForRemoval(ds, keep))
	for _, w := range report.Warnings {
		p.event(ctx, inv, "cleanup.warning", "cleanup: "+w, nil)
	}
	inv.cleanup = report
	return report, nil
}
