package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"skald/api/artifact"
	"skald/api/deployments"
	"skald/api/model"
	"skald/api/naming"
	"skald/api/storage"
)

var timestampRe = regexp.MustCompile(`^\d+$`)

// ErrTemplateCorrupt means a stored template no longer matches the digest
// recorded when it was uploaded.
var ErrTemplateCorrupt = errors.New("stored template does not match its recorded digest")

// Rollback points the stack back at the stored deployment with timestamp.
// It reuses the stored template and artifacts and never uploads. When the
// timestamp cannot be resolved the stack is not touched.
func (p *Pipeline) Rollback(ctx context.Context, inv *Invocation, timestamp string, params map[string]string) (*model.Result, error) {
	inv.Parameters = params
	steps := []step{
		{name: "resolve", fn: func(ctx context.Context, inv *Invocation) error { return p.resolve(ctx, inv, timestamp) }},
		{name: "fetch", fn: p.fetchTemplate},
		{name: "update", fn: p.submit},
		{name: "monitor", fn: p.await},
	}

	res := &model.Result{SagaID: inv.SagaID, Timestamp: timestamp}
	if err := p.run(ctx, inv, steps); err != nil {
		res.Outcome = model.OutcomeFailed
		res.Elapsed = inv.outcome.Elapsed
		p.finish(ctx, inv, model.StatusFailed, err)
		return res, err
	}

	res.Outcome = inv.outcome.Result
	res.Elapsed = inv.outcome.Elapsed
	status := model.StatusRolledBack
	if res.Outcome == model.OutcomeSkipped {
		status = model.StatusSkipped
	}
	p.finish(ctx, inv, status, nil)
	return res, nil
}

// ValidateTimestamp rejects anything that cannot name a deployment.
func ValidateTimestamp(ts string) error {
	if !timestampRe.MatchString(ts) {
		return &model.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("%q is not a deployment timestamp", ts)}
	}
	return nil
}

// resolve repoints the invocation at the deployment named by timestamp.
func (p *Pipeline) resolve(ctx context.Context, inv *Invocation, timestamp string) error {
	if err := ValidateTimestamp(timestamp); err != nil {
		return err
	}
	ds, err := deployments.NewLister(inv.store, inv.log).Find(ctx, inv.Target)
	if err != nil {
		return err
	}
	d, err := Match(ds, timestamp, inv.Target.DeploymentPrefix())
	if err != nil {
		return err
	}
	inv.Prefix = d.Prefix
	inv.TemplateDirectory = d.TemplateDirectory
	inv.log.Info("rolling back", zap.String("prefix", d.Prefix), zap.String("templateDirectory", d.TemplateDirectory))
	return nil
}

// Match finds the deployment whose timestamp equals ts. When several
// lineages share the timestamp the one under prefix wins.
func Match(ds []model.Deployment, ts, prefix string) (*model.Deployment, error) {
	if len(ds) == 0 {
		return nil, model.ErrDeploymentsNotFound
	}
	var found *model.Deployment
	for i := range ds {
		if ds[i].Timestamp != ts {
			continue
		}
		if found == nil || ds[i].Prefix == prefix {
			found = &ds[i]
		}
	}
	if found == nil {
		return nil, &model.DeploymentNotFoundError{Timestamp: ts}
	}
	return found, nil
}

// fetchTemplate loads the stored template and checks it against the digest
// written beside it.
func (p *Pipeline) fetchTemplate(ctx context.Context, inv *Invocation) error {
	key := naming.TemplateKey(inv.Prefix, inv.TemplateDirectory)
	body, info, err := inv.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch template: %w", err)
	}
	want := info.Metadata[storage.MetaDigest]
	if want == "" {
		inv.log.Warn("stored template has no digest", zap.String("key", key))
	} else {
		got, err := artifact.Digest(bytes.NewReader(body))
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%s: %w", key, ErrTemplateCorrupt)
		}
	}
	inv.template = model.Template{Body: body, URL: inv.store.URL(key)}
	return nil
}
