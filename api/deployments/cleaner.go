package deployments

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"skald/api/model"
	"skald/api/storage"
)

// SelectForRemoval returns the keys of every deployment except the keep most
// recent ones. deployments must be ordered oldest first. Artifacts shared
// with a retained deployment are not returned.
func SelectForRemoval(deployments []model.Deployment, keep int) []string {
	if keep <= 0 || keep >= len(deployments) {
		return nil
	}
	cut := len(deployments) - keep

	retained := map[string]bool{}
	for _, d := range deployments[cut:] {
		for _, k := range d.Objects() {
			retained[k] = true
		}
	}

	seen := map[string]bool{}
	var keys []string
	for _, d := range deployments[:cut] {
		for _, k := range d.Objects() {
			if retained[k] || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// Cleaner removes old deployments from the bucket. Removal is advisory:
// failures are logged and reported, never returned as errors.
type Cleaner struct {
	Store storage.ObjectStore
	Log   *zap.Logger
}

func NewCleaner(store storage.ObjectStore, log *zap.Logger) *Cleaner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cleaner{Store: store, Log: log}
}

// CleanupReport lists what a cleanup removed and the warnings it raised.
type CleanupReport struct {
	Removed  []string `json:"removed"`
	Warnings []string `json:"warnings,omitempty"`
}

// Delete removes keys best effort.
func (c *Cleaner) Delete(ctx context.Context, keys []string) *CleanupReport {
	report := &CleanupReport{Removed: []string{}}
	if len(keys) == 0 {
		return report
	}
	c.Log.Info("removing old service artifacts", zap.Int("objects", len(keys)))

	failures, err := c.Store.Delete(ctx, keys)
	if err != nil {
		c.Log.Warn("cleanup failed", zap.Error(err))
		report.Warnings = append(report.Warnings, err.Error())
		return report
	}
	failed := map[string]bool{}
	for _, f := range failures {
		failed[f.Key] = true
		c.Log.Warn("could not remove object", zap.String("key", f.Key), zap.Error(f.Err))
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", f.Key, f.Err))
	}
	for _, k := range keys {
		if !failed[k] {
			report.Removed = append(report.Removed, k)
		}
	}
	return report
}
