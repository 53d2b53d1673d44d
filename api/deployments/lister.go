// Package deployments discovers stored deployments and prunes old ones.
package deployments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"skald/api/artifact"
	"skald/api/model"
	"skald/api/naming"
	"skald/api/storage"
)

// Lister derives deployment records from the objects in the deployment
// bucket. It holds no state of its own.
type Lister struct {
	Store storage.ObjectStore
	Log   *zap.Logger
}

func NewLister(store storage.ObjectStore, log *zap.Logger) *Lister {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lister{Store: store, Log: log}
}

type groupKey struct {
	prefix string
	dir    string
}

type group struct {
	model.Deployment
	hasTemplate bool
}

// Find returns the complete deployments of target, oldest first. A
// deployment without its template object is still being written (or was
// interrupted) and is left out.
func (l *Lister) Find(ctx context.Context, target model.Target) ([]model.Deployment, error) {
	objects, err := l.Store.List(ctx, target.Namespace())
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	groups := map[groupKey]*group{}
	for _, obj := range objects {
		p, ok := naming.ParseKey(obj.Key)
		if !ok {
			continue
		}
		k := groupKey{prefix: p.Prefix, dir: p.TemplateDirectory}
		g, ok := groups[k]
		if !ok {
			g = &group{Deployment: model.Deployment{
				Timestamp:         p.Timestamp,
				Prefix:            p.Prefix,
				TemplateDirectory: p.TemplateDirectory,
			}}
			groups[k] = g
		}
		switch p.File {
		case naming.TemplateFile:
			g.TemplateKey = obj.Key
			g.hasTemplate = true
		case naming.ManifestFile:
			g.ManifestKey = obj.Key
		default:
			// objects stored beside the template belong to the deployment
			g.ArtifactNames = append(g.ArtifactNames, obj.Key)
		}
	}

	var out []model.Deployment
	for _, g := range groups {
		if !g.hasTemplate {
			l.Log.Debug("skipping incomplete deployment",
				zap.String("prefix", g.Prefix), zap.String("directory", g.TemplateDirectory))
			continue
		}
		if g.ManifestKey != "" {
			keys, err := l.readManifest(ctx, g.ManifestKey)
			if err != nil {
				return nil, err
			}
			g.ArtifactNames = append(g.ArtifactNames, keys...)
		}
		if g.ArtifactNames == nil {
			g.ArtifactNames = []string{}
		}
		out = append(out, g.Deployment)
	}
	Sort(out)
	return out, nil
}

// InLineage keeps the deployments written under prefix. Retention is
// counted per lineage so a busy lineage never evicts another's history.
func InLineage(ds []model.Deployment, prefix string) []model.Deployment {
	out := make([]model.Deployment, 0, len(ds))
	for _, d := range ds {
		if d.Prefix == prefix {
			out = append(out, d)
		}
	}
	return out
}

func (l *Lister) readManifest(ctx context.Context, key string) ([]string, error) {
	data, _, err := l.Store.Get(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		// removed between list and get by a concurrent cleanup
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact manifest: %w", err)
	}
	var m artifact.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse artifact manifest %s: %w", key, err)
	}
	return m.Artifacts, nil
}

// Sort orders deployments oldest first, by numeric timestamp then prefix.
func Sort(ds []model.Deployment) {
	sort.SliceStable(ds, func(i, j int) bool {
		ti, _ := strconv.ParseInt(ds[i].Timestamp, 10, 64)
		tj, _ := strconv.ParseInt(ds[j].Timestamp, 10, 64)
		if ti != tj {
			return ti < tj
		}
		return ds[i].Prefix < ds[j].Prefix
	})
}
