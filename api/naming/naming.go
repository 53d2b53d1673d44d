// Package naming derives storage keys for deployments and their artifacts.
//
// Layout under a deployment prefix:
//
//	<prefix>/<templateDirectory>/compiled-template.json
//	<prefix>/<templateDirectory>/artifacts.json
//	<prefix>/code-artifacts/<digest>.zip
//
// A template directory is "<unix millis>-<RFC3339 millis UTC>"; the leading
// millis are the deployment's timestamp.
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	TemplateFile      = "compiled-template.json"
	ManifestFile      = "artifacts.json"
	ArtifactDirectory = "code-artifacts"
)

var templateDirRe = regexp.MustCompile(`^(\d+)-\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`)

// NewTimestamp returns the template directory name for a deploy started at now.
// Call it once per deploy and reuse the value for every object of that deploy.
func NewTimestamp(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%d-%s", now.UnixMilli(), now.Format("2006-01-02T15:04:05.000Z"))
}

// TimestampOf returns the user-facing timestamp of a template directory.
func TimestampOf(templateDirectory string) (string, bool) {
	m := templateDirRe.FindStringSubmatch(templateDirectory)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func IsTemplateDirectory(s string) bool {
	return templateDirRe.MatchString(s)
}

func TemplateKey(prefix, templateDirectory string) string {
	return prefix + "/" + templateDirectory + "/" + TemplateFile
}

func ManifestKey(prefix, templateDirectory string) string {
	return prefix + "/" + templateDirectory + "/" + ManifestFile
}

// ArtifactKey returns the content-addressed key of an artifact. ext includes
// the leading dot.
func ArtifactKey(prefix, digest, ext string) string {
	return prefix + "/" + ArtifactDirectory + "/" + digest + ext
}

// ParsedKey is an object key split along the deployment layout.
type ParsedKey struct {
	Prefix            string
	TemplateDirectory string
	Timestamp         string
	File              string
}

// ParseKey splits a key of the form <prefix>/<templateDirectory>/<file>.
// Keys that do not follow the layout, including code artifacts, report false.
func ParseKey(key string) (ParsedKey, bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return ParsedKey{}, false
	}
	file := parts[len(parts)-1]
	dir := parts[len(parts)-2]
	ts, ok := TimestampOf(dir)
	if !ok || file == "" {
		return ParsedKey{}, false
	}
	prefix := strings.Join(parts[:len(parts)-2], "/")
	if prefix == "" {
		return ParsedKey{}, false
	}
	return ParsedKey{Prefix: prefix, TemplateDirectory: dir, Timestamp: ts, File: file}, true
}
