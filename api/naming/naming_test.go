package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimestamp(t *testing.T) {
	now := time.Date(2020, 4, 27, 17, 6, 40, 123_000_000, time.FixedZone("CEST", 2*3600))
	dir := NewTimestamp(now)
	assert.Equal(t, "1588000000123-2020-04-27T15:06:40.123Z", dir)
	assert.True(t, IsTemplateDirectory(dir))

	ts, ok := TimestampOf(dir)
	require.True(t, ok)
	assert.Equal(t, "1588000000123", ts)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "skald/api/dev/1-x/compiled-template.json", TemplateKey("skald/api/dev", "1-x"))
	assert.Equal(t, "skald/api/dev/1-x/artifacts.json", ManifestKey("skald/api/dev", "1-x"))
	assert.Equal(t, "skald/api/dev/code-artifacts/cafebabe.zip", ArtifactKey("skald/api/dev", "cafebabe", ".zip"))
}

func TestParseKey(t *testing.T) {
	dir := "1588000000123-2020-04-27T15:06:40.123Z"

	p, ok := ParseKey("skald/api/dev/" + dir + "/" + TemplateFile)
	require.True(t, ok)
	assert.Equal(t, ParsedKey{
		Prefix:            "skald/api/dev",
		TemplateDirectory: dir,
		Timestamp:         "1588000000123",
		File:              TemplateFile,
	}, p)

	p, ok = ParseKey("skald/api/dev/feature-x/" + dir + "/" + ManifestFile)
	require.True(t, ok)
	assert.Equal(t, "skald/api/dev/feature-x", p.Prefix)

	for _, key := range []string{
		"skald/api/dev/code-artifacts/cafebabe.zip",
		"skald/api/dev/not-a-timestamp/" + TemplateFile,
		dir + "/" + TemplateFile,
		"skald/api/dev/" + dir + "/",
		"random.txt",
	} {
		_, ok := ParseKey(key)
		assert.False(t, ok, key)
	}
}
