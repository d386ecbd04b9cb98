package syncfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deploycenter/deploy-center/internal/syncfs"
)

func TestMatcher_FixedPatterns(t *testing.T) {
	m := syncfs.NewMatcher(nil)

	assert.True(t, m.Match(".env"))
	assert.True(t, m.Match("node_modules/lodash/index.js"))
	assert.True(t, m.Match("storage/app/file.txt"))
	assert.True(t, m.Match("app.log"))
	assert.True(t, m.Match(".git/HEAD"))
	assert.False(t, m.Match("src/main.go"))
	assert.False(t, m.Match("index.html"))
}

func TestMatcher_ProjectPatterns(t *testing.T) {
	m := syncfs.NewMatcher([]string{"config/secrets.yaml", "data/**"})

	assert.True(t, m.Match("config/secrets.yaml"))
	assert.True(t, m.Match("data/sub/file.bin"))
	assert.False(t, m.Match("config/app.yaml"))
}

func TestMatcher_WildcardSingleSegment(t *testing.T) {
	m := syncfs.NewMatcher([]string{"build/*.tmp"})

	assert.True(t, m.Match("build/a.tmp"))
	assert.False(t, m.Match("build/nested/a.tmp"))
}
