package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "1.2.3"

	info := Info()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, GitSHA, info.GitSHA)
	assert.Equal(t, "1.2.3 (unknown, built unknown)", info.String())
}
