package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withVersion(t *testing.T, version, commit string) {
	t.Helper()
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })
	Version, Commit = version, commit
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestString(t *testing.T) {
	withVersion(t, "1.2.3", "unknown")
	s := String()
	assert.Contains(t, s, ApplicationName+" version 1.2.3")
	assert.NotContains(t, s, "commit:")

	withVersion(t, "1.2.3", "abc123def456789")
	assert.Contains(t, String(), "commit: abc123de")
}

func TestShort(t *testing.T) {
	withVersion(t, "1.0.0", "unknown")
	assert.Equal(t, "1.0.0", Short())

	withVersion(t, "1.0.0", "abc123def456789")
	assert.Equal(t, "1.0.0 (abc123de)", Short())

	withVersion(t, "1.0.0", "abc")
	assert.Equal(t, "1.0.0", Short())
}

func TestUserAgent(t *testing.T) {
	withVersion(t, "2.0.0", "unknown")
	assert.Equal(t, "hlsclient/2.0.0", UserAgent())
}
