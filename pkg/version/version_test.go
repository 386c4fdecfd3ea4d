package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	// Given: the package default or an ldflags-injected version
	if Version == "dev" {
		t.Log("Version is 'dev' (development build without ldflags)")
		return
	}

	// Then: it follows semver
	semverRegex := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semverRegex.MatchString(Version), "Version should follow semver format, got: %s", Version)
}

func TestString_ReturnsFormattedString(t *testing.T) {
	str := String()

	assert.Contains(t, str, Version)
	assert.Contains(t, str, "indexify")
	assert.Contains(t, str, "commit")
	assert.Contains(t, str, "go")
}

func TestShortAndUserAgent(t *testing.T) {
	assert.Equal(t, Version, Short())
	assert.Equal(t, "indexify/"+Version, UserAgent())
}

func TestGetInfo_MarshalsForJSONOutput(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"go_version"`)
}
