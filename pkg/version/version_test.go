package version

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.NotEmpty(t, info.BuildDate)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.Platform)
}

func TestGetBuildInfo_ParsesValidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	validDate := "2026-01-13T20:00:00Z"
	BuildDate = validDate

	info := GetBuildInfo()
	require.False(t, info.BuildTime.IsZero())

	expected, err := time.Parse(time.RFC3339, validDate)
	require.NoError(t, err)
	assert.True(t, info.BuildTime.Equal(expected))
}

func TestGetBuildInfo_IgnoresInvalidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	BuildDate = "not-a-date"
	info := GetBuildInfo()
	assert.True(t, info.BuildTime.IsZero())
}

func TestBuildInfoString(t *testing.T) {
	s := GetBuildInfo().String()
	assert.True(t, strings.HasPrefix(s, "trailcap/"))
	assert.Contains(t, s, GitCommit)
}
