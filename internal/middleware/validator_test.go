package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRepoURL(t *testing.T) {
	got, err := NormalizeRepoURL("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", got)

	got, err = NormalizeRepoURL(" https://gitlab.com/acme/widgets/ ")
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.com/acme/widgets", got)

	for _, bad := range []string{
		"",
		"ftp://example.com/repo",
		"http://localhost:8080/repo",
		"https://10.0.0.4/repo",
		"https://172.20.1.1/repo",
		"https://169.254.169.254/latest",
		"../etc",
	} {
		_, err := NormalizeRepoURL(bad)
		assert.Error(t, err, bad)
	}

	_, err = NormalizeRepoURL("https://172.32.0.1/repo")
	assert.NoError(t, err, "outside 172.16.0.0/12")
}

func TestValidateBranch(t *testing.T) {
	for _, ok := range []string{"", "main", "release/1.2", "feature-x_y"} {
		assert.NoError(t, ValidateBranch(ok), ok)
	}
	for _, bad := range []string{"-x", "a..b", "/main", "main/", "has space", "semi;colon"} {
		assert.Error(t, ValidateBranch(bad), bad)
	}
}

func TestValidateReportID(t *testing.T) {
	assert.NoError(t, ValidateReportID("20250301120000_repo42_COMPLETE_1a2b3c4d"))
	assert.Error(t, ValidateReportID(""))
	assert.Error(t, ValidateReportID("a/../b"))
	assert.Error(t, ValidateReportID("x;rm"))
}

func TestValidateLimit(t *testing.T) {
	assert.Equal(t, 50, ValidateLimit(0))
	assert.Equal(t, 50, ValidateLimit(-3))
	assert.Equal(t, 10, ValidateLimit(10))
	assert.Equal(t, 200, ValidateLimit(1000))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString(" a\x00b\x07c\r "))
}
