package scans

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := map[string]Category{
		"package.json":             CategorySBOM,
		"web/package-lock.json":    CategorySBOM,
		"svc/go.mod":               CategorySBOM,
		"Gemfile":                  CategorySBOM,
		"main.go":                  CategoryCode,
		"src/App.TSX":              CategoryCode,
		"db/schema.sql":            CategoryCode,
		"deploy/values.yaml":       CategoryConfig,
		"tsconfig.json":            CategoryConfig,
		"README.md":                CategoryOther,
		"Makefile":                 CategoryOther,
		"vendor/foo-package.json":  CategoryConfig,
		"docs/requirements.txt.md": CategoryOther,
	}
	for p, want := range cases {
		assert.Equal(t, want, Classify(p), p)
	}
}

func sampleTree() map[string]TreeNode {
	return map[string]TreeNode{
		"go.mod":    {Type: NodeFile, Size: 120},
		"README.md": {Type: NodeFile, Size: 900},
		"cmd": {Type: NodeDirectory, Children: map[string]TreeNode{
			"main.go": {Type: NodeFile, Size: 4000},
		}},
		"internal": {Type: NodeDirectory, Children: map[string]TreeNode{
			"util.go":     {Type: NodeFile, Size: 300},
			"config.yaml": {Type: NodeFile, Size: 50},
		}},
	}
}

func paths(files []FileEntry) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestFilesForScan(t *testing.T) {
	t.Run("complete keeps everything", func(t *testing.T) {
		files := FilesForScan(sampleTree(), ScanComplete)
		assert.ElementsMatch(t,
			[]string{"go.mod", "README.md", "cmd/main.go", "internal/util.go", "internal/config.yaml"},
			paths(files))
	})

	t.Run("sbom keeps manifests", func(t *testing.T) {
		files := FilesForScan(sampleTree(), ScanSBOM)
		assert.Equal(t, []string{"go.mod"}, paths(files))
	})

	t.Run("vulnerability keeps source code", func(t *testing.T) {
		files := FilesForScan(sampleTree(), ScanVulnerability)
		assert.ElementsMatch(t, []string{"cmd/main.go", "internal/util.go"}, paths(files))
	})
}

func TestPrioritize(t *testing.T) {
	files := FilesForScan(sampleTree(), ScanComplete)
	got := paths(Prioritize(files))
	assert.Equal(t, []string{
		"go.mod",
		"internal/config.yaml",
		"internal/util.go",
		"README.md",
		"cmd/main.go",
	}, got)
}

func TestPrioritize_TiesByPath(t *testing.T) {
	files := []FileEntry{
		{Path: "b.go", Classification: CategoryCode, Size: 10},
		{Path: "a.go", Classification: CategoryCode, Size: 10},
		{Path: "yarn.lock", Classification: CategorySBOM, Size: 99999},
	}
	assert.Equal(t, []string{"yarn.lock", "a.go", "b.go"}, paths(Prioritize(files)))
	// input is not reordered in place
	assert.Equal(t, "b.go", files[0].Path)
}

func TestParseScanKind(t *testing.T) {
	for _, s := range []string{"complete", "sbom", "vulnerability"} {
		k, err := ParseScanKind(s)
		assert.NoError(t, err)
		assert.Equal(t, ScanKind(s), k)
	}
	_, err := ParseScanKind("full")
	assert.ErrorIs(t, err, ErrInvalidScanKind)
}
