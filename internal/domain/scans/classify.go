package scans

import (
	"path"
	"sort"
	"strings"
)

// Category of a repository file.
type Category string

const (
	CategorySBOM   Category = "sbom"
	CategoryCode   Category = "code"
	CategoryConfig Category = "config"
	CategoryOther  Category = "other"
)

var manifestNames = map[string]bool{
	"package.json": true, "package-lock.json": true, "yarn.lock": true,
	"requirements.txt": true, "Pipfile": true, "Pipfile.lock": true, "poetry.lock": true,
	"pom.xml": true, "build.gradle": true, "build.gradle.kts": true,
	"Cargo.toml": true, "Cargo.lock": true,
	"go.mod": true, "go.sum": true,
	"composer.json": true, "composer.lock": true,
	"Gemfile": true, "Gemfile.lock": true,
}

var codeExtensions = map[string]bool{
	".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".py": true, ".pyx": true,
	".java": true, ".scala": true, ".kt": true,
	".php": true, ".rb": true,
	".go": true, ".rs": true,
	".c": true, ".cpp": true, ".cc": true, ".cxx": true,
	".cs": true, ".vb": true,
	".sql": true, ".pl": true,
}

var configExtensions = map[string]bool{
	".yaml": true, ".yml": true, ".json": true, ".xml": true,
	".toml": true, ".ini": true, ".conf": true, ".config": true,
}

// Classify maps a repository path to its category. Manifest names win over
// extensions, so package.json is sbom and not config.
func Classify(p string) Category {
	name := path.Base(p)
	if manifestNames[name] {
		return CategorySBOM
	}
	ext := strings.ToLower(path.Ext(name))
	switch {
	case codeExtensions[ext]:
		return CategoryCode
	case configExtensions[ext]:
		return CategoryConfig
	}
	return CategoryOther
}

// FileEntry is one file selected for a scan.
type FileEntry struct {
	Path           string   `json:"path"`
	Classification Category `json:"classification"`
	Size           int64    `json:"size"`
}

// TreeNode mirrors the retrieval service's nested structure listing.
type TreeNode struct {
	Type     string              `json:"type"`
	Size     int64               `json:"size,omitempty"`
	Children map[string]TreeNode `json:"children,omitempty"`
}

const (
	NodeFile      = "file"
	NodeDirectory = "directory"
)

// Includes reports whether a file category belongs to the scan kind.
func (k ScanKind) Includes(c Category) bool {
	switch k {
	case ScanSBOM:
		return c == CategorySBOM
	case ScanVulnerability:
		return c == CategoryCode
	}
	return true
}

// FilesForScan flattens a tree listing and keeps the files relevant to kind.
func FilesForScan(tree map[string]TreeNode, kind ScanKind) []FileEntry {
	var out []FileEntry
	var walk func(nodes map[string]TreeNode, prefix string)
	walk = func(nodes map[string]TreeNode, prefix string) {
		for name, n := range nodes {
			p := name
			if prefix != "" {
				p = prefix + "/" + name
			}
			switch n.Type {
			case NodeFile:
				c := Classify(p)
				if kind.Includes(c) {
					out = append(out, FileEntry{Path: p, Classification: c, Size: n.Size})
				}
			case NodeDirectory:
				walk(n.Children, p)
			}
		}
	}
	walk(tree, "")
	return out
}

// Prioritize orders files manifests first, then by ascending size. Ties are
// broken by path so the order is reproducible across runs.
func Prioritize(files []FileEntry) []FileEntry {
	out := make([]FileEntry, len(files))
	copy(out, files)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		am, bm := a.Classification == CategorySBOM, b.Classification == CategorySBOM
		if am != bm {
			return am
		}
		if a.Size != b.Size {
			return a.Size < b.Size
		}
		return a.Path < b.Path
	})
	return out
}
