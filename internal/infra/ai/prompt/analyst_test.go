package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
)

func TestSystemInstruction(t *testing.T) {
	assert.Contains(t, SystemInstruction(scans.ScanSBOM), "dependency analysis")
	assert.Contains(t, SystemInstruction(scans.ScanVulnerability), "injection flaws")
	assert.NotContains(t, SystemInstruction(scans.ScanComplete), "Focus specifically")
}

func TestFilePrompt(t *testing.T) {
	p := FilePrompt("src/app.js", scans.CategoryCode, "chunk_2_of_7", "eval(x)")
	assert.Contains(t, p, `code file "src/app.js" (chunk_2_of_7)`)
	assert.Equal(t, "eval(x)", ExtractContent(p))

	p = FilePrompt("go.mod", scans.CategorySBOM, "", "module x")
	assert.Contains(t, p, `sbom file "go.mod" for`)
}

func TestSnippetPrompt(t *testing.T) {
	p, err := SnippetPrompt("SELECT 1", map[string]string{"lodash": "4.17.0"})
	require.NoError(t, err)
	assert.Contains(t, p, "SELECT 1")
	assert.Contains(t, p, `"lodash": "4.17.0"`)

	p, err = SnippetPrompt("", nil)
	require.NoError(t, err)
	assert.Empty(t, p)
}
