package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
)

const baseInstruction = `You are a security expert. Analyze the provided code snippets and dependency files for potential security vulnerabilities and outdated packages.
Provide a detailed report of your findings, including the vulnerability type, severity, and recommended remediation.
For dependency files, list any outdated packages with their current version and the recommended latest version.`

// SystemInstruction returns the role instruction for a scan kind.
func SystemInstruction(kind scans.ScanKind) string {
	switch kind {
	case scans.ScanSBOM:
		return baseInstruction + "\nFocus specifically on dependency analysis, version checks, and known vulnerabilities in packages."
	case scans.ScanVulnerability:
		return baseInstruction + "\nFocus specifically on code-level security vulnerabilities like injection flaws, authentication issues, and logic errors."
	}
	return baseInstruction
}

// FilePrompt wraps one file, or one chunk of it, for analysis.
func FilePrompt(path string, category scans.Category, chunkLabel, content string) string {
	info := ""
	if chunkLabel != "" {
		info = fmt.Sprintf(" (%s)", chunkLabel)
	}
	return fmt.Sprintf("Analyze the following %s file %q%s for security issues:\n\n```\n%s\n```",
		strings.ToLower(string(category)), path, info, content)
}

// SnippetPrompt builds a prompt for code and/or a dependency document posted
// directly by a caller.
func SnippetPrompt(code string, dependencies any) (string, error) {
	var sb strings.Builder
	if code != "" {
		fmt.Fprintf(&sb, "Analyze the following code for security vulnerabilities:\n\n```\n%s\n```\n\n", code)
	}
	if dependencies != nil {
		b, err := json.MarshalIndent(dependencies, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal dependencies: %w", err)
		}
		fmt.Fprintf(&sb, "Analyze the following dependencies for outdated packages:\n\n```\n%s\n```", b)
	}
	return sb.String(), nil
}

// ExtractContent returns the text between the first code fence pair of a
// prompt built by this package. Offline providers use it to see the payload.
func ExtractContent(p string) string {
	start := strings.Index(p, "```\n")
	if start < 0 {
		return p
	}
	rest := p[start+4:]
	end := strings.LastIndex(rest, "\n```")
	if end < 0 {
		return rest
	}
	return rest[:end]
}
