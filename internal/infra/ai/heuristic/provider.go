// Package heuristic is an offline analysis provider. It detects committed
// secrets and a few risky configuration patterns with regular expressions,
// and reports them in the same free-text shape a language model would.
package heuristic

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bryanwahyu/automaton-reposcan/internal/infra/ai/prompt"
)

type finding struct {
	severity       string
	title          string
	summary        string
	recommendation string
}

type detector struct {
	re             *regexp.Regexp
	title          string
	recommendation string
}

var secretDetectors = []detector{
	{regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), "Private key material committed", "Remove private keys from the repository, rotate affected keys and use a secrets manager."},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "AWS access key exposed", "Revoke the access key and configure credentials via IAM roles or a secret manager."},
	{regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*["']?[A-Za-z0-9/+=]{20,}`), "AWS secret access key exposed", "Rotate the secret, audit usage and move to role-based access."},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{20,}`), "GitHub token exposed", "Revoke the token and store a minimally scoped replacement in CI secrets."},
	{regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`), "GitHub PAT exposed", "Revoke the PAT and inject credentials at runtime."},
	{regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), "Google API key exposed", "Restrict and rotate the key."},
	{regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`), "Slack token exposed", "Revoke the token in Slack admin and rotate."},
	{regexp.MustCompile(`sk_(?:live|test)_[0-9A-Za-z]{10,}`), "Stripe secret key exposed", "Rotate the key in the Stripe dashboard."},
	{regexp.MustCompile(`(?i)sk-[a-z0-9\-_]{20,}`), "OpenAI API key exposed", "Revoke and rotate the key; keep keys in the environment."},
	{regexp.MustCompile(`[A-Za-z0-9-_]{8,}\.eyJ[A-Za-z0-9-_]{5,}\.[A-Za-z0-9-_]{10,}`), "JWT token present", "Invalidate the token and prefer short-lived tokens from an identity provider."},
	{regexp.MustCompile(`(?i)authorization\s*[:=]\s*["']?bearer\s+[A-Za-z0-9\-\._~\+\/]+=*`), "Bearer token exposed", "Remove bearer tokens from code and rotate credentials."},
	{regexp.MustCompile(`(?i)(api[_-]?key|client[_-]?secret|secret|token)\s*[:=]\s*["']?[^\s"']{12,}`), "Sensitive credential literal detected", "Do not hardcode secrets; use environment variables or a secret manager."},
	{regexp.MustCompile(`://[^\s/:@]+:[^\s/@]+@`), "Credentials embedded in URL", "Strip credentials from URLs and pass them via configuration."},
}

var codeDetectors = []detector{
	{regexp.MustCompile(`(?i)\beval\s*\(`), "Dynamic code evaluation", "Avoid eval on data that may be attacker controlled."},
	{regexp.MustCompile(`(?i)(select|insert|update|delete)\s[^;]*["']\s*\+\s*\w+`), "SQL built by string concatenation", "Use parameterized queries."},
	{regexp.MustCompile(`(?i)(md5|sha1)\s*\(`), "Weak hash function", "Use SHA-256 or a password hashing function such as bcrypt."},
	{regexp.MustCompile(`(?i)insecureskipverify\s*:\s*true|verify\s*=\s*false`), "TLS verification disabled", "Enable certificate verification."},
}

var (
	rxPath     = regexp.MustCompile(`file "([^"]*)"`)
	rxPassword = regexp.MustCompile(`(?i)password\s*:`)
)

const maxFindings = 20

type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "heuristic" }

// Complete inspects the fenced payload of the prompt. It never fails.
func (p *Provider) Complete(ctx context.Context, _ string, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := ""
	if m := rxPath.FindStringSubmatch(userPrompt); m != nil {
		path = m[1]
	}
	return render(path, analyze(path, prompt.ExtractContent(userPrompt))), nil
}

func analyze(path, content string) []finding {
	lower := strings.ToLower(content)
	var out []finding
	critical := 0

	for _, d := range secretDetectors {
		if m := d.re.FindString(content); m != "" {
			out = append(out, finding{"Critical", d.title, "Example: " + trim(m, 64), d.recommendation})
			critical++
		}
	}
	for _, d := range codeDetectors {
		if d.re.MatchString(content) {
			out = append(out, finding{"High", d.title, "Pattern found in source.", d.recommendation})
		}
	}
	if strings.Contains(lower, "http://") && strings.Contains(lower, "api") {
		out = append(out, finding{"Medium", "Insecure HTTP reference", "API calls over plain HTTP may expose data in transit.", "Prefer HTTPS for all endpoints."})
	}

	ext := strings.ToLower(path)
	if strings.HasSuffix(ext, ".yml") || strings.HasSuffix(ext, ".yaml") || strings.HasSuffix(ext, ".json") {
		if strings.Contains(lower, "use_ssl: false") || strings.Contains(lower, "usessl: false") {
			out = append(out, finding{"High", "SSL/TLS disabled in config", "Configuration suggests TLS is disabled.", "Enable TLS in all environments."})
		}
		if rxPassword.MatchString(content) && critical == 0 {
			out = append(out, finding{"Low", "Password field present", "Verify the value is sourced from a secret store.", "Load passwords from the environment."})
		}
	}

	if len(out) > maxFindings {
		out = out[:maxFindings]
	}
	return out
}

func render(path string, findings []finding) string {
	if len(findings) == 0 {
		return fmt.Sprintf("No issues detected in %s by pattern analysis. False negatives are possible; enable secret scanning in CI.", path)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Findings for %s:\n", path)
	for _, f := range findings {
		fmt.Fprintf(&sb, "- Severity: %s. %s. %s Remediation: %s\n", f.severity, f.title, f.summary, f.recommendation)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
