package middleware

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

var (
	ownerRepoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	branchPattern    = regexp.MustCompile(`^[A-Za-z0-9._/-]{1,255}$`)
)

// NormalizeRepoURL validates a repository URL and returns it in canonical
// form. The "owner/repo" shorthand expands to a GitHub https URL.
func NormalizeRepoURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("repo_url cannot be empty")
	}
	if ownerRepoPattern.MatchString(raw) && !strings.Contains(raw, "..") {
		raw = "https://github.com/" + raw
	}
	if err := ValidateURL(raw); err != nil {
		return "", err
	}
	return strings.TrimSuffix(raw, "/"), nil
}

// ValidateURL validates and sanitizes URLs
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	// Parse URL
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	// Check scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (allowed: http, https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}

	// Check for localhost/internal IPs (SSRF protection)
	host := strings.ToLower(u.Hostname())
	blocked := []string{"localhost", "127.0.0.1", "0.0.0.0", "[::]", "::1"}
	for _, b := range blocked {
		if strings.Contains(host, b) {
			return fmt.Errorf("localhost/internal IPs are not allowed")
		}
	}

	// Block private IP ranges (basic check)
	if strings.HasPrefix(host, "10.") ||
		strings.HasPrefix(host, "192.168.") ||
		strings.HasPrefix(host, "169.254.") ||
		isPrivate172(host) {
		return fmt.Errorf("private IP ranges are not allowed")
	}

	return nil
}

// 172.16.0.0/12
func isPrivate172(host string) bool {
	if !strings.HasPrefix(host, "172.") {
		return false
	}
	var second int
	if _, err := fmt.Sscanf(strings.TrimPrefix(host, "172."), "%d.", &second); err != nil {
		return false
	}
	return second >= 16 && second <= 31
}

// ValidateBranch checks a git branch name. Empty is allowed and means the
// default branch.
func ValidateBranch(branch string) error {
	if branch == "" {
		return nil
	}
	if !branchPattern.MatchString(branch) ||
		strings.Contains(branch, "..") ||
		strings.HasPrefix(branch, "-") ||
		strings.HasPrefix(branch, "/") ||
		strings.HasSuffix(branch, "/") {
		return fmt.Errorf("invalid branch name: %q", branch)
	}
	return nil
}

// ValidateReportID validates report ID format
func ValidateReportID(id string) error {
	if id == "" {
		return fmt.Errorf("report ID cannot be empty")
	}
	if len(id) > 128 {
		return fmt.Errorf("report ID too long")
	}

	// Block dangerous patterns
	dangerous := []string{"/", "\\", "..", "$(", "`", "&", "|", ";", "\n", "\r", " "}
	for _, d := range dangerous {
		if strings.Contains(id, d) {
			return fmt.Errorf("invalid characters in report ID")
		}
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 50 // default
	}
	if limit > 200 {
		return 200 // max limit
	}
	return limit
}
