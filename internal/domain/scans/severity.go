package scans

import (
	"regexp"
	"strings"
)

// Keyword counting over free text is heuristic and may over or undercount
// depending on how the provider phrases its findings.
var (
	rxCritical = regexp.MustCompile(`critical|severity.*critical|critical.*severity`)
	rxHigh     = regexp.MustCompile(`high.*severity|severity.*high`)
	rxMedium   = regexp.MustCompile(`medium.*severity|severity.*medium`)
	rxLow      = regexp.MustCompile(`low.*severity|severity.*low`)
)

// CountSeverities counts case-insensitive severity mentions in an analysis.
func CountSeverities(analysis string) SeverityCounts {
	if analysis == "" {
		return SeverityCounts{}
	}
	s := strings.ToLower(analysis)
	return SeverityCounts{
		Critical: len(rxCritical.FindAllStringIndex(s, -1)),
		High:     len(rxHigh.FindAllStringIndex(s, -1)),
		Medium:   len(rxMedium.FindAllStringIndex(s, -1)),
		Low:      len(rxLow.FindAllStringIndex(s, -1)),
	}
}
