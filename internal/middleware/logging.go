package middleware

import (
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/sapcc/go-bits/logg"
)

// accessLog writes one REQUEST line per call. Probe and scrape endpoints
// are left out, server errors are logged with their response body.
var accessLog = logg.Middleware{ExceptURLPath: publicPathPattern()}

func publicPathPattern() *regexp.Regexp {
	paths := make([]string, 0, len(publicPaths))
	for p := range publicPaths {
		paths = append(paths, regexp.QuoteMeta(p))
	}
	sort.Strings(paths)
	return regexp.MustCompile(`^(` + strings.Join(paths, "|") + `)$`)
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware(next http.Handler) http.Handler {
	return accessLog.Wrap(next)
}
