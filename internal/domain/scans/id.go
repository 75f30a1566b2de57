package scans

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewReportID builds YYYYMMDDHHMMSS_<repo>_<KIND>_<uuid8>. The timestamp prefix
// keeps ids sortable by creation time.
func NewReportID(now time.Time, repoID string, kind ScanKind) ReportID {
	repo := repoID
	if len(repo) > 8 {
		repo = repo[:8]
	}
	short := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return ReportID(fmt.Sprintf("%s_%s_%s_%s",
		now.UTC().Format("20060102150405"), repo, strings.ToUpper(string(kind)), short))
}
