// Package archive persists poll reports as JSON blobs. Backends live in the
// memory, local and gcs subpackages.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ContentTypeJSON is the content type of archived reports.
const ContentTypeJSON = "application/json"

// BlobStore is implemented by every archive backend.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ReportPath builds "{prefix}/{yyyy}/{mm}/{dd}/{runID}.json" in UTC.
func ReportPath(prefix string, at time.Time, runID string) string {
	at = at.UTC()
	day := fmt.Sprintf("%04d/%02d/%02d", at.Year(), int(at.Month()), at.Day())
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(day, runID+".json")
	}
	return path.Join(prefix, day, runID+".json")
}
