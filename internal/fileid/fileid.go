// Package fileid derives stable identifiers for stored chunks and ingested files.
package fileid

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// namespace scopes point ids so the same source_id always maps to the same UUID.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mondai:chunk"))

// PointID returns a deterministic UUIDv5 for a chunk source id
// ("<file>__p<page>__c<chunk>"). Re-ingesting a file overwrites the same points.
func PointID(sourceID string) string {
	return uuid.NewSHA1(namespace, []byte(sourceID)).String()
}

// Filename returns the name a file is stored under: its base name with
// surrounding whitespace removed. Paths that clean to "." or "/" give "".
func Filename(path string) string {
	base := strings.TrimSpace(filepath.Base(filepath.Clean(path)))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}
