package types

import (
	"strings"
	"time"
)

// FileRecord describes one uploaded artifact tied to a session.
type FileRecord struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Organization string    `json:"organization"`
	Project      string    `json:"project"`
	Filename     string    `json:"filename"`
	UploadTS     time.Time `json:"upload_ts"`
}

// BlobKey returns the object key for an artifact: {project}/data/{organization}/{filename}.
// Each part must satisfy ValidKeySegment.
func BlobKey(project, organization, filename string) string {
	return project + "/data/" + organization + "/" + filename
}

// ValidKeySegment reports whether s can be used as one blob key segment.
func ValidKeySegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// HasForbiddenExtension reports whether filename ends with one of the given
// extensions, ignoring case.
func HasForbiddenExtension(filename string, extensions []string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range extensions {
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// DisplayName strips the "{lab}_{date}__" prefix extractors put on
// attachment names, keeping the text after the last "__".
func DisplayName(filename string) string {
	if i := strings.LastIndex(filename, "__"); i >= 0 {
		return filename[i+2:]
	}
	return filename
}
