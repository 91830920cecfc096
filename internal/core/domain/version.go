package domain

import (
	"strings"
	"time"
)

// DocumentVersion is one version of a document referenced by an entity.
type DocumentVersion struct {
	// ID is the upstream identifier of the version.
	ID string

	// URL is where the version can be fetched.
	URL string

	// MIMEType is the declared content type, if any.
	MIMEType string

	// CreatedAt is the upstream creation timestamp.
	CreatedAt time.Time
}

// LatestVersion picks the current version of a document: highest creation
// timestamp, ties broken by highest identity key. Keys compare numerically
// when both are integers.
func LatestVersion(versions []DocumentVersion) (DocumentVersion, bool) {
	if len(versions) == 0 {
		return DocumentVersion{}, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if v.CreatedAt.After(best.CreatedAt) {
			best = v
			continue
		}
		if v.CreatedAt.Equal(best.CreatedAt) && CompareKeys(v.ID, best.ID) > 0 {
			best = v
		}
	}
	return best, true
}

// CompareKeys orders identity keys. Integer keys compare by value so that
// "10" sorts after "9"; anything else compares lexically.
func CompareKeys(a, b string) int {
	if isDigits(a) && isDigits(b) {
		a = strings.TrimLeft(a, "0")
		b = strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
