package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"regexp"
	"strings"
)

// slugRe matches characters that survive into an explicit topic slug.
var slugRe = regexp.MustCompile(`[^a-z0-9_-]+`)

// ProjectID derives the stable project identifier that scopes an index
// file and raw-document directory. An explicit topic slug is normalized
// and used directly; otherwise the identifier is a 16-hex-digit hash of
// the working directory.
func ProjectID(explicit string) string {
	if explicit != "" {
		slug := strings.ToLower(strings.TrimSpace(explicit))
		slug = slugRe.ReplaceAllString(slug, "-")
		slug = strings.Trim(slug, "-")
		if slug != "" {
			return slug
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "unknown"
	}
	return hashID(wd)
}

// SessionID derives the kernel-session identifier from the working
// directory. Snapshots are keyed by it.
func SessionID(workingDir string) string {
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "unknown"
		}
		workingDir = wd
	}
	return hashID(workingDir)
}

func hashID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
