// Package checksum fingerprints vault file contents. A digest serves as the
// entity tag of a note for optimistic concurrency and lets the workspace
// recognise canvas files it wrote itself.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ETag formats sum as a strong entity tag.
func ETag(sum string) string {
	return `"` + sum + `"`
}

// Matches reports whether an If-Match value accepts content whose digest is
// sum. An empty value and "*" accept anything. Otherwise the value is a
// comma separated list of tags, quoted or bare. Weak tags never match.
func Matches(ifMatch, sum string) bool {
	ifMatch = strings.TrimSpace(ifMatch)
	if ifMatch == "" || ifMatch == "*" {
		return true
	}
	for _, tag := range strings.Split(ifMatch, ",") {
		tag = strings.TrimSpace(tag)
		if strings.HasPrefix(tag, "W/") {
			continue
		}
		if strings.Trim(tag, `"`) == sum {
			return true
		}
	}
	return false
}
