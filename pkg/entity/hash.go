package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ComputeContentHash hashes the descriptive content of an entity. Metrics
// and timestamps are excluded so the hash only moves when the text does.
func ComputeContentHash(e *Entity) string {
	tags := append([]string(nil), e.Tags...)
	sort.Strings(tags)

	h := sha256.New()
	for _, part := range []string{e.Title, e.Description, e.BodyContent, strings.Join(tags, ",")} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
