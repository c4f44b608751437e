package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/raaihank/log-sentinel/internal/source"
)

// ContentDigests returns the content hash of every source: sha256 of the
// source's line texts in order, each terminated by a newline
func ContentDigests(lines []source.RawLine) map[source.ID]string {
	ids, groups := source.Group(lines)
	digests := make(map[source.ID]string, len(ids))
	for _, id := range ids {
		h := sha256.New()
		for _, l := range groups[id] {
			h.Write([]byte(l.Text))
			h.Write([]byte{'\n'})
		}
		digests[id] = hex.EncodeToString(h.Sum(nil))
	}
	return digests
}

// FingerprintDigests hashes sorted (source, content hash) pairs. Adapters
// that already hold per-source digests use it directly.
func FingerprintDigests(digests map[source.ID]string) string {
	h := sha256.New()
	for _, id := range source.SortedIDs(digests) {
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write([]byte(digests[id]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeFingerprint returns the baseline fingerprint of lines. The same
// baseline content always yields the same fingerprint whatever order its
// sources arrive in.
func ComputeFingerprint(lines []source.RawLine) string {
	return FingerprintDigests(ContentDigests(lines))
}
