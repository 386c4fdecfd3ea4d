package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// DedupKey returns the storage key of one fragment.
//
// Without dedup fields the key is the hash of the fragment text, so identical
// text collapses into one record. With dedup fields the key hashes the named
// metadata values (sorted by field name) and the fragment's position inside
// its document, so re-adding a document with the same field values replaces
// its earlier fragments even when the text changed.
func DedupKey(text string, metadata map[string]string, fields []string, ordinal int) string {
	h := sha256.New()
	if len(fields) == 0 {
		h.Write([]byte(text))
		return hex.EncodeToString(h.Sum(nil))
	}

	sorted := slices.Clone(fields)
	slices.Sort(sorted)
	for _, name := range sorted {
		v, ok := metadata[name]
		if !ok {
			// Present values always start with a digit, so "-" cannot collide.
			fmt.Fprintf(h, "%d:%s=-\n", len(name), name)
			continue
		}
		fmt.Fprintf(h, "%d:%s=%d:%s\n", len(name), name, len(v), v)
	}
	fmt.Fprintf(h, "#%d", ordinal)
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeFields drops duplicates and rejects empty names.
func normalizeFields(fields []string) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("dedup field names must not be empty")
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}
