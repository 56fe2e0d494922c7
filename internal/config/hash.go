package config

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
)

// hashBytes returns a 64-bit FNV-1a digest of b. Zero is reserved to mean
// "no hash", so a zero digest maps to 1.
func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	s := h.Sum64()
	if s == 0 {
		return 1
	}
	return s
}

// canonicalHashJSON hashes a raw JSON blob after compaction so that
// whitespace and indentation differences don't register as changes. Empty
// blobs hash to 0; blobs that fail compaction are hashed as-is.
func canonicalHashJSON(raw json.RawMessage) uint64 {
	if len(bytes.TrimSpace(raw)) == 0 {
		return 0
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return hashBytes(raw)
	}
	return hashBytes(buf.Bytes())
}
