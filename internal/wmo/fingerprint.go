package wmo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"time"
)

// Fingerprint computes the stable deduplication hash described in spec.md
// §4.3: stable_hash(cccc, awips_id, issued_at, sha256(text)). sha256 gives
// the text component a fixed-width, collision-resistant digest; fnv-1a
// combines the fields into a single short stable identifier suitable for
// use as an LRU key.
func Fingerprint(cccc, awipsID string, issuedAt time.Time, text string) string {
	textDigest := sha256.Sum256([]byte(text))

	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s", cccc, awipsID, issuedAt.UTC().Format(time.RFC3339), hex.EncodeToString(textDigest[:]))
	return hex.EncodeToString(h.Sum(nil))
}
