// Package fingerprint implements the deterministic bucketing primitive shared
// by the evaluation service and the SDK. Every percentage rollout,
// percentage-rule gate and weighted variant draw in the platform is built
// on Bucket.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
)

// Bucket returns a deterministic value in [0, 99] for the pair (id, salt).
// The same (id, salt) always yields the same bucket; changing the digest
// algorithm or the byte order read below is a breaking change for every
// flag already relying on sticky rollout membership.
func Bucket(id, salt string) uint8 {
	h := sha256.Sum256([]byte(id + ":" + salt))
	n := binary.BigEndian.Uint32(h[:4])
	return uint8(n % 100)
}

// InPercentage reports whether bucket falls within the first pct percent
// of the bucket space, i.e. bucket < pct. pct is clamped to [0, 100].
func InPercentage(bucket uint8, pct int) bool {
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	return int(bucket) < pct
}
