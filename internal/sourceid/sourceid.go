// Package sourceid fingerprints the source documents of a collection so unchanged
// content can be detected without rebuilding.
package sourceid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const prefix = "sha256:"

// Digest returns a stable fingerprint of docs. Order matters; document boundaries are
// length-prefixed so ["ab", "c"] and ["a", "bc"] differ.
func Digest(docs []string) string {
	h := sha256.New()
	var n [8]byte
	for _, d := range docs {
		binary.LittleEndian.PutUint64(n[:], uint64(len(d)))
		h.Write(n[:])
		h.Write([]byte(d))
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}
