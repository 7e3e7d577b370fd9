package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/bits"
	"strings"
)

// SimhashNearDupBits is the Hamming-distance threshold under which two
// simhash fingerprints are considered near-duplicates.
const SimhashNearDupBits = 3

// ContentHash computes the exact-duplicate fingerprint of a document:
// sha256 over the whitespace-normalized text, prefixed "sha256:".
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Simhash computes a 64-bit near-duplicate fingerprint over the text's
// word shingles. Texts differing by small edits land within a few bits
// of each other.
func Simhash(text string) uint64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	var weights [64]int
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	var fingerprint uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			fingerprint |= 1 << uint(bit)
		}
	}
	return fingerprint
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// NearDuplicate reports whether two fingerprints are within the
// near-duplicate threshold. Zero fingerprints never match.
func NearDuplicate(a, b uint64) bool {
	if a == 0 || b == 0 {
		return false
	}
	return HammingDistance(a, b) <= SimhashNearDupBits
}

// normalizeText collapses runs of whitespace so formatting-only changes
// do not defeat exact-duplicate detection.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
