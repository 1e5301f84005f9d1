package analysis

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is a content-derived cache key covering a module's text and the
// fingerprints of its resolved imports in declaration order. Equal
// fingerprints imply byte-identical analysis output, which is what makes
// memoization sound.
type Fingerprint string

// MissingFingerprint stands in for an import that failed to resolve. Folding
// it into the importer's fingerprint means the importer's key changes the
// moment the missing module becomes available, forcing re-analysis.
func MissingFingerprint(spec string) Fingerprint {
	return Fingerprint("missing:" + spec)
}

func NewFingerprint(text []byte, imports []Fingerprint) Fingerprint {
	h := sha256.New()
	h.Write(text)
	for _, fp := range imports {
		h.Write([]byte{0})
		h.Write([]byte(fp))
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}
