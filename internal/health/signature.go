package health

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Signature identifies a set of failing checks. The names are sorted and
// deduplicated first, so the same set always yields the same key no matter
// the probe order, and kind keeps target and component sets apart.
func Signature(kind string, names []string) string {
	set := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			set = append(set, n)
		}
	}
	sort.Strings(set)

	h := sha256.New()
	h.Write([]byte(kind))
	for _, n := range set {
		h.Write([]byte{0})
		h.Write([]byte(n))
	}
	return kind + "-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// SignatureSet is the human-readable form of the set behind a signature.
func SignatureSet(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
