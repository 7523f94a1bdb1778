package expr

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainExpr separates expression fingerprints from any other hash space.
// The version suffix allows the canonical form to change.
const DomainExpr = "dfbridge/expr/v1"

// Fingerprint returns a content hash of n. Structurally equal trees have
// equal fingerprints, so adapters use it to memoize shared sub-expressions
// within a single lowering.
//
// Format: hex(SHA256(domain + 0x00 + canonical form)).
func Fingerprint(n Node) string {
	h := sha256.New()
	h.Write([]byte(DomainExpr))
	h.Write([]byte{0x00})
	h.Write([]byte(canonical(n)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonical extends Format with the literal and provisional dtypes, which
// Format omits for readability in some positions.
func canonical(n Node) string {
	s := Format(n)
	if n != nil {
		s += "::" + n.Dtype().String()
	}
	return s
}
