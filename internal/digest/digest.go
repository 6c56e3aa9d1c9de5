// Package digest computes the content hashes the engine uses as store
// keys, rule-definition digests, and input fingerprints.
//
// spec §3 defines "Digest" as a 64-hex SHA-256 string, and every digest the
// engine computes (store keys, declared archive checksums, the
// rule-definition digest that feeds §4.7's fingerprint, and the fingerprint
// itself) is rendered that way via Sha256Hex or Combine. Blake3Hex is also
// provided; none of those digests use it.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"
)

// Sha256Hex returns the lowercase hex SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sha256HexReader streams r through SHA-256 without buffering it all in
// memory, for large archive downloads.
func Sha256HexReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Blake3Hex returns the lowercase hex blake3 digest of data. It is not part
// of the Digest contract, which is always SHA-256 per spec §3.
func Blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Combine folds a list of hex digests (e.g. a rule-definition digest plus
// its dependencies' digests, or a sorted list of file content digests) into
// a single SHA-256 digest, the way spec §4.7's
// fp = sha256(rule_definition_digest || sorted(file digests)) combines its
// inputs.
func Combine(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = io.WriteString(h, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
