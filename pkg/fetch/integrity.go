package fetch

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// ErrIntegrityMismatch is returned when a body matches none of the
// digests in a subresource integrity metadata string.
var ErrIntegrityMismatch = errors.New("subresource integrity mismatch")

// VerifyIntegrity checks body against integrity metadata such as
// "sha384-abc... sha512-def...". Any matching token passes; tokens with
// unknown algorithms are ignored, and metadata with no known token passes.
func VerifyIntegrity(integrity string, body []byte) error {
	known := 0
	for _, token := range strings.Fields(integrity) {
		// Options after '?' are reserved by the SRI grammar.
		token, _, _ = strings.Cut(token, "?")
		alg, digest, ok := strings.Cut(token, "-")
		if !ok {
			continue
		}
		var h hash.Hash
		switch alg {
		case "sha256":
			h = sha256.New()
		case "sha384":
			h = sha512.New384()
		case "sha512":
			h = sha512.New()
		default:
			continue
		}
		known++
		want, err := base64.StdEncoding.DecodeString(digest)
		if err != nil {
			continue
		}
		h.Write(body)
		if subtle.ConstantTimeCompare(h.Sum(nil), want) == 1 {
			return nil
		}
	}
	if known == 0 {
		return nil
	}
	return fmt.Errorf("%w for %q", ErrIntegrityMismatch, integrity)
}

// Integrity returns the sha384 integrity metadata for body.
func Integrity(body []byte) string {
	sum := sha512.Sum384(body)
	return "sha384-" + base64.StdEncoding.EncodeToString(sum[:])
}
