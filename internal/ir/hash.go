package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainPattern = "tonegen/pattern/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PatternContentID computes the content-addressed ID of a pattern.
// Only the pattern type and source code participate: name, metadata and
// compile timestamps never change the identity.
func PatternContentID(patternType, sourceCode string) (string, error) {
	obj := IRObject{
		"pattern_type": IRString(patternType),
		"source_code":  IRString(sourceCode),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PatternContentID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainPattern, canonical), nil
}

// MustPatternContentID is like PatternContentID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPatternContentID(patternType, sourceCode string) string {
	id, err := PatternContentID(patternType, sourceCode)
	if err != nil {
		panic(err)
	}
	return id
}
