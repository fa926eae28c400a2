// Package canonical produces deterministic digests of JSON-shaped values.
// The hex digest is used as the idempotency key for workflow creation, so
// two structurally equal values must always hash identically regardless of
// the key order they were built with.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash serializes v into canonical JSON (object keys sorted, no insignificant
// whitespace, numbers kept in their literal form) and returns the lowercase
// hex SHA-256 of that encoding.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Marshal returns the canonical JSON encoding of v.
//
// The value is round-tripped through an untyped decode so struct field order,
// map iteration order and json.RawMessage formatting all collapse into the
// same byte sequence: encoding/json sorts map keys on output, and UseNumber
// keeps numeric literals untouched.
func Marshal(v any) ([]byte, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var untyped any
	if err := dec.Decode(&untyped); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	out, err := json.Marshal(untyped)
	if err != nil {
		return nil, fmt.Errorf("canonical: re-encode: %w", err)
	}
	return out, nil
}
