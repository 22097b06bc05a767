package object

import (
	"encoding/hex"
	"fmt"
)

// IdentitySize is the length of an identity in bytes.
const IdentitySize = 32

// Identity is an opaque 32-byte client identity.
type Identity [IdentitySize]byte

// ParseIdentity parses a hex-encoded identity. A "0x" prefix is accepted.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid identity %q: %w", s, err)
	}
	if len(b) != IdentitySize {
		return id, fmt.Errorf("invalid identity %q: expected %d bytes, got %d", s, IdentitySize, len(b))
	}

	copy(id[:], b)
	return id, nil
}

// String returns the hex encoding of the identity.
func (id Identity) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether the identity is all zeros.
func (id Identity) IsZero() bool { return id == Identity{} }

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
