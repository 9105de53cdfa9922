package common

import (
	"encoding/hex"
	"fmt"
)

// Identity is a participant's 32 byte public identity. The zero value means
// "no participant".
type Identity [32]byte

var NoParticipant Identity

var ErrInvalidIdentity = fmt.Errorf("%w: invalid identity", ErrValidation)

func ParseIdentity(s string) (Identity, error) {
	var id Identity

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}

	copy(id[:], b)

	return id, nil
}

func (id Identity) IsZero() bool {
	return id == NoParticipant
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}
