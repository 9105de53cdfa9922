package common

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

var (
	ErrMissingSignature = fmt.Errorf("%w: missing request signature", ErrAuthorization)
	ErrBadSignature     = fmt.Errorf("%w: request signature does not match caller", ErrAuthorization)
)

// IdentityFromPublicKey treats an ed25519 public key as the participant
// identity.
func IdentityFromPublicKey(key ed25519.PublicKey) Identity {
	var id Identity

	copy(id[:], key)

	return id
}

func (id Identity) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(bytes.Clone(id[:]))
}

// SignedMessage binds a signature to one route and one body.
func SignedMessage(method, path string, body []byte) []byte {
	message := make([]byte, 0, len(method)+len(path)+len(body)+2) //nolint:mnd

	message = append(message, method...)
	message = append(message, '\n')
	message = append(message, path...)
	message = append(message, '\n')
	message = append(message, body...)

	return message
}

func SignRequest(key ed25519.PrivateKey, method, path string, body []byte) string {
	return hex.EncodeToString(ed25519.Sign(key, SignedMessage(method, path, body)))
}

func VerifyRequest(caller Identity, method, path string, body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}

	if !ed25519.Verify(caller.PublicKey(), SignedMessage(method, path, body), sig) {
		return ErrBadSignature
	}

	return nil
}
