package common_test

import (
	"bytes"
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kessen/internal/pkg/common"
)

func TestSignAndVerifyRequest(t *testing.T) {
	t.Parallel()

	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	other := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{8}, ed25519.SeedSize))

	caller := common.IdentityFromPublicKey(key.Public().(ed25519.PublicKey))
	body := []byte(`{"stake":10}`)

	signature := common.SignRequest(key, "POST", "/api/duels/1/claim", body)

	require.NoError(t, common.VerifyRequest(caller, "POST", "/api/duels/1/claim", body, signature))
	require.NoError(t, common.VerifyRequest(caller, "POST", "/api/duels/1/claim", body, strings.ToUpper(signature)))

	tests := []struct {
		name      string
		path      string
		body      []byte
		signature string
		err       error
	}{
		{"missing", "/api/duels/1/claim", body, "", common.ErrMissingSignature},
		{"not hex", "/api/duels/1/claim", body, "zz", common.ErrBadSignature},
		{"other path", "/api/duels/2/claim", body, signature, common.ErrBadSignature},
		{"other body", "/api/duels/1/claim", []byte(`{"stake":11}`), signature, common.ErrBadSignature},
		{"other signer", "/api/duels/1/claim", body, common.SignRequest(other, "POST", "/api/duels/1/claim", body), common.ErrBadSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := common.VerifyRequest(caller, "POST", tt.path, tt.body, tt.signature)
			require.ErrorIs(t, err, tt.err)
			assert.ErrorIs(t, err, common.ErrAuthorization)
		})
	}
}
