package dispatcher

import (
	"context"
	"fmt"

	"github.com/vreid/kessen/internal/pkg/codec"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/ledger"
)

var (
	ErrEngineRejected = fmt.Errorf("%w: computation engine rejected submission", common.ErrExternal)
	ErrBadSignature   = fmt.Errorf("%w: invalid callback signature", common.ErrAuthorization)
)

// Engine accepts a battle computation and reports its result later. Submit
// must not wait for the result.
type Engine interface {
	Submit(ctx context.Context, request Request) error
}

// Submission is one player's encrypted inputs together with the key material
// the engine needs to decrypt them.
type Submission struct {
	Player    common.Identity         `json:"player"`
	PublicKey codec.PublicKey         `json:"public_key"`
	Nonce     codec.Nonce             `json:"nonce"`
	Stats     codec.EncryptedStats    `json:"stats"`
	Strategy  codec.EncryptedStrategy `json:"strategy"`
}

type Request struct {
	Token   uint64     `json:"computation_offset"`
	DuelID  uint64     `json:"duel_id"`
	Player1 Submission `json:"player1"`
	Player2 Submission `json:"player2"`
}

// Keys is the key material supplied at dispatch time.
type Keys struct {
	Player1PublicKey codec.PublicKey `json:"player1_public_key"`
	Player1Nonce     codec.Nonce     `json:"player1_nonce"`
	Player2PublicKey codec.PublicKey `json:"player2_public_key"`
	Player2Nonce     codec.Nonce     `json:"player2_nonce"`
}

// Result is a finalized computation as delivered back by an engine.
type Result struct {
	Token  uint64          `json:"computation_offset"`
	Winner common.Identity `json:"winner"`
	Result ledger.Result   `json:"result"`
}

// NewRequest builds the engine request for a joined duel. Player 1 is always
// the creator.
func NewRequest(duel *ledger.Duel, token uint64, keys Keys) (Request, error) {
	if duel.Opponent == nil || duel.OpponentStats == nil || duel.OpponentStrategy == nil {
		return Request{}, fmt.Errorf("%w: duel %d has no opponent", ledger.ErrInvalidState, duel.ID)
	}

	return Request{
		Token:  token,
		DuelID: duel.ID,
		Player1: Submission{
			Player:    duel.Creator,
			PublicKey: keys.Player1PublicKey,
			Nonce:     keys.Player1Nonce,
			Stats:     duel.CreatorStats,
			Strategy:  duel.CreatorStrategy,
		},
		Player2: Submission{
			Player:    *duel.Opponent,
			PublicKey: keys.Player2PublicKey,
			Nonce:     keys.Player2Nonce,
			Stats:     *duel.OpponentStats,
			Strategy:  *duel.OpponentStrategy,
		},
	}, nil
}
