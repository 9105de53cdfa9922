package duel

import (
	"github.com/vreid/kessen/internal/pkg/codec"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/dispatcher"
	"github.com/vreid/kessen/internal/pkg/escrow"
	"github.com/vreid/kessen/internal/pkg/ledger"
)

const (
	PlayerHeader          = common.PlayerHeader
	PlayerSignatureHeader = common.PlayerSignatureHeader
)

// SignatureHeader carries the engine callback HMAC.
const SignatureHeader = "X-Signature"

type CreateRequest struct {
	DuelID   uint64                  `json:"duel_id"`
	Stake    uint64                  `json:"stake"`
	Stats    codec.EncryptedStats    `json:"stats"`
	Strategy codec.EncryptedStrategy `json:"strategy"`
}

type JoinRequest struct {
	Stake    uint64                  `json:"stake"`
	Stats    codec.EncryptedStats    `json:"stats"`
	Strategy codec.EncryptedStrategy `json:"strategy"`
}

type BattleRequest struct {
	dispatcher.Keys

	// Zero asks the server to draw a fresh token.
	Token uint64 `json:"computation_offset"`
}

type FinalizeRequest struct {
	Token  uint64          `json:"computation_offset"`
	Winner common.Identity `json:"winner"`
	Result string          `json:"result"`
}

type ClaimResponse struct {
	Duel    *ledger.Duel     `json:"duel"`
	Payouts []escrow.Deposit `json:"payouts"`
}

type DuelResponse struct {
	Duel   *ledger.Duel `json:"duel"`
	Escrow uint64       `json:"escrow"`
}
