package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/vreid/kessen/internal/pkg/codec"
	"github.com/vreid/kessen/internal/pkg/common"
)

type Status string

const (
	StatusCreated          Status = "created"
	StatusJoined           Status = "joined"
	StatusBattleDispatched Status = "battle_dispatched"
	StatusResolved         Status = "resolved"
	StatusClaimed          Status = "claimed"
	StatusRefunded         Status = "refunded"
)

type Result string

const (
	ResultWin  Result = "win"
	ResultDraw Result = "draw"
)

var ErrUnknownResult = fmt.Errorf("%w: unknown result classification", common.ErrValidation)

func ParseResult(s string) (Result, error) {
	switch Result(s) {
	case ResultWin, ResultDraw:
		return Result(s), nil
	}

	// The engine harness reports results capitalized.
	switch s {
	case "Win":
		return ResultWin, nil
	case "Draw":
		return ResultDraw, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownResult, s)
}

var (
	ErrDuplicateDuel      = fmt.Errorf("%w: duel already exists", common.ErrValidation)
	ErrInvalidStake       = fmt.Errorf("%w: stake must be positive", common.ErrValidation)
	ErrSelfJoin           = fmt.Errorf("%w: creator cannot join own duel", common.ErrValidation)
	ErrStakeMismatch      = fmt.Errorf("%w: stake does not match creator stake", common.ErrValidation)
	ErrInvalidToken       = fmt.Errorf("%w: correlation token must be non-zero", common.ErrValidation)
	ErrUnauthorized       = fmt.Errorf("%w: caller is not authorized", common.ErrAuthorization)
	ErrUnknownDuel        = fmt.Errorf("%w: unknown duel", common.ErrState)
	ErrAlreadyJoined      = fmt.Errorf("%w: duel already joined", common.ErrState)
	ErrInvalidState       = fmt.Errorf("%w: invalid state for transition", common.ErrState)
	ErrUnknownComputation = fmt.Errorf("%w: unknown computation", common.ErrState)
	ErrStaleCallback      = fmt.Errorf("%w: stale callback", common.ErrState)
	ErrAlreadyClaimed     = fmt.Errorf("%w: duel already claimed", common.ErrState)
)

var ErrCorruptRecord = errors.New("corrupt duel record")

// Duel is the persisted record of one duel. Opponent fields are set from
// Joined on, the correlation token from BattleDispatched on, and winner and
// result from Resolved on.
type Duel struct {
	ID     uint64 `json:"duel_id"`
	Stake  uint64 `json:"stake"`
	Status Status `json:"status"`

	Creator         common.Identity         `json:"creator"`
	CreatorStats    codec.EncryptedStats    `json:"creator_stats"`
	CreatorStrategy codec.EncryptedStrategy `json:"creator_strategy"`

	Opponent         *common.Identity         `json:"opponent,omitempty"`
	OpponentStats    *codec.EncryptedStats    `json:"opponent_stats,omitempty"`
	OpponentStrategy *codec.EncryptedStrategy `json:"opponent_strategy,omitempty"`

	CorrelationToken *uint64 `json:"computation_offset,omitempty"`

	Winner       *common.Identity `json:"winner,omitempty"`
	Result       *Result          `json:"result,omitempty"`
	Inconsistent bool             `json:"inconsistent,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Participants returns creator and opponent. The opponent is the zero
// identity before Joined.
func (d *Duel) Participants() (common.Identity, common.Identity) {
	var opponent common.Identity
	if d.Opponent != nil {
		opponent = *d.Opponent
	}

	return d.Creator, opponent
}

func (d *Duel) IsParticipant(id common.Identity) bool {
	if id.IsZero() {
		return false
	}

	creator, opponent := d.Participants()

	return id == creator || id == opponent
}
