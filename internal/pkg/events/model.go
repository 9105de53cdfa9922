package events

import (
	"time"

	"github.com/vreid/kessen/internal/pkg/common"
)

type Kind string

const (
	KindPlayerJoined  Kind = "player_joined"
	KindBattleResult  Kind = "battle_result"
	KindRewardClaimed Kind = "reward_claimed"
	KindDuelRefunded  Kind = "duel_refunded"
)

// Event is delivered at least once. ID lets consumers drop duplicates.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	DuelID    uint64    `json:"duel_id"`
	Timestamp time.Time `json:"timestamp"`

	Player *common.Identity `json:"player,omitempty"`
	Amount uint64           `json:"amount,omitempty"`

	Winner *common.Identity `json:"winner,omitempty"`
	Result string           `json:"result,omitempty"`
}
