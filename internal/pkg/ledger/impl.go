package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vreid/kessen/internal/pkg/codec"
	"github.com/vreid/kessen/internal/pkg/common"
	bolt "go.etcd.io/bbolt"
)

func New(
	id uint64,
	creator common.Identity,
	stake uint64,
	stats codec.EncryptedStats,
	strategy codec.EncryptedStrategy,
	now time.Time) (*Duel, error) {
	if creator.IsZero() {
		return nil, common.ErrInvalidIdentity
	}

	if stake == 0 {
		return nil, ErrInvalidStake
	}

	return &Duel{
		ID:              id,
		Stake:           stake,
		Status:          StatusCreated,
		Creator:         creator,
		CreatorStats:    stats,
		CreatorStrategy: strategy,
		CreatedAt:       now.UTC(),
	}, nil
}

func (d *Duel) Join(
	opponent common.Identity,
	stake uint64,
	stats codec.EncryptedStats,
	strategy codec.EncryptedStrategy) error {
	if d.Status != StatusCreated {
		return fmt.Errorf("%w: duel %d is %s", ErrAlreadyJoined, d.ID, d.Status)
	}

	if opponent.IsZero() {
		return common.ErrInvalidIdentity
	}

	if opponent == d.Creator {
		return ErrSelfJoin
	}

	if stake != d.Stake {
		return fmt.Errorf("%w: got %d, want %d", ErrStakeMismatch, stake, d.Stake)
	}

	d.Opponent = &opponent
	d.OpponentStats = &stats
	d.OpponentStrategy = &strategy
	d.Status = StatusJoined

	return nil
}

// Dispatch records the outstanding computation. operator may be the zero
// identity when no operator is configured.
func (d *Duel) Dispatch(caller, operator common.Identity, token uint64, now time.Time) error {
	if !d.IsParticipant(caller) && (operator.IsZero() || caller != operator) {
		return ErrUnauthorized
	}

	if d.Status != StatusJoined {
		return fmt.Errorf("%w: cannot dispatch battle for %s duel", ErrInvalidState, d.Status)
	}

	if token == 0 {
		return ErrInvalidToken
	}

	dispatchedAt := now.UTC()

	d.CorrelationToken = &token
	d.DispatchedAt = &dispatchedAt
	d.Status = StatusBattleDispatched

	return nil
}

// Resolve applies a finalized result. The result must already be validated
// against the participants.
func (d *Duel) Resolve(token uint64, winner common.Identity, result Result, now time.Time) error {
	if d.Status != StatusBattleDispatched {
		return fmt.Errorf("%w: duel %d is %s", ErrStaleCallback, d.ID, d.Status)
	}

	if d.CorrelationToken == nil || *d.CorrelationToken != token {
		return fmt.Errorf("%w: token %d", ErrUnknownComputation, token)
	}

	resolvedAt := now.UTC()

	d.Winner = &winner
	d.Result = &result
	d.ResolvedAt = &resolvedAt
	d.Inconsistent = false
	d.Status = StatusResolved

	return nil
}

// CanClaim reports whether caller may collect the pot. Only the winner may
// claim a decisive result; either participant may claim a draw.
func (d *Duel) CanClaim(caller common.Identity) bool {
	if d.Winner == nil || d.Result == nil {
		return false
	}

	if *d.Result == ResultDraw {
		return d.IsParticipant(caller)
	}

	return !caller.IsZero() && caller == *d.Winner
}

func (d *Duel) Claim(caller common.Identity) error {
	switch d.Status {
	case StatusResolved, StatusClaimed:
	default:
		return fmt.Errorf("%w: cannot claim %s duel", ErrInvalidState, d.Status)
	}

	if !d.CanClaim(caller) {
		return ErrUnauthorized
	}

	if d.Status == StatusClaimed {
		return ErrAlreadyClaimed
	}

	d.Status = StatusClaimed

	return nil
}

// Abandon moves a duel whose computation never finalized to Refunded.
func (d *Duel) Abandon() error {
	if d.Status != StatusBattleDispatched {
		return fmt.Errorf("%w: cannot abandon %s duel", ErrInvalidState, d.Status)
	}

	d.Status = StatusRefunded

	return nil
}

func (d *Duel) Expired(now time.Time, timeout time.Duration) bool {
	return d.Status == StatusBattleDispatched &&
		d.DispatchedAt != nil &&
		now.Sub(*d.DispatchedAt) > timeout
}

func bucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(common.LedgerDuelsBucket))
	if b == nil {
		return nil, fmt.Errorf("%s bucket doesn't exist", common.LedgerDuelsBucket)
	}

	return b, nil
}

func Load(tx *bolt.Tx, id uint64) (*Duel, error) {
	b, err := bucket(tx)
	if err != nil {
		return nil, err
	}

	raw := b.Get(common.Uint64ToBytes(id))
	if raw == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDuel, id)
	}

	var duel Duel

	err = json.Unmarshal(raw, &duel)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %w", ErrCorruptRecord, id, err)
	}

	return &duel, nil
}

func Insert(tx *bolt.Tx, duel *Duel) error {
	b, err := bucket(tx)
	if err != nil {
		return err
	}

	if b.Get(common.Uint64ToBytes(duel.ID)) != nil {
		return fmt.Errorf("%w: %d", ErrDuplicateDuel, duel.ID)
	}

	return put(b, duel)
}

func Save(tx *bolt.Tx, duel *Duel) error {
	b, err := bucket(tx)
	if err != nil {
		return err
	}

	return put(b, duel)
}

func ForEach(tx *bolt.Tx, fn func(*Duel) error) error {
	b, err := bucket(tx)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return b.ForEach(func(k, v []byte) error {
		var duel Duel

		err := json.Unmarshal(v, &duel)
		if err != nil {
			return fmt.Errorf("%w: %x: %w", ErrCorruptRecord, k, err)
		}

		return fn(&duel)
	})
}

func put(b *bolt.Bucket, duel *Duel) error {
	raw, err := json.Marshal(duel)
	if err != nil {
		return fmt.Errorf("failed to marshal duel: %w", err)
	}

	err = b.Put(common.Uint64ToBytes(duel.ID), raw)
	if err != nil {
		return fmt.Errorf("failed to put duel: %w", err)
	}

	return nil
}
