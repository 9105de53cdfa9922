package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	bolt "go.etcd.io/bbolt"
)

type EscrowService struct {
	Custody Custody
}

func NewEscrowService(i do.Injector) (*EscrowService, error) {
	custody := do.MustInvoke[Custody](i)

	return New(custody), nil
}

func New(custody Custody) *EscrowService {
	return &EscrowService{
		Custody: custody,
	}
}

// Deposit debits party and adds amount to the duel's pot. It must run inside
// the same transaction as the ledger transition it pays for; a failing debit
// leaves nothing behind once the transaction rolls back.
func (s *EscrowService) Deposit(ctx context.Context, tx *bolt.Tx, duelID uint64, party common.Identity, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	escrow, err := load(tx, duelID)
	if errors.Is(err, ErrUnknownDuel) {
		escrow = &Escrow{DuelID: duelID}
	} else if err != nil {
		return err
	}

	if escrow.Disbursed {
		return fmt.Errorf("%w: duel %d", ErrAlreadyDisbursed, duelID)
	}

	if escrow.Balance() > math.MaxUint64-amount {
		return fmt.Errorf("%w: duel %d", ErrPotOverflow, duelID)
	}

	escrow.Deposits = append(escrow.Deposits, Deposit{Party: party, Amount: amount})

	err = save(tx, escrow)
	if err != nil {
		return err
	}

	err = s.Custody.Debit(ctx, party, amount)
	if err != nil {
		return custodyError(err)
	}

	return nil
}

// Disburse pays the whole pot to recipient exactly once.
func (s *EscrowService) Disburse(ctx context.Context, tx *bolt.Tx, duelID uint64, recipient common.Identity) (uint64, error) {
	escrow, err := load(tx, duelID)
	if err != nil {
		return 0, err
	}

	if escrow.Disbursed {
		return 0, fmt.Errorf("%w: duel %d", ErrAlreadyDisbursed, duelID)
	}

	amount := escrow.Balance()
	escrow.Disbursed = true

	err = save(tx, escrow)
	if err != nil {
		return 0, err
	}

	err = s.Custody.Credit(ctx, recipient, amount)
	if err != nil {
		return 0, custodyError(err)
	}

	return amount, nil
}

// Refund returns every deposit to the party that made it, exactly once.
func (s *EscrowService) Refund(ctx context.Context, tx *bolt.Tx, duelID uint64) ([]Deposit, error) {
	escrow, err := load(tx, duelID)
	if err != nil {
		return nil, err
	}

	if escrow.Disbursed {
		return nil, fmt.Errorf("%w: duel %d", ErrAlreadyDisbursed, duelID)
	}

	escrow.Disbursed = true

	err = save(tx, escrow)
	if err != nil {
		return nil, err
	}

	for idx, deposit := range escrow.Deposits {
		err = s.Custody.Credit(ctx, deposit.Party, deposit.Amount)
		if err == nil {
			continue
		}

		// Claw back what was already credited; the bolt transaction rolls
		// back the escrow record itself.
		errs := []error{custodyError(err)}

		for _, credited := range escrow.Deposits[:idx] {
			debitErr := s.Custody.Debit(ctx, credited.Party, credited.Amount)
			if debitErr != nil {
				errs = append(errs, fmt.Errorf("%w: duel %d, %s keeps %d: %w",
					ErrClawbackFailed, duelID, credited.Party, credited.Amount, debitErr))
			}
		}

		return nil, errors.Join(errs...)
	}

	return escrow.Deposits, nil
}

func (s *EscrowService) Get(tx *bolt.Tx, duelID uint64) (*Escrow, error) {
	return load(tx, duelID)
}

func custodyError(err error) error {
	if errors.Is(err, common.ErrExternal) {
		return err
	}

	return fmt.Errorf("%w: custody: %w", common.ErrExternal, err)
}

func load(tx *bolt.Tx, duelID uint64) (*Escrow, error) {
	b := tx.Bucket([]byte(common.EscrowPotsBucket))
	if b == nil {
		return nil, fmt.Errorf("%s bucket doesn't exist", common.EscrowPotsBucket)
	}

	raw := b.Get(common.Uint64ToBytes(duelID))
	if raw == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDuel, duelID)
	}

	var escrow Escrow

	err := json.Unmarshal(raw, &escrow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal escrow %d: %w", duelID, err)
	}

	return &escrow, nil
}

func save(tx *bolt.Tx, escrow *Escrow) error {
	b := tx.Bucket([]byte(common.EscrowPotsBucket))
	if b == nil {
		return fmt.Errorf("%s bucket doesn't exist", common.EscrowPotsBucket)
	}

	raw, err := json.Marshal(escrow)
	if err != nil {
		return fmt.Errorf("failed to marshal escrow: %w", err)
	}

	err = b.Put(common.Uint64ToBytes(escrow.DuelID), raw)
	if err != nil {
		return fmt.Errorf("failed to put escrow: %w", err)
	}

	return nil
}
