package escrow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/escrow"
	bolt "go.etcd.io/bbolt"
)

var errCustodyDown = errors.New("custody down")

type memoryCustody struct {
	mu        sync.Mutex
	balances  map[common.Identity]uint64
	failFor   map[common.Identity]bool
	failDebit map[common.Identity]bool
}

func newMemoryCustody() *memoryCustody {
	return &memoryCustody{
		balances:  map[common.Identity]uint64{},
		failFor:   map[common.Identity]bool{},
		failDebit: map[common.Identity]bool{},
	}
}

func (m *memoryCustody) Debit(_ context.Context, party common.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failDebit[party] {
		return errCustodyDown
	}

	if m.balances[party] < amount {
		return fmt.Errorf("%w: %s", escrow.ErrInsufficientFunds, party)
	}

	m.balances[party] -= amount

	return nil
}

func (m *memoryCustody) Credit(_ context.Context, party common.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failFor[party] {
		return errCustodyDown
	}

	m.balances[party] += amount

	return nil
}

func setup(t *testing.T) (*bolt.DB, *memoryCustody, *escrow.EscrowService) {
	t.Helper()

	db, err := common.OpenDatabase(t.TempDir(), "escrow.db", common.EscrowPotsBucket)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	custody := newMemoryCustody()

	return db, custody, escrow.New(custody)
}

var (
	alice = common.Identity{1}
	bob   = common.Identity{2}
)

func TestDepositAndDisburse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, custody, service := setup(t)

	custody.balances[alice] = 1_000_000
	custody.balances[bob] = 1_000_000

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		require.NoError(t, service.Deposit(ctx, tx, 1, alice, 1_000_000))
		require.NoError(t, service.Deposit(ctx, tx, 1, bob, 1_000_000))

		pot, err := service.Get(tx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(2_000_000), pot.Balance())

		amount, err := service.Disburse(ctx, tx, 1, bob)
		require.NoError(t, err)
		assert.Equal(t, uint64(2_000_000), amount)

		_, err = service.Disburse(ctx, tx, 1, bob)
		require.ErrorIs(t, err, escrow.ErrAlreadyDisbursed)

		pot, err = service.Get(tx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), pot.Balance())

		return nil
	}))

	assert.Equal(t, uint64(0), custody.balances[alice])
	assert.Equal(t, uint64(2_000_000), custody.balances[bob])
}

func TestDepositInsufficientFundsRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, custody, service := setup(t)

	custody.balances[alice] = 10

	err := db.Update(func(tx *bolt.Tx) error {
		return service.Deposit(ctx, tx, 1, alice, 11)
	})
	require.ErrorIs(t, err, escrow.ErrInsufficientFunds)
	assert.Equal(t, uint64(10), custody.balances[alice])

	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		_, err := service.Get(tx, 1)
		require.ErrorIs(t, err, escrow.ErrUnknownDuel)

		return nil
	}))
}

func TestDisburseUnknownDuel(t *testing.T) {
	t.Parallel()

	db, _, service := setup(t)

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		_, err := service.Disburse(context.Background(), tx, 5, alice)
		require.ErrorIs(t, err, escrow.ErrUnknownDuel)

		return nil
	}))
}

func TestRefund(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, custody, service := setup(t)

	custody.balances[alice] = 100
	custody.balances[bob] = 100

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		require.NoError(t, service.Deposit(ctx, tx, 3, alice, 60))
		require.NoError(t, service.Deposit(ctx, tx, 3, bob, 60))

		return nil
	}))

	custody.failFor[bob] = true

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := service.Refund(ctx, tx, 3)

		return err
	})
	require.ErrorIs(t, err, errCustodyDown)
	require.ErrorIs(t, err, common.ErrExternal)
	assert.Equal(t, uint64(40), custody.balances[alice])

	custody.failFor[bob] = false

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		deposits, err := service.Refund(ctx, tx, 3)
		require.NoError(t, err)
		assert.Len(t, deposits, 2)

		_, err = service.Refund(ctx, tx, 3)
		require.ErrorIs(t, err, escrow.ErrAlreadyDisbursed)

		return nil
	}))

	assert.Equal(t, uint64(100), custody.balances[alice])
	assert.Equal(t, uint64(100), custody.balances[bob])
}

func TestRefundReportsFailedClawback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, custody, service := setup(t)

	custody.balances[alice] = 100
	custody.balances[bob] = 100

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		require.NoError(t, service.Deposit(ctx, tx, 4, alice, 60))
		require.NoError(t, service.Deposit(ctx, tx, 4, bob, 60))

		return nil
	}))

	custody.failFor[bob] = true
	custody.failDebit[alice] = true

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := service.Refund(ctx, tx, 4)

		return err
	})
	require.ErrorIs(t, err, errCustodyDown)
	require.ErrorIs(t, err, escrow.ErrClawbackFailed)
	assert.Contains(t, err.Error(), alice.String())
	assert.Equal(t, uint64(100), custody.balances[alice])
}

func TestDepositRejectsZero(t *testing.T) {
	t.Parallel()

	db, _, service := setup(t)

	err := db.Update(func(tx *bolt.Tx) error {
		return service.Deposit(context.Background(), tx, 1, alice, 0)
	})
	require.ErrorIs(t, err, escrow.ErrInvalidAmount)
}
