package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kessen/internal/pkg/codec"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/ledger"
	bolt "go.etcd.io/bbolt"
)

var (
	creator  = common.Identity{1}
	opponent = common.Identity{2}
	stranger = common.Identity{3}
	now      = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func newDuel(t *testing.T) *ledger.Duel {
	t.Helper()

	duel, err := ledger.New(7, creator, 1_000_000, codec.EncryptedStats{}, codec.EncryptedStrategy{}, now)
	require.NoError(t, err)

	return duel
}

func joinedDuel(t *testing.T) *ledger.Duel {
	t.Helper()

	duel := newDuel(t)
	require.NoError(t, duel.Join(opponent, 1_000_000, codec.EncryptedStats{}, codec.EncryptedStrategy{}))

	return duel
}

func resolvedDuel(t *testing.T, winner common.Identity, result ledger.Result) *ledger.Duel {
	t.Helper()

	duel := joinedDuel(t)
	require.NoError(t, duel.Dispatch(creator, common.NoParticipant, 42, now))
	require.NoError(t, duel.Resolve(42, winner, result, now))

	return duel
}

func TestNewRejectsZeroStake(t *testing.T) {
	t.Parallel()

	_, err := ledger.New(1, creator, 0, codec.EncryptedStats{}, codec.EncryptedStrategy{}, now)
	require.ErrorIs(t, err, ledger.ErrInvalidStake)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestJoin(t *testing.T) {
	t.Parallel()

	t.Run("self join", func(t *testing.T) {
		t.Parallel()

		duel := newDuel(t)
		require.ErrorIs(t, duel.Join(creator, 1_000_000, codec.EncryptedStats{}, codec.EncryptedStrategy{}), ledger.ErrSelfJoin)
		assert.Equal(t, ledger.StatusCreated, duel.Status)
		assert.Nil(t, duel.Opponent)
	})

	t.Run("stake mismatch", func(t *testing.T) {
		t.Parallel()

		duel := newDuel(t)
		require.ErrorIs(t, duel.Join(opponent, 999, codec.EncryptedStats{}, codec.EncryptedStrategy{}), ledger.ErrStakeMismatch)
		assert.Equal(t, ledger.StatusCreated, duel.Status)
	})

	t.Run("already joined", func(t *testing.T) {
		t.Parallel()

		duel := joinedDuel(t)

		for _, caller := range []common.Identity{creator, opponent, stranger} {
			err := duel.Join(caller, 1_000_000, codec.EncryptedStats{}, codec.EncryptedStrategy{})
			require.ErrorIs(t, err, ledger.ErrAlreadyJoined)
		}

		assert.Equal(t, opponent, *duel.Opponent)
	})
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	duel := newDuel(t)
	require.ErrorIs(t, duel.Dispatch(creator, common.NoParticipant, 42, now), ledger.ErrInvalidState)

	duel = joinedDuel(t)
	require.ErrorIs(t, duel.Dispatch(stranger, common.NoParticipant, 42, now), ledger.ErrUnauthorized)
	require.ErrorIs(t, duel.Dispatch(opponent, common.NoParticipant, 0, now), ledger.ErrInvalidToken)
	assert.Equal(t, ledger.StatusJoined, duel.Status)

	require.NoError(t, duel.Dispatch(stranger, stranger, 42, now))
	assert.Equal(t, ledger.StatusBattleDispatched, duel.Status)
	assert.Equal(t, uint64(42), *duel.CorrelationToken)

	require.ErrorIs(t, duel.Dispatch(creator, common.NoParticipant, 43, now), ledger.ErrInvalidState)
	assert.Equal(t, uint64(42), *duel.CorrelationToken)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	duel := joinedDuel(t)
	require.NoError(t, duel.Dispatch(creator, common.NoParticipant, 42, now))

	require.ErrorIs(t, duel.Resolve(41, opponent, ledger.ResultWin, now), ledger.ErrUnknownComputation)
	require.NoError(t, duel.Resolve(42, opponent, ledger.ResultWin, now))

	err := duel.Resolve(42, creator, ledger.ResultWin, now)
	require.ErrorIs(t, err, ledger.ErrStaleCallback)
	assert.Equal(t, opponent, *duel.Winner)
	assert.Equal(t, ledger.ResultWin, *duel.Result)
}

func TestClaim(t *testing.T) {
	t.Parallel()

	t.Run("winner only", func(t *testing.T) {
		t.Parallel()

		duel := resolvedDuel(t, opponent, ledger.ResultWin)

		require.ErrorIs(t, duel.Claim(creator), ledger.ErrUnauthorized)
		require.ErrorIs(t, duel.Claim(stranger), ledger.ErrUnauthorized)
		assert.Equal(t, ledger.StatusResolved, duel.Status)

		require.NoError(t, duel.Claim(opponent))
		assert.Equal(t, ledger.StatusClaimed, duel.Status)

		require.ErrorIs(t, duel.Claim(opponent), ledger.ErrAlreadyClaimed)
		require.ErrorIs(t, duel.Claim(creator), ledger.ErrUnauthorized)
	})

	t.Run("draw", func(t *testing.T) {
		t.Parallel()

		duel := resolvedDuel(t, common.NoParticipant, ledger.ResultDraw)

		require.ErrorIs(t, duel.Claim(stranger), ledger.ErrUnauthorized)
		require.ErrorIs(t, duel.Claim(common.NoParticipant), ledger.ErrUnauthorized)
		require.NoError(t, duel.Claim(creator))
	})

	t.Run("not resolved", func(t *testing.T) {
		t.Parallel()

		duel := joinedDuel(t)
		require.ErrorIs(t, duel.Claim(opponent), ledger.ErrInvalidState)
	})
}

func TestAbandonAndExpired(t *testing.T) {
	t.Parallel()

	duel := joinedDuel(t)
	assert.False(t, duel.Expired(now.Add(time.Hour), time.Minute))
	require.ErrorIs(t, duel.Abandon(), ledger.ErrInvalidState)

	require.NoError(t, duel.Dispatch(opponent, common.NoParticipant, 9, now))
	assert.False(t, duel.Expired(now.Add(30*time.Second), time.Minute))
	assert.True(t, duel.Expired(now.Add(2*time.Minute), time.Minute))

	require.NoError(t, duel.Abandon())
	assert.Equal(t, ledger.StatusRefunded, duel.Status)
	require.ErrorIs(t, duel.Resolve(9, opponent, ledger.ResultWin, now), ledger.ErrStaleCallback)
}

func TestPersistence(t *testing.T) {
	t.Parallel()

	db, err := common.OpenDatabase(t.TempDir(), "ledger.db", common.LedgerDuelsBucket)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	first := joinedDuel(t)
	first.CreatorStats.Attack = codec.EncryptedBlock{1, 2, 3}

	second, err := ledger.New(8, stranger, 5, codec.EncryptedStats{}, codec.EncryptedStrategy{}, now)
	require.NoError(t, err)

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		require.NoError(t, ledger.Insert(tx, first))
		require.NoError(t, ledger.Insert(tx, second))
		require.ErrorIs(t, ledger.Insert(tx, first), ledger.ErrDuplicateDuel)

		return nil
	}))

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		loaded, err := ledger.Load(tx, 8)
		require.NoError(t, err)

		loaded.Stake = 6

		return ledger.Save(tx, loaded)
	}))

	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		loaded, err := ledger.Load(tx, 7)
		require.NoError(t, err)
		assert.Equal(t, first, loaded)

		other, err := ledger.Load(tx, 8)
		require.NoError(t, err)
		assert.Equal(t, uint64(6), other.Stake)
		assert.Equal(t, uint64(1_000_000), loaded.Stake)

		_, err = ledger.Load(tx, 99)
		require.ErrorIs(t, err, ledger.ErrUnknownDuel)

		count := 0
		require.NoError(t, ledger.ForEach(tx, func(*ledger.Duel) error {
			count++

			return nil
		}))
		assert.Equal(t, 2, count)

		return nil
	}))
}

func TestParseResult(t *testing.T) {
	t.Parallel()

	result, err := ledger.ParseResult("Win")
	require.NoError(t, err)
	assert.Equal(t, ledger.ResultWin, result)

	result, err = ledger.ParseResult("draw")
	require.NoError(t, err)
	assert.Equal(t, ledger.ResultDraw, result)

	_, err = ledger.ParseResult("forfeit")
	require.ErrorIs(t, err, ledger.ErrUnknownResult)
}
