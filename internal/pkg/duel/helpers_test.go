package duel_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vreid/kessen/internal/pkg/codec"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/custody"
	"github.com/vreid/kessen/internal/pkg/dispatcher"
	"github.com/vreid/kessen/internal/pkg/duel"
	"github.com/vreid/kessen/internal/pkg/escrow"
	"github.com/vreid/kessen/internal/pkg/events"
)

const stake = 1_000_000

var playerKeys = map[common.Identity]ed25519.PrivateKey{}

var (
	creator  = newPlayer(0xc1)
	opponent = newPlayer(0x02)
	stranger = newPlayer(0x03)
)

func newPlayer(seed byte) common.Identity {
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))

	//nolint:forcetypeassert
	id := common.IdentityFromPublicKey(key.Public().(ed25519.PublicKey))

	playerKeys[id] = key

	return id
}

type stubEngine struct {
	mu       sync.Mutex
	requests []dispatcher.Request
	err      error
}

func (e *stubEngine) Submit(_ context.Context, request dispatcher.Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return e.err
	}

	e.requests = append(e.requests, request)

	return nil
}

type fixture struct {
	service *duel.DuelService
	custody *custody.CustodyService
	engine  *stubEngine
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dataDir := t.TempDir()

	db, err := common.OpenDatabase(dataDir, "kessen.db",
		common.LedgerDuelsBucket,
		common.EscrowPotsBucket,
		common.DispatcherPendingBucket,
		common.DispatcherConsumedBkt,
	)
	require.NoError(t, err)

	custodyService, err := custody.Open(dataDir)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
		_ = custodyService.Shutdown()
	})

	f := &fixture{
		custody: custodyService,
		engine:  &stubEngine{},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	f.service = &duel.DuelService{
		DB:             db,
		Escrow:         escrow.New(custodyService),
		Dispatcher:     &dispatcher.DispatcherService{Engine: f.engine},
		Bus:            events.NewBus(nil),
		CallbackSecret: []byte("callback-secret"),
		BattleTimeout:  time.Hour,
		Now: func() time.Time {
			return f.now
		},
	}

	for _, party := range []common.Identity{creator, opponent, stranger} {
		require.NoError(t, custodyService.Fund(context.Background(), party, stake))
	}

	return f
}

func (f *fixture) balance(t *testing.T, party common.Identity) uint64 {
	t.Helper()

	balance, err := f.custody.Balance(party)
	require.NoError(t, err)

	return balance.Uint64()
}

func (f *fixture) escrow(t *testing.T, duelID uint64) uint64 {
	t.Helper()

	response, err := f.service.Get(duelID)
	require.NoError(t, err)

	return response.Escrow
}

func blocks(seed byte) (codec.EncryptedStats, codec.EncryptedStrategy) {
	var stats codec.EncryptedStats

	var strategy codec.EncryptedStrategy

	for idx := range codec.BlockSize {
		stats.Attack[idx] = seed + byte(idx)
		stats.Defense[idx] = seed + byte(idx) + 1
		stats.Speed[idx] = seed + byte(idx) + 2
		stats.SpecialMove[idx] = seed + byte(idx) + 3
		strategy.Stance[idx] = seed + byte(idx) + 4
		strategy.TargetStat[idx] = seed + byte(idx) + 5
		strategy.Combo1[idx] = seed + byte(idx) + 6
		strategy.Combo2[idx] = seed + byte(idx) + 7
		strategy.Combo3[idx] = seed + byte(idx) + 8
	}

	return stats, strategy
}

func (f *fixture) create(t *testing.T, duelID uint64) {
	t.Helper()

	stats, strategy := blocks(1)

	_, err := f.service.Create(context.Background(), creator, duel.CreateRequest{
		DuelID:   duelID,
		Stake:    stake,
		Stats:    stats,
		Strategy: strategy,
	})
	require.NoError(t, err)
}

func (f *fixture) join(t *testing.T, duelID uint64) {
	t.Helper()

	stats, strategy := blocks(10)

	_, err := f.service.Join(context.Background(), opponent, duelID, duel.JoinRequest{
		Stake:    stake,
		Stats:    stats,
		Strategy: strategy,
	})
	require.NoError(t, err)
}

func (f *fixture) dispatch(t *testing.T, duelID uint64, token uint64) {
	t.Helper()

	_, err := f.service.DispatchBattle(context.Background(), creator, duelID, token, dispatcher.Keys{
		Player1PublicKey: codec.PublicKey{1},
		Player1Nonce:     codec.Nonce{1},
		Player2PublicKey: codec.PublicKey{2},
		Player2Nonce:     codec.Nonce{2},
	})
	require.NoError(t, err)
}
