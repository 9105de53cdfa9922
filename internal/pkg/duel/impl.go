package duel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/dispatcher"
	"github.com/vreid/kessen/internal/pkg/escrow"
	"github.com/vreid/kessen/internal/pkg/events"
	"github.com/vreid/kessen/internal/pkg/ledger"
	"github.com/vreid/kessen/internal/pkg/settlement"
	bolt "go.etcd.io/bbolt"
)

type DuelService struct {
	DB         *bolt.DB
	Escrow     *escrow.EscrowService
	Dispatcher *dispatcher.DispatcherService
	Bus        *events.BusService
	Logger     *log.Logger

	Operator       common.Identity
	CallbackSecret []byte

	BattleTimeout time.Duration
	SweepInterval time.Duration

	ResultSource <-chan dispatcher.Result

	Now func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewDuelService(i do.Injector) (*DuelService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	escrowService := do.MustInvoke[*escrow.EscrowService](i)
	dispatcherService := do.MustInvoke[*dispatcher.DispatcherService](i)
	busService := do.MustInvoke[*events.BusService](i)
	logger := do.MustInvoke[*log.Logger](i)

	resultSource := do.MustInvokeNamed[<-chan dispatcher.Result](i, "result-source")
	callbackSecret := do.MustInvokeNamed[string](i, "callback-secret")
	battleTimeoutMinutes := do.MustInvokeNamed[int](i, "battle-timeout-minutes")
	sweepIntervalSeconds := do.MustInvokeNamed[int](i, "sweep-interval-seconds")

	var operator common.Identity

	if operatorHex := do.MustInvokeNamed[string](i, "operator"); operatorHex != "" {
		parsed, err := common.ParseIdentity(operatorHex)
		if err != nil {
			return nil, fmt.Errorf("failed to parse operator: %w", err)
		}

		operator = parsed
	}

	result := &DuelService{
		DB:         databaseService.DB,
		Escrow:     escrowService,
		Dispatcher: dispatcherService,
		Bus:        busService,
		Logger:     logger,

		Operator:       operator,
		CallbackSecret: []byte(callbackSecret),

		BattleTimeout: time.Duration(battleTimeoutMinutes) * time.Minute,
		SweepInterval: time.Duration(sweepIntervalSeconds) * time.Second,

		ResultSource: resultSource,

		Now: time.Now,
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.RegisterRoutes)

	return result, nil
}

func (s *DuelService) RegisterRoutes(e *echo.Echo) {
	apiGroup := e.Group("/api")

	duelsGroup := apiGroup.Group("/duels")

	duelsGroup.POST("", s.PostDuel)
	duelsGroup.POST("/finalize", s.PostFinalize)
	duelsGroup.GET("/:id", s.GetDuel)
	duelsGroup.POST("/:id/join", s.PostJoin)
	duelsGroup.POST("/:id/battle", s.PostBattle)
	duelsGroup.POST("/:id/claim", s.PostClaim)
}

// Start consumes engine results and, when a battle timeout is configured,
// periodically refunds duels whose computation never finalized.
func (s *DuelService) Start() {
	s.stop = make(chan struct{})

	if s.ResultSource != nil {
		go s.processResults()
	}

	if s.BattleTimeout > 0 && s.SweepInterval > 0 {
		go s.sweepLoop()
	}
}

func (s *DuelService) Shutdown() error {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
		}
	})

	return nil
}

func (s *DuelService) Create(ctx context.Context, caller common.Identity, request CreateRequest) (*ledger.Duel, error) {
	duel, err := ledger.New(request.DuelID, caller, request.Stake, request.Stats, request.Strategy, s.Now())
	if err != nil {
		return nil, err
	}

	err = s.update(ctx, func(tx *bolt.Tx, undo *compensation) error {
		err := ledger.Insert(tx, duel)
		if err != nil {
			return err
		}

		err = s.Escrow.Deposit(ctx, tx, duel.ID, caller, duel.Stake)
		if err != nil {
			return err
		}

		undo.credit(caller, duel.Stake)

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.infoj(log.JSON{"msg": "duel created", "duel_id": duel.ID, "creator": caller, "stake": duel.Stake})
	s.Bus.Emit(ctx, events.Event{Kind: events.KindPlayerJoined, DuelID: duel.ID, Player: &caller, Amount: duel.Stake})

	return duel, nil
}

func (s *DuelService) Join(ctx context.Context, caller common.Identity, duelID uint64, request JoinRequest) (*ledger.Duel, error) {
	var duel *ledger.Duel

	err := s.update(ctx, func(tx *bolt.Tx, undo *compensation) error {
		var err error

		duel, err = ledger.Load(tx, duelID)
		if err != nil {
			return err
		}

		err = duel.Join(caller, request.Stake, request.Stats, request.Strategy)
		if err != nil {
			return err
		}

		err = ledger.Save(tx, duel)
		if err != nil {
			return err
		}

		err = s.Escrow.Deposit(ctx, tx, duel.ID, caller, request.Stake)
		if err != nil {
			return err
		}

		undo.credit(caller, request.Stake)

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.infoj(log.JSON{"msg": "duel joined", "duel_id": duel.ID, "opponent": caller})
	s.Bus.Emit(ctx, events.Event{Kind: events.KindPlayerJoined, DuelID: duel.ID, Player: &caller, Amount: request.Stake})

	return duel, nil
}

// DispatchBattle hands the duel to the computation engine and returns without
// waiting for the result.
func (s *DuelService) DispatchBattle(
	ctx context.Context,
	caller common.Identity,
	duelID uint64,
	token uint64,
	keys dispatcher.Keys) (*ledger.Duel, error) {
	var duel *ledger.Duel

	err := s.update(ctx, func(tx *bolt.Tx, _ *compensation) error {
		var err error

		duel, err = ledger.Load(tx, duelID)
		if err != nil {
			return err
		}

		err = duel.Dispatch(caller, s.Operator, token, s.Now())
		if err != nil {
			return err
		}

		request, err := dispatcher.NewRequest(duel, token, keys)
		if err != nil {
			return err
		}

		err = ledger.Save(tx, duel)
		if err != nil {
			return err
		}

		return s.Dispatcher.Dispatch(ctx, tx, request)
	})
	if err != nil {
		return nil, err
	}

	s.infoj(log.JSON{"msg": "battle dispatched", "duel_id": duel.ID, "computation_offset": token})

	return duel, nil
}

// OnFinalized applies an engine result. An inconsistent result is recorded
// on the duel, which stays dispatched, and reported to the caller.
func (s *DuelService) OnFinalized(
	ctx context.Context,
	token uint64,
	winner common.Identity,
	result ledger.Result) (*ledger.Duel, error) {
	var (
		duel         *ledger.Duel
		inconsistent error
	)

	err := s.update(ctx, func(tx *bolt.Tx, _ *compensation) error {
		duelID, err := dispatcher.Lookup(tx, token)
		if err != nil {
			return err
		}

		duel, err = ledger.Load(tx, duelID)
		if err != nil {
			return err
		}

		creator, opponent := duel.Participants()

		inconsistent = settlement.Validate(result, winner, creator, opponent)
		if inconsistent != nil {
			duel.Inconsistent = true

			return ledger.Save(tx, duel)
		}

		err = duel.Resolve(token, winner, result, s.Now())
		if err != nil {
			return err
		}

		err = dispatcher.Consume(tx, token)
		if err != nil {
			return err
		}

		return ledger.Save(tx, duel)
	})
	if err != nil {
		return nil, err
	}

	if inconsistent != nil {
		s.errorj(log.JSON{"msg": "inconsistent battle result", "duel_id": duel.ID, "computation_offset": token, "error": inconsistent.Error()})

		return duel, inconsistent
	}

	s.infoj(log.JSON{"msg": "battle resolved", "duel_id": duel.ID, "winner": winner, "result": result})
	s.Bus.Emit(ctx, events.Event{Kind: events.KindBattleResult, DuelID: duel.ID, Winner: &winner, Result: string(result)})

	return duel, nil
}

// Claim pays out a resolved duel. A decisive result pays the whole pot to
// the winner; a draw returns each stake.
func (s *DuelService) Claim(ctx context.Context, caller common.Identity, duelID uint64) (*ClaimResponse, error) {
	var (
		duel    *ledger.Duel
		payouts []escrow.Deposit
	)

	err := s.update(ctx, func(tx *bolt.Tx, undo *compensation) error {
		var err error

		duel, err = ledger.Load(tx, duelID)
		if err != nil {
			return err
		}

		err = duel.Claim(caller)
		if err != nil {
			return err
		}

		err = ledger.Save(tx, duel)
		if err != nil {
			return err
		}

		if *duel.Result == ledger.ResultDraw {
			payouts, err = s.Escrow.Refund(ctx, tx, duel.ID)
		} else {
			var amount uint64

			amount, err = s.Escrow.Disburse(ctx, tx, duel.ID, *duel.Winner)
			payouts = []escrow.Deposit{{Party: *duel.Winner, Amount: amount}}
		}

		if err != nil {
			return err
		}

		for _, payout := range payouts {
			undo.debit(payout.Party, payout.Amount)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, payout := range payouts {
		s.infoj(log.JSON{"msg": "reward claimed", "duel_id": duel.ID, "player": payout.Party, "amount": payout.Amount})
		s.Bus.Emit(ctx, events.Event{Kind: events.KindRewardClaimed, DuelID: duel.ID, Player: &payout.Party, Amount: payout.Amount})
	}

	return &ClaimResponse{Duel: duel, Payouts: payouts}, nil
}

func (s *DuelService) Get(duelID uint64) (*DuelResponse, error) {
	var response DuelResponse

	err := s.DB.View(func(tx *bolt.Tx) error {
		duel, err := ledger.Load(tx, duelID)
		if err != nil {
			return err
		}

		response.Duel = duel

		pot, err := s.Escrow.Get(tx, duelID)
		if err != nil {
			return err
		}

		response.Escrow = pot.Balance()

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load duel: %w", err)
	}

	return &response, nil
}

// SweepExpired refunds every dispatched duel older than the battle timeout.
// A late callback for a refunded duel is reported as stale.
func (s *DuelService) SweepExpired(ctx context.Context) (int, error) {
	now := s.Now()

	var expired []uint64

	err := s.DB.View(func(tx *bolt.Tx) error {
		return ledger.ForEach(tx, func(duel *ledger.Duel) error {
			if duel.Expired(now, s.BattleTimeout) {
				expired = append(expired, duel.ID)
			}

			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan duels: %w", err)
	}

	refunded := 0

	for _, duelID := range expired {
		payouts, err := s.abandon(ctx, duelID, now)
		if errors.Is(err, ledger.ErrInvalidState) {
			continue
		}

		if err != nil {
			return refunded, err
		}

		refunded++

		s.warnj(log.JSON{"msg": "abandoned battle refunded", "duel_id": duelID})

		for _, payout := range payouts {
			s.Bus.Emit(ctx, events.Event{Kind: events.KindDuelRefunded, DuelID: duelID, Player: &payout.Party, Amount: payout.Amount})
		}
	}

	return refunded, nil
}

func (s *DuelService) abandon(ctx context.Context, duelID uint64, now time.Time) ([]escrow.Deposit, error) {
	var payouts []escrow.Deposit

	err := s.update(ctx, func(tx *bolt.Tx, undo *compensation) error {
		duel, err := ledger.Load(tx, duelID)
		if err != nil {
			return err
		}

		// Finalized since the scan.
		if !duel.Expired(now, s.BattleTimeout) {
			return ledger.ErrInvalidState
		}

		err = duel.Abandon()
		if err != nil {
			return err
		}

		if duel.CorrelationToken != nil {
			err = dispatcher.Consume(tx, *duel.CorrelationToken)
			if err != nil && !errors.Is(err, ledger.ErrUnknownComputation) {
				return err
			}
		}

		err = ledger.Save(tx, duel)
		if err != nil {
			return err
		}

		payouts, err = s.Escrow.Refund(ctx, tx, duelID)
		if err != nil {
			return err
		}

		for _, payout := range payouts {
			undo.debit(payout.Party, payout.Amount)
		}

		return nil
	})

	return payouts, err
}

func (s *DuelService) processResults() {
	for {
		select {
		case <-s.stop:
			return
		case result, ok := <-s.ResultSource:
			if !ok {
				return
			}

			_, err := s.OnFinalized(context.Background(), result.Token, result.Winner, result.Result)
			if err != nil {
				s.errorj(log.JSON{"msg": "failed to apply battle result", "computation_offset": result.Token, "error": err.Error()})
			}
		}
	}
}

func (s *DuelService) sweepLoop() {
	ticker := time.NewTicker(s.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_, err := s.SweepExpired(context.Background())
			if err != nil {
				s.errorj(log.JSON{"msg": "failed to sweep abandoned battles", "error": err.Error()})
			}
		}
	}
}

// compensation collects custody movements to reverse if the bolt commit
// fails after they were made.
type compensation struct {
	steps []func(ctx context.Context, custody escrow.Custody) error
}

func (c *compensation) credit(party common.Identity, amount uint64) {
	c.steps = append(c.steps, func(ctx context.Context, custody escrow.Custody) error {
		return custody.Credit(ctx, party, amount)
	})
}

func (c *compensation) debit(party common.Identity, amount uint64) {
	c.steps = append(c.steps, func(ctx context.Context, custody escrow.Custody) error {
		return custody.Debit(ctx, party, amount)
	})
}

// update runs fn in one bolt write transaction. Bolt admits a single writer,
// so every state transition is an atomic check-and-set.
func (s *DuelService) update(ctx context.Context, fn func(tx *bolt.Tx, undo *compensation) error) error {
	undo := &compensation{}
	completed := false

	err := s.DB.Update(func(tx *bolt.Tx) error {
		err := fn(tx, undo)
		if err != nil {
			return err
		}

		completed = true

		return nil
	})
	if errors.Is(err, escrow.ErrClawbackFailed) {
		s.errorj(log.JSON{"msg": "custody left inconsistent by refund", "error": err.Error()})
	}

	if err != nil && completed {
		for _, step := range undo.steps {
			undoErr := step(ctx, s.Escrow.Custody)
			if undoErr != nil {
				s.errorj(log.JSON{"msg": "failed to compensate custody", "error": undoErr.Error()})
			}
		}
	}

	//nolint:wrapcheck
	return err
}

func (s *DuelService) infoj(j log.JSON) {
	if s.Logger != nil {
		s.Logger.Infoj(j)
	}
}

func (s *DuelService) warnj(j log.JSON) {
	if s.Logger != nil {
		s.Logger.Warnj(j)
	}
}

func (s *DuelService) errorj(j log.JSON) {
	if s.Logger != nil {
		s.Logger.Errorj(j)
	}
}
