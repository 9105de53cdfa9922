package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/codec"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/settlement"
)

// LocalEngine evaluates battles in process. It owns the engine key pair that
// players encrypt against and is the only place their blocks are decrypted.
type LocalEngine struct {
	Logger *log.Logger

	PrivateKey codec.PrivateKey
	PublicKey  codec.PublicKey

	Random     RandomFactor
	ResultSink chan<- Result

	jobs     chan Request
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewLocalEngine(i do.Injector) (Engine, error) {
	logger := do.MustInvoke[*log.Logger](i)
	resultSink := do.MustInvokeNamed[chan<- Result](i, "result-sink")
	queueSize := do.MustInvokeNamed[int](i, "engine-queue-size")

	engine, err := NewLocal(logger, resultSink, queueSize)
	if err != nil {
		return nil, err
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(engine.RegisterRoutes)

	engine.Start()

	return engine, nil
}

func (e *LocalEngine) RegisterRoutes(ec *echo.Echo) {
	apiGroup := ec.Group("/api")

	engineGroup := apiGroup.Group("/engine")

	engineGroup.GET("/public-key", e.GetPublicKey)
}

type PublicKeyResponse struct {
	PublicKey codec.PublicKey `json:"public_key"`
}

// GetPublicKey serves the key players run the key exchange against before
// encrypting their fighter.
func (e *LocalEngine) GetPublicKey(c echo.Context) error {
	//nolint:wrapcheck
	return c.JSON(http.StatusOK, PublicKeyResponse{PublicKey: e.PublicKey})
}

func NewLocal(logger *log.Logger, resultSink chan<- Result, queueSize int) (*LocalEngine, error) {
	priv, pub, err := codec.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate engine key: %w", err)
	}

	return &LocalEngine{
		Logger:     logger,
		PrivateKey: priv,
		PublicKey:  pub,
		Random:     CryptoRandomFactor,
		ResultSink: resultSink,
		jobs:       make(chan Request, queueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

func (e *LocalEngine) Start() {
	go e.processJobs()
}

// Submit queues the request. A full queue rejects instead of blocking the
// caller's transaction.
func (e *LocalEngine) Submit(_ context.Context, request Request) error {
	select {
	case e.jobs <- request:
		return nil
	default:
		return fmt.Errorf("%w: queue full", ErrEngineRejected)
	}
}

// Shutdown stops the worker even when nobody drains ResultSink anymore.
func (e *LocalEngine) Shutdown() error {
	e.stopOnce.Do(func() {
		close(e.stop)
	})

	return nil
}

// Done is closed once the worker started by Start has returned.
func (e *LocalEngine) Done() <-chan struct{} {
	return e.done
}

func (e *LocalEngine) Compute(request Request) (Result, error) {
	p1, err := e.decrypt(request.Player1)
	if err != nil {
		return Result{}, fmt.Errorf("failed to decrypt player 1: %w", err)
	}

	p2, err := e.decrypt(request.Player2)
	if err != nil {
		return Result{}, fmt.Errorf("failed to decrypt player 2: %w", err)
	}

	outcome, err := ResolveBattle(p1, p2, e.Random)
	if err != nil {
		return Result{}, err
	}

	winner, result, err := settlement.FromOutcome(outcome, request.Player1.Player, request.Player2.Player)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Token:  request.Token,
		Winner: winner,
		Result: result,
	}, nil
}

func (e *LocalEngine) decrypt(submission Submission) (Fighter, error) {
	secret, err := codec.DeriveSharedSecret(e.PrivateKey, submission.PublicKey)
	if err != nil {
		return Fighter{}, err
	}

	stats, strategy, err := codec.DecryptFighter(secret, submission.Nonce, submission.Stats, submission.Strategy)
	if err != nil {
		return Fighter{}, err
	}

	return Fighter{Stats: stats, Strategy: strategy}, nil
}

func (e *LocalEngine) processJobs() {
	defer close(e.done)

	for {
		var request Request

		select {
		case <-e.stop:
			return
		case request = <-e.jobs:
		}

		result, err := e.Compute(request)
		if err != nil {
			// The duel stays dispatched until the recovery sweep refunds it.
			e.Logger.Errorj(log.JSON{
				"msg":                "battle computation failed",
				"duel_id":            request.DuelID,
				"computation_offset": request.Token,
				"error":              err.Error(),
			})

			continue
		}

		select {
		case e.ResultSink <- result:
		case <-e.stop:
			return
		}
	}
}
