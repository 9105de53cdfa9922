package dispatcher

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/ledger"
	bolt "go.etcd.io/bbolt"
)

type DispatcherService struct {
	Engine Engine

	// SubmitTimeout bounds how long a submission may hold the ledger's write
	// transaction. Zero means no bound.
	SubmitTimeout time.Duration
}

func NewDispatcherService(i do.Injector) (*DispatcherService, error) {
	engine, err := do.Invoke[Engine](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create computation engine: %w", err)
	}

	submitTimeoutMs := do.MustInvokeNamed[int](i, "engine-submit-timeout-ms")

	return &DispatcherService{
		Engine:        engine,
		SubmitTimeout: time.Duration(submitTimeoutMs) * time.Millisecond,
	}, nil
}

// NewCorrelationToken draws a uniformly random non-zero 64 bit token.
func NewCorrelationToken() (uint64, error) {
	var buf [8]byte

	for {
		_, err := io.ReadFull(rand.Reader, buf[:])
		if err != nil {
			return 0, fmt.Errorf("failed to generate correlation token: %w", err)
		}

		token := binary.LittleEndian.Uint64(buf[:])
		if token != 0 {
			return token, nil
		}
	}
}

// Dispatch records the pending token and hands the request to the engine.
// Both happen inside tx, so a rejected submission leaves no pending entry.
func (s *DispatcherService) Dispatch(ctx context.Context, tx *bolt.Tx, request Request) error {
	pending, consumed, err := buckets(tx)
	if err != nil {
		return err
	}

	key := common.Uint64ToBytes(request.Token)
	if pending.Get(key) != nil || consumed.Get(key) != nil {
		return fmt.Errorf("%w: token %d already used", ledger.ErrInvalidToken, request.Token)
	}

	err = pending.Put(key, common.Uint64ToBytes(request.DuelID))
	if err != nil {
		return fmt.Errorf("failed to put pending computation: %w", err)
	}

	if s.SubmitTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.SubmitTimeout)
		defer cancel()
	}

	err = s.Engine.Submit(ctx, request)
	if err != nil {
		return err
	}

	return nil
}

// Lookup finds the duel waiting on token.
func Lookup(tx *bolt.Tx, token uint64) (uint64, error) {
	pending, consumed, err := buckets(tx)
	if err != nil {
		return 0, err
	}

	key := common.Uint64ToBytes(token)

	if raw := pending.Get(key); raw != nil {
		return common.BytesToUint64(raw, 0), nil
	}

	if consumed.Get(key) != nil {
		return 0, fmt.Errorf("%w: token %d", ledger.ErrStaleCallback, token)
	}

	return 0, fmt.Errorf("%w: token %d", ledger.ErrUnknownComputation, token)
}

// Consume removes token from the pending table. Later lookups report it as
// stale.
func Consume(tx *bolt.Tx, token uint64) error {
	pending, consumed, err := buckets(tx)
	if err != nil {
		return err
	}

	key := common.Uint64ToBytes(token)

	raw := pending.Get(key)
	if raw == nil {
		return fmt.Errorf("%w: token %d", ledger.ErrUnknownComputation, token)
	}

	duelID := append([]byte(nil), raw...)

	err = pending.Delete(key)
	if err != nil {
		return fmt.Errorf("failed to delete pending computation: %w", err)
	}

	err = consumed.Put(key, duelID)
	if err != nil {
		return fmt.Errorf("failed to put consumed computation: %w", err)
	}

	return nil
}

func SignCallback(secret []byte, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)

	return hex.EncodeToString(h.Sum(nil))
}

func VerifyCallback(secret []byte, body []byte, signature string) error {
	mac, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}

	h := hmac.New(sha256.New, secret)
	h.Write(body)

	if !hmac.Equal(h.Sum(nil), mac) {
		return ErrBadSignature
	}

	return nil
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	pending := tx.Bucket([]byte(common.DispatcherPendingBucket))
	if pending == nil {
		return nil, nil, fmt.Errorf("%s bucket doesn't exist", common.DispatcherPendingBucket)
	}

	consumed := tx.Bucket([]byte(common.DispatcherConsumedBkt))
	if consumed == nil {
		return nil, nil, fmt.Errorf("%s bucket doesn't exist", common.DispatcherConsumedBkt)
	}

	return pending, consumed, nil
}
