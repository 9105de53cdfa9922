package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/vreid/kessen/internal/pkg/common"
)

const BlockSize = 32

// EncryptedBlock is one ciphertext field. It is never interpreted outside the
// engine that holds the matching shared secret.
type EncryptedBlock [BlockSize]byte

type PublicKey [32]byte

type PrivateKey [32]byte

type SharedSecret [32]byte

// Nonce is the per-submission u128 encryption nonce.
type Nonce [16]byte

var ErrInvalidNonce = fmt.Errorf("%w: invalid nonce", common.ErrValidation)

func (n Nonce) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(n[:])), nil
}

func (n *Nonce) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil || len(b) != len(n) {
		return fmt.Errorf("%w: %q", ErrInvalidNonce, text)
	}

	copy(n[:], b)

	return nil
}

// Field order shared with the engine. Blocks are correlated to fields by
// position only.
const (
	FieldAttack = iota
	FieldDefense
	FieldSpeed
	FieldSpecialMove
	FieldStance
	FieldTargetStat
	FieldCombo1
	FieldCombo2
	FieldCombo3

	FieldCount
)

var FieldNames = [FieldCount]string{
	"attack",
	"defense",
	"speed",
	"specialMove",
	"stance",
	"targetStat",
	"combo1",
	"combo2",
	"combo3",
}

type FighterStats struct {
	Attack      uint16 `json:"attack"`
	Defense     uint16 `json:"defense"`
	Speed       uint16 `json:"speed"`
	SpecialMove uint8  `json:"special_move"`
}

// Strategy stance: 0 aggressive, 1 defensive, 2 balanced.
// Target stat: 0 attack, 1 defense, 2 speed.
type Strategy struct {
	Stance     uint8 `json:"stance"`
	TargetStat uint8 `json:"target_stat"`
	Combo1     uint8 `json:"combo1"`
	Combo2     uint8 `json:"combo2"`
	Combo3     uint8 `json:"combo3"`
}

type EncryptedStats struct {
	Attack      EncryptedBlock `json:"attack"`
	Defense     EncryptedBlock `json:"defense"`
	Speed       EncryptedBlock `json:"speed"`
	SpecialMove EncryptedBlock `json:"specialMove"`
}

type EncryptedStrategy struct {
	Stance     EncryptedBlock `json:"stance"`
	TargetStat EncryptedBlock `json:"targetStat"`
	Combo1     EncryptedBlock `json:"combo1"`
	Combo2     EncryptedBlock `json:"combo2"`
	Combo3     EncryptedBlock `json:"combo3"`
}

// Blocks returns the stats and strategy blocks in field order.
func Blocks(stats EncryptedStats, strategy EncryptedStrategy) []EncryptedBlock {
	return []EncryptedBlock{
		stats.Attack,
		stats.Defense,
		stats.Speed,
		stats.SpecialMove,
		strategy.Stance,
		strategy.TargetStat,
		strategy.Combo1,
		strategy.Combo2,
		strategy.Combo3,
	}
}

var ErrInvalidKey = fmt.Errorf("%w: invalid key", common.ErrValidation)

func parseKey(s string) ([32]byte, error) {
	var key [32]byte

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(key) {
		return key, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	copy(key[:], b)

	return key, nil
}

func ParsePublicKey(s string) (PublicKey, error) {
	key, err := parseKey(s)

	return PublicKey(key), err
}

func ParsePrivateKey(s string) (PrivateKey, error) {
	key, err := parseKey(s)

	return PrivateKey(key), err
}
