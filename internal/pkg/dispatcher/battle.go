package dispatcher

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/vreid/kessen/internal/pkg/codec"
	"github.com/vreid/kessen/internal/pkg/settlement"
)

type Fighter struct {
	Stats    codec.FighterStats
	Strategy codec.Strategy
}

// RandomFactor returns a value in [0, 100).
type RandomFactor func() (uint32, error)

func CryptoRandomFactor() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100)) //nolint:mnd
	if err != nil {
		return 0, fmt.Errorf("failed to generate random factor: %w", err)
	}

	return uint32(n.Uint64()), nil //nolint:gosec
}

// ResolveBattle is the stand-in battle function the local engine evaluates.
// It returns a settlement outcome code.
func ResolveBattle(p1, p2 Fighter, random RandomFactor) (uint8, error) {
	var factors [3]uint32

	for idx := range factors {
		factor, err := random()
		if err != nil {
			return 0, err
		}

		factors[idx] = factor
	}

	p1Attack := EffectiveStat(p1.Stats.Attack, p1.Strategy.Stance, 0, factors[0])
	p1Defense := EffectiveStat(p1.Stats.Defense, p1.Strategy.Stance, 1, factors[1])
	p1Speed := EffectiveStat(p1.Stats.Speed, p1.Strategy.Stance, 2, factors[2])

	p2Attack := EffectiveStat(p2.Stats.Attack, p2.Strategy.Stance, 0, factors[0])
	p2Defense := EffectiveStat(p2.Stats.Defense, p2.Strategy.Stance, 1, factors[1])
	p2Speed := EffectiveStat(p2.Stats.Speed, p2.Strategy.Stance, 2, factors[2])

	var p1Score, p2Score uint32

	// Faster fighter strikes first; ties favor player 2.
	if p1Speed > p2Speed {
		p1Score += 10
	} else {
		p2Score += 10
	}

	if p1Attack > p2Defense {
		p1Score += p1Attack - p2Defense
	}

	if p2Attack > p1Defense {
		p2Score += p2Attack - p1Defense
	}

	p1Score += ComboBonus(p1.Strategy, p1.Stats.SpecialMove)
	p2Score += ComboBonus(p2.Strategy, p2.Stats.SpecialMove)

	switch {
	case p1Score > p2Score:
		return settlement.OutcomePlayer1, nil
	case p2Score > p1Score:
		return settlement.OutcomePlayer2, nil
	default:
		return settlement.OutcomeDraw, nil
	}
}

// EffectiveStat applies the stance multiplier plus up to 19% variance.
// statType: 0 attack, 1 defense, 2 speed.
func EffectiveStat(base uint16, stance uint8, statType uint8, random uint32) uint32 {
	multiplier := uint32(100)

	switch {
	case stance == 0 && statType == 0:
		multiplier = 120
	case stance == 1 && statType == 1:
		multiplier = 120
	case stance == 2:
		multiplier = 110
	}

	return uint32(base) * (multiplier + random%20) / 100
}

func ComboBonus(strategy codec.Strategy, specialMove uint8) uint32 {
	var bonus uint32

	if strategy.Combo1 == specialMove && strategy.Combo2 == specialMove {
		bonus += 15
	}

	if strategy.Combo1+1 == strategy.Combo2 && strategy.Combo2+1 == strategy.Combo3 {
		bonus += 10
	}

	return bonus
}
