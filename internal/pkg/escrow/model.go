package escrow

import (
	"context"
	"fmt"

	"github.com/vreid/kessen/internal/pkg/common"
)

var (
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", common.ErrExternal)
	ErrAlreadyDisbursed  = fmt.Errorf("%w: escrow already disbursed", common.ErrState)
	ErrUnknownDuel       = fmt.Errorf("%w: no escrow for duel", common.ErrState)
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", common.ErrValidation)
	ErrPotOverflow       = fmt.Errorf("%w: pot overflow", common.ErrValidation)
	ErrClawbackFailed    = fmt.Errorf("%w: failed to reverse refund credit", common.ErrExternal)
)

// Custody moves value in and out of a party's spendable balance.
type Custody interface {
	Debit(ctx context.Context, party common.Identity, amount uint64) error
	Credit(ctx context.Context, party common.Identity, amount uint64) error
}

type Deposit struct {
	Party  common.Identity `json:"party"`
	Amount uint64          `json:"amount"`
}

type Escrow struct {
	DuelID    uint64    `json:"duel_id"`
	Deposits  []Deposit `json:"deposits"`
	Disbursed bool      `json:"disbursed"`
}

// Balance is what the escrow still holds.
func (e *Escrow) Balance() uint64 {
	if e.Disbursed {
		return 0
	}

	var total uint64
	for _, deposit := range e.Deposits {
		total += deposit.Amount
	}

	return total
}
