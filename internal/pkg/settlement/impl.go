package settlement

import (
	"fmt"

	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/ledger"
)

// Engine outcome codes: 0 draw, 1 creator wins, 2 opponent wins.
const (
	OutcomeDraw    uint8 = 0
	OutcomePlayer1 uint8 = 1
	OutcomePlayer2 uint8 = 2
)

var (
	ErrDrawWithWinner   = fmt.Errorf("%w: draw reported with a winner", common.ErrInconsistentResult)
	ErrWinWithoutWinner = fmt.Errorf("%w: win reported without a participant winner", common.ErrInconsistentResult)
	ErrUnknownOutcome   = fmt.Errorf("%w: unknown outcome code", common.ErrInconsistentResult)
)

// Validate checks that result and winner agree with each other and with the
// duel's participants.
func Validate(result ledger.Result, winner, creator, opponent common.Identity) error {
	switch result {
	case ledger.ResultDraw:
		if !winner.IsZero() {
			return fmt.Errorf("%w: %s", ErrDrawWithWinner, winner)
		}

		return nil
	case ledger.ResultWin:
		if winner.IsZero() || (winner != creator && winner != opponent) {
			return fmt.Errorf("%w: %s", ErrWinWithoutWinner, winner)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ledger.ErrUnknownResult, result)
	}
}

func FromOutcome(code uint8, player1, player2 common.Identity) (common.Identity, ledger.Result, error) {
	switch code {
	case OutcomeDraw:
		return common.NoParticipant, ledger.ResultDraw, nil
	case OutcomePlayer1:
		return player1, ledger.ResultWin, nil
	case OutcomePlayer2:
		return player2, ledger.ResultWin, nil
	default:
		return common.NoParticipant, "", fmt.Errorf("%w: %d", ErrUnknownOutcome, code)
	}
}
