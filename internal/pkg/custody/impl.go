package custody

import (
	"context"
	"fmt"
	"net/http"

	"github.com/holiman/uint256"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/escrow"
	bolt "go.etcd.io/bbolt"
)

const BalancesBucket = "custody:balances"

var ErrBalanceOverflow = fmt.Errorf("%w: balance overflow", common.ErrExternal)

// CustodyService keeps spendable balances in its own bolt file so debits and
// credits can run while the duel database holds its write lock.
type CustodyService struct {
	DB *bolt.DB

	// Operator may seed balances over HTTP. Zero disables funding.
	Operator common.Identity
}

func NewCustodyService(i do.Injector) (*CustodyService, error) {
	dataDir := do.MustInvokeNamed[string](i, "data-dir")

	result, err := Open(dataDir)
	if err != nil {
		return nil, err
	}

	if operatorHex := do.MustInvokeNamed[string](i, "operator"); operatorHex != "" {
		operator, err := common.ParseIdentity(operatorHex)
		if err != nil {
			_ = result.Shutdown()

			return nil, fmt.Errorf("failed to parse operator: %w", err)
		}

		result.Operator = operator
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.RegisterRoutes)

	return result, nil
}

func (s *CustodyService) RegisterRoutes(e *echo.Echo) {
	apiGroup := e.Group("/api")

	custodyGroup := apiGroup.Group("/custody")

	custodyGroup.GET("/:party", s.GetBalance)
	custodyGroup.POST("/:party/fund", s.PostFund)
}

type BalanceResponse struct {
	Party   common.Identity `json:"party"`
	Balance string          `json:"balance"`
}

type FundRequest struct {
	Amount uint64 `json:"amount"`
}

// PostFund credits a party from outside any duel. Only the operator may call
// it.
func (s *CustodyService) PostFund(c echo.Context) error {
	caller, err := common.SignedCaller(c)
	if err != nil {
		return err
	}

	if s.Operator.IsZero() || caller != s.Operator {
		return echo.NewHTTPError(http.StatusForbidden, "only the operator may fund balances")
	}

	party, err := common.ParseIdentity(c.Param("party"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid party")
	}

	var request FundRequest

	err = c.Bind(&request)
	if err != nil || request.Amount == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid amount")
	}

	err = s.Fund(c.Request().Context(), party, request.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	balance, err := s.Balance(party)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read balance")
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, BalanceResponse{Party: party, Balance: balance.Dec()})
}

func (s *CustodyService) GetBalance(c echo.Context) error {
	party, err := common.ParseIdentity(c.Param("party"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid party")
	}

	balance, err := s.Balance(party)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read balance")
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, BalanceResponse{Party: party, Balance: balance.Dec()})
}

func Open(dataDir string) (*CustodyService, error) {
	db, err := common.OpenDatabase(dataDir, "custody.db", BalancesBucket)
	if err != nil {
		return nil, err
	}

	return &CustodyService{
		DB: db,
	}, nil
}

func (s *CustodyService) Shutdown() error {
	//nolint:wrapcheck
	return s.DB.Close()
}

func (s *CustodyService) Debit(_ context.Context, party common.Identity, amount uint64) error {
	return s.update(party, func(balance *uint256.Int) error {
		value := uint256.NewInt(amount)
		if balance.Lt(value) {
			return fmt.Errorf("%w: %s has %s, needs %d", escrow.ErrInsufficientFunds, party, balance.Dec(), amount)
		}

		balance.Sub(balance, value)

		return nil
	})
}

func (s *CustodyService) Credit(_ context.Context, party common.Identity, amount uint64) error {
	return s.update(party, func(balance *uint256.Int) error {
		_, overflow := balance.AddOverflow(balance, uint256.NewInt(amount))
		if overflow {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, party)
		}

		return nil
	})
}

// Fund tops up a balance outside of any duel.
func (s *CustodyService) Fund(ctx context.Context, party common.Identity, amount uint64) error {
	return s.Credit(ctx, party, amount)
}

func (s *CustodyService) Balance(party common.Identity) (*uint256.Int, error) {
	balance := new(uint256.Int)

	err := s.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BalancesBucket))
		if b == nil {
			return fmt.Errorf("%s bucket doesn't exist", BalancesBucket)
		}

		balance.SetBytes(b.Get(party[:]))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	return balance, nil
}

func (s *CustodyService) update(party common.Identity, fn func(*uint256.Int) error) error {
	//nolint:wrapcheck
	return s.DB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BalancesBucket))
		if b == nil {
			return fmt.Errorf("%s bucket doesn't exist", BalancesBucket)
		}

		balance := new(uint256.Int).SetBytes(b.Get(party[:]))

		err := fn(balance)
		if err != nil {
			return err
		}

		raw := balance.Bytes32()

		err = b.Put(party[:], raw[:])
		if err != nil {
			return fmt.Errorf("failed to put balance: %w", err)
		}

		return nil
	})
}

var _ escrow.Custody = (*CustodyService)(nil)
