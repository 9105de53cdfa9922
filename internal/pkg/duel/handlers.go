package duel

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/dispatcher"
	"github.com/vreid/kessen/internal/pkg/ledger"
)

func (s *DuelService) PostDuel(c echo.Context) error {
	caller, err := common.SignedCaller(c)
	if err != nil {
		return err
	}

	var request CreateRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	duel, err := s.Create(c.Request().Context(), caller, request)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, duel)
}

func (s *DuelService) PostJoin(c echo.Context) error {
	caller, err := common.SignedCaller(c)
	if err != nil {
		return err
	}

	duelID, err := duelIDParam(c)
	if err != nil {
		return err
	}

	var request JoinRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	duel, err := s.Join(c.Request().Context(), caller, duelID, request)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, duel)
}

func (s *DuelService) PostBattle(c echo.Context) error {
	caller, err := common.SignedCaller(c)
	if err != nil {
		return err
	}

	duelID, err := duelIDParam(c)
	if err != nil {
		return err
	}

	var request BattleRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	token := request.Token
	if token == 0 {
		token, err = dispatcher.NewCorrelationToken()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate computation offset")
		}
	}

	duel, err := s.DispatchBattle(c.Request().Context(), caller, duelID, token, request.Keys)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusAccepted, duel)
}

// PostFinalize is the engine's completion callback. The body must be signed
// with the shared callback secret.
func (s *DuelService) PostFinalize(c echo.Context) error {
	if len(s.CallbackSecret) == 0 {
		return echo.NewHTTPError(http.StatusForbidden, "callbacks are disabled")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	err = dispatcher.VerifyCallback(s.CallbackSecret, body, c.Request().Header.Get(SignatureHeader))
	if err != nil {
		return httpError(err)
	}

	var request FinalizeRequest

	err = json.Unmarshal(body, &request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := ledger.ParseResult(request.Result)
	if err != nil {
		return httpError(err)
	}

	duel, err := s.OnFinalized(c.Request().Context(), request.Token, request.Winner, result)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, duel)
}

func (s *DuelService) PostClaim(c echo.Context) error {
	caller, err := common.SignedCaller(c)
	if err != nil {
		return err
	}

	duelID, err := duelIDParam(c)
	if err != nil {
		return err
	}

	response, err := s.Claim(c.Request().Context(), caller, duelID)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, response)
}

func (s *DuelService) GetDuel(c echo.Context) error {
	duelID, err := duelIDParam(c)
	if err != nil {
		return err
	}

	response, err := s.Get(duelID)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, response, "  ")
}

func duelIDParam(c echo.Context) (uint64, error) {
	duelID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid duel id")
	}

	return duelID, nil
}

func httpError(err error) error {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, ledger.ErrUnknownDuel):
		code = http.StatusNotFound
	case errors.Is(err, common.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, common.ErrAuthorization):
		code = http.StatusForbidden
	case errors.Is(err, common.ErrState):
		code = http.StatusConflict
	case errors.Is(err, common.ErrInconsistentResult):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrExternal):
		code = http.StatusBadGateway
	}

	return echo.NewHTTPError(code, err.Error())
}
