package common

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/samber/do/v2"
)

const PlayerHeader = "X-Player"

// PlayerSignatureHeader carries the caller's ed25519 signature over method,
// path and body.
const PlayerSignatureHeader = "X-Player-Signature"

type EchoService struct {
	echo *echo.Echo
	port int
}

func NewEchoService(i do.Injector) (*EchoService, error) {
	port := do.MustInvokeNamed[int](i, "port")
	logger := do.MustInvoke[*log.Logger](i)

	return NewEcho(port, logger), nil
}

func NewEcho(port int, logger *log.Logger) *EchoService {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = false

	if logger != nil {
		e.Logger = logger
	}

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${id} ${remote_ip} ${status} ${method} ${path} ${error} ${latency_human} ${bytes_in} ${bytes_out}\n",
	}))
	e.Use(middleware.Recover())

	return &EchoService{
		echo: e,
		port: port,
	}
}

func (s *EchoService) Register(c func(e *echo.Echo)) {
	c(s.echo)
}

func (s *EchoService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *EchoService) Start() error {
	err := s.echo.Start(fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *EchoService) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shutdown echo server: %w", err)
	}

	return nil
}

// SignedCaller authenticates the caller of a request: the body must be signed
// with the ed25519 key behind the claimed identity. The body is restored so
// handlers can still bind it.
func SignedCaller(c echo.Context) (Identity, error) {
	header := c.Request().Header.Get(PlayerHeader)
	if header == "" {
		return NoParticipant, echo.NewHTTPError(http.StatusUnauthorized, "missing "+PlayerHeader+" header")
	}

	caller, err := ParseIdentity(header)
	if err != nil {
		return NoParticipant, echo.NewHTTPError(http.StatusBadRequest, "invalid "+PlayerHeader+" header")
	}

	request := c.Request()

	body, err := io.ReadAll(request.Body)
	if err != nil {
		return NoParticipant, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	request.Body = io.NopCloser(bytes.NewReader(body))

	err = VerifyRequest(caller, request.Method, request.URL.Path, body, request.Header.Get(PlayerSignatureHeader))
	if err != nil {
		return NoParticipant, echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	return caller, nil
}
