package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/do/v2"
)

// RemoteEngine forwards requests to an external engine over HTTP. The engine
// reports back through the signed finalize callback.
type RemoteEngine struct {
	Client *resty.Client
}

func NewRemoteEngine(i do.Injector) (Engine, error) {
	engineURL := do.MustInvokeNamed[string](i, "engine-url")
	submitTimeoutMs := do.MustInvokeNamed[int](i, "engine-submit-timeout-ms")

	return NewRemote(engineURL, time.Duration(submitTimeoutMs)*time.Millisecond), nil
}

func NewRemote(baseURL string, timeout time.Duration) *RemoteEngine {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &RemoteEngine{
		Client: client,
	}
}

func (e *RemoteEngine) Submit(ctx context.Context, request Request) error {
	resp, err := e.Client.R().
		SetContext(ctx).
		SetBody(request).
		Post("/submit")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEngineRejected, err)
	}

	if resp.IsError() {
		return fmt.Errorf("%w: status %d: %s", ErrEngineRejected, resp.StatusCode(), resp.String())
	}

	return nil
}
