package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/do/v2"
	"github.com/valkey-io/valkey-go"
)

// ValkeyPublisher PUBLISHes every event as JSON on one channel.
type ValkeyPublisher struct {
	Client  valkey.Client
	Channel string
}

func NewValkeyPublisher(i do.Injector) (Publisher, error) {
	addr := do.MustInvokeNamed[string](i, "valkey-addr")
	channel := do.MustInvokeNamed[string](i, "valkey-channel")

	//nolint:exhaustruct
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	return &ValkeyPublisher{
		Client:  client,
		Channel: channel,
	}, nil
}

func (p *ValkeyPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	cmd := p.Client.B().Publish().Channel(p.Channel).Message(string(payload)).Build()

	err = p.Client.Do(ctx, cmd).Error()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

func (p *ValkeyPublisher) Shutdown() error {
	p.Client.Close()

	return nil
}
