package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kessen/internal/pkg/events"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return p.err
}

func TestSubscribeReceivesEvents(t *testing.T) {
	t.Parallel()

	publisher := &recordingPublisher{err: errors.New("offline")}
	bus := events.NewBus(nil, publisher)

	id, ch := bus.Subscribe()

	bus.Emit(context.Background(), events.Event{Kind: events.KindBattleResult, DuelID: 7, Result: "win"})

	event := <-ch
	assert.Equal(t, events.KindBattleResult, event.Kind)
	assert.Equal(t, uint64(7), event.DuelID)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	require.Len(t, publisher.events, 1)
	assert.Equal(t, event.ID, publisher.events[0].ID)

	bus.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	bus.Unsubscribe(id)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(nil)
	_, ch := bus.Subscribe()

	for range 200 {
		bus.Emit(context.Background(), events.Event{Kind: events.KindPlayerJoined})
	}

	assert.Len(t, ch, cap(ch))
	require.NoError(t, bus.Shutdown())
}
