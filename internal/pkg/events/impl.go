package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/samber/do/v2"
)

const subscriberBuffer = 64

// Publisher forwards events outside the process.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type BusService struct {
	Logger     *log.Logger
	Publishers []Publisher

	mu          sync.RWMutex
	subscribers map[string]chan Event
}

func NewBusService(i do.Injector) (*BusService, error) {
	logger := do.MustInvoke[*log.Logger](i)

	result := NewBus(logger)

	publisher, err := do.InvokeNamed[Publisher](i, "event-publisher")
	if err == nil && publisher != nil {
		result.Publishers = append(result.Publishers, publisher)
	}

	return result, nil
}

func NewBus(logger *log.Logger, publishers ...Publisher) *BusService {
	return &BusService{
		Logger:      logger,
		Publishers:  publishers,
		subscribers: map[string]chan Event{},
	}
}

func (s *BusService) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[id] = ch
	s.mu.Unlock()

	return id, ch
}

func (s *BusService) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.subscribers[id]
	if !ok {
		return
	}

	delete(s.subscribers, id)
	close(ch)
}

// Emit stamps the event and fans it out. Subscribers that are not keeping up
// lose the event rather than stall a ledger transition.
func (s *BusService) Emit(ctx context.Context, event Event) {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}

		event.ID = id.String()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.RLock()
	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.warnj(log.JSON{"msg": "dropped event for slow subscriber", "subscriber": id, "event": event.ID})
		}
	}
	s.mu.RUnlock()

	for _, publisher := range s.Publishers {
		err := publisher.Publish(ctx, event)
		if err != nil {
			s.warnj(log.JSON{"msg": "failed to publish event", "event": event.ID, "error": err.Error()})
		}
	}
}

func (s *BusService) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}

	return nil
}

func (s *BusService) warnj(j log.JSON) {
	if s.Logger != nil {
		s.Logger.Warnj(j)
	}
}
