// Package events provides the in-process pub/sub bus connecting the
// execution engine and monitor to the notifier and the websocket feed.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventEngineHalted    EventType = "ENGINE_HALTED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventPartialClose    EventType = "PARTIAL_CLOSE"
	EventPositionUpdate  EventType = "POSITION_UPDATE"
	EventStopMoved       EventType = "STOP_MOVED"
	EventMonitorPaused   EventType = "MONITOR_PAUSED"
	EventMonitorResumed  EventType = "MONITOR_RESUMED"
	EventRiskAlert       EventType = "RISK_ALERT"
	EventSignalRejected  EventType = "SIGNAL_REJECTED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their
// own goroutines so a slow consumer never blocks the engine.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (b *Bus) PublishTradeOpened(positionID, symbol, side string, entryPrice, size float64) {
	b.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"size":        size,
		},
	})
}

// PublishTradeClosed publishes a full or partial close event
func (b *Bus) PublishTradeClosed(positionID, symbol, reason string, exitPrice, quantity, pnl float64, partial bool) {
	eventType := EventTradeClosed
	if partial {
		eventType = EventPartialClose
	}
	b.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"reason":      reason,
			"exit_price":  exitPrice,
			"quantity":    quantity,
			"pnl":         pnl,
		},
	})
}

// PublishStopMoved publishes a trailing stop update event
func (b *Bus) PublishStopMoved(positionID, symbol string, oldStop, newStop float64) {
	b.Publish(Event{
		Type: EventStopMoved,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"old_stop":    oldStop,
			"new_stop":    newStop,
		},
	})
}

// PublishRiskAlert publishes a risk alert event
func (b *Bus) PublishRiskAlert(message string) {
	b.Publish(Event{
		Type: EventRiskAlert,
		Data: map[string]interface{}{
			"message": message,
		},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
