package events

import (
	"testing"
	"time"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
		return Event{}
	}
}

func TestSubscribeByType(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventTradeOpened, func(ev Event) { got <- ev })

	bus.PublishTradeOpened("pos-1", "BTCUSDT", "LONG", 100, 2)

	ev := waitEvent(t, got)
	if ev.Type != EventTradeOpened {
		t.Errorf("Type = %s, want TRADE_OPENED", ev.Type)
	}
	if ev.Data["symbol"] != "BTCUSDT" || ev.Data["entry_price"] != 100.0 {
		t.Errorf("Data = %v", ev.Data)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}
}

func TestSubscribeTypeFilter(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventTradeClosed, func(ev Event) { got <- ev })

	// A partial close publishes PARTIAL_CLOSE, not TRADE_CLOSED.
	bus.PublishTradeClosed("pos-1", "BTCUSDT", "TAKE_PROFIT", 105, 1, 5, true)

	select {
	case ev := <-got:
		t.Errorf("unexpected delivery: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	bus.PublishTradeClosed("pos-1", "BTCUSDT", "STOP_LOSS", 95, 1, -5, false)
	ev := waitEvent(t, got)
	if ev.Data["reason"] != "STOP_LOSS" {
		t.Errorf("Data = %v", ev.Data)
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 3)
	bus.SubscribeAll(func(ev Event) { got <- ev })

	bus.PublishStopMoved("pos-1", "BTCUSDT", 95, 98)
	bus.PublishRiskAlert("daily loss limit hit")
	bus.PublishError("monitor", "check failed", nil)

	seen := make(map[EventType]bool)
	for i := 0; i < 3; i++ {
		seen[waitEvent(t, got).Type] = true
	}
	for _, want := range []EventType{EventStopMoved, EventRiskAlert, EventError} {
		if !seen[want] {
			t.Errorf("event %s not delivered", want)
		}
	}
}
