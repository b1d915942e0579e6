package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/antoniostano/aria/internal/protocol"
)

// Handler processes one typed server event. Handlers run on the dispatch
// goroutine and must keep their work bounded; anything touching external
// I/O belongs on its own goroutine.
type Handler func(ctx context.Context, event any) error

// Dispatcher routes inbound protocol events to typed handlers. One handler
// per event type; re-registration overwrites. Unknown types are counted and
// ignored so a newer server cannot break the receive loop.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[protocol.EventType]Handler
	unknown  atomic.Uint64
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[protocol.EventType]Handler)}
}

func (d *Dispatcher) Register(eventType protocol.EventType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = h
}

// Dispatch invokes the handler for the event's type tag. A missing handler
// is not an error; a handler panic is converted into an error so one bad
// event cannot take down the dispatch loop.
func (d *Dispatcher) Dispatch(ctx context.Context, event any) (err error) {
	eventType := protocol.TypeOf(event)
	d.mu.RLock()
	h := d.handlers[eventType]
	d.mu.RUnlock()
	if h == nil {
		d.unknown.Add(1)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", eventType, r)
		}
	}()
	if err := h(ctx, event); err != nil {
		return fmt.Errorf("handle %s: %w", eventType, err)
	}
	return nil
}

// Unknown reports how many events had no registered handler.
func (d *Dispatcher) Unknown() uint64 {
	return d.unknown.Load()
}
