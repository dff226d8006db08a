package event

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler consumes one event. Handlers run on the dispatcher goroutine, never
// on the goroutine that called the engine API.
type Handler func(Event)

type delivery struct {
	ev Event
	// override, when set, replaces the per-kind broadcast for this single
	// occurrence (the per-call completion hook).
	override Handler
}

// Dispatcher is the ordered event bus. Delivery happens on one goroutine, so
// events keep their publish order. When the queue is full the oldest pending
// event is dropped rather than blocking the engine.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler

	queue chan delivery
	done  chan struct{}
	once  sync.Once
}

func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{
		handlers: make(map[Kind][]Handler),
		queue:    make(chan delivery, buffer),
		done:     make(chan struct{}),
	}
	go d.pump()
	return d
}

// Subscribe registers a handler for one event kind. Kinds without handlers
// are silently dropped.
func (d *Dispatcher) Subscribe(k Kind, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.handlers[k] = append(d.handlers[k], h)
	d.mu.Unlock()
}

// Publish enqueues an event for ordered delivery.
func (d *Dispatcher) Publish(ev Event) {
	d.publish(delivery{ev: ev})
}

// PublishOverride enqueues an event whose delivery goes to fn instead of the
// per-kind handlers.
func (d *Dispatcher) PublishOverride(ev Event, fn Handler) {
	d.publish(delivery{ev: ev, override: fn})
}

func (d *Dispatcher) publish(del delivery) {
	select {
	case <-d.done:
		return
	default:
	}
	for {
		select {
		case d.queue <- del:
			return
		default:
		}
		// Full queue: shed the oldest pending event to keep the engine
		// non-blocking.
		select {
		case old := <-d.queue:
			log.Warn().Str("module", "event").Int("kind", int(old.ev.Kind())).Msg("event queue full, dropping oldest")
		default:
		}
	}
}

func (d *Dispatcher) pump() {
	for {
		select {
		case <-d.done:
			return
		case del := <-d.queue:
			d.dispatch(del)
		}
	}
}

func (d *Dispatcher) dispatch(del delivery) {
	if del.override != nil {
		del.override(del.ev)
		return
	}
	d.mu.RLock()
	hs := d.handlers[del.ev.Kind()]
	d.mu.RUnlock()
	for _, h := range hs {
		h(del.ev)
	}
}

// Close stops delivery. Pending events are discarded.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
}
