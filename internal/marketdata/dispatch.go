// Package marketdata is the Market Data Service (C2): a single long-lived
// WebSocket connection per engine, in-memory order-book/trade/funding/
// liquidation caches, and a bounded, isolated subscriber fan-out.
package marketdata

import "sync"

// EventKind names the channel a subscriber can listen on, per spec.md §4.2.
type EventKind string

const (
	EventOrderBook    EventKind = "orderBook"
	EventTrade        EventKind = "trade"
	EventFunding      EventKind = "funding"
	EventLiquidation  EventKind = "liquidation"
	EventDisconnected EventKind = "disconnected"
)

// queueCapacity bounds each subscriber's private queue; once full the
// oldest pending event is dropped so a slow subscriber cannot block others.
const queueCapacity = 64

// UnsubscribeFunc detaches a subscription previously returned by Subscribe.
type UnsubscribeFunc func()

type subscriber struct {
	id    int
	queue chan any
	done  chan struct{}
}

// Dispatcher is the typed `subscribe(event, callback) -> unsubscribeFn`
// abstraction from spec.md §4.2/§9's event-emitter-fan-out redesign flag:
// replacing the teacher's fixed typed channels (ws.go's bookCh/tradeCh/...)
// with one generic per-event subscriber registry, each isolated behind its
// own bounded, drop-oldest queue.
type Dispatcher struct {
	mu        sync.Mutex
	nextID    int
	listeners map[EventKind]map[int]*subscriber
}

// NewDispatcher builds an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[EventKind]map[int]*subscriber)}
}

// Subscribe registers callback to run (on its own goroutine-fed queue) for
// every Publish of kind. The returned func detaches the subscription.
func (d *Dispatcher) Subscribe(kind EventKind, callback func(any)) UnsubscribeFunc {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	sub := &subscriber{id: id, queue: make(chan any, queueCapacity), done: make(chan struct{})}
	if d.listeners[kind] == nil {
		d.listeners[kind] = make(map[int]*subscriber)
	}
	d.listeners[kind][id] = sub
	d.mu.Unlock()

	go func() {
		for {
			select {
			case evt, ok := <-sub.queue:
				if !ok {
					return
				}
				callback(evt)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		d.mu.Lock()
		if subs, ok := d.listeners[kind]; ok {
			delete(subs, id)
		}
		d.mu.Unlock()
		close(sub.done)
	}
}

// Publish delivers event to every subscriber of kind. Delivery is
// non-blocking: a full subscriber queue drops its oldest pending event to
// make room, per the drop-oldest semantics in spec.md §4.2.
func (d *Dispatcher) Publish(kind EventKind, event any) {
	d.mu.Lock()
	subs := make([]*subscriber, 0, len(d.listeners[kind]))
	for _, s := range d.listeners[kind] {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	for _, s := range subs {
		select {
		case s.queue <- event:
		default:
			select {
			case <-s.queue:
			default:
			}
			select {
			case s.queue <- event:
			default:
			}
		}
	}
}
