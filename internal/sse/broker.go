// Package sse implements a Server-Sent Events broker that streams diary
// synchronization progress and entry changes to browsers.
package sse

import (
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeSyncStarted    = "sync.started"
	TypeSyncSucceeded  = "sync.succeeded"
	TypeSyncFailed     = "sync.failed"
	TypeEntryCreated   = "entry.created"
	TypeEntryUpdated   = "entry.updated"
	TypeEntryDeleted   = "entry.deleted"
	TypeEntriesChanged = "entries.changed"
)

var entryTypes = map[string]string{
	"created": TypeEntryCreated,
	"updated": TypeEntryUpdated,
	"deleted": TypeEntryDeleted,
}

const clientBuffer = 64

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Broker fans diary events out to connected browsers. One goroutine owns
// the hub; callers reach it through the control and events channels.
type Broker struct {
	window time.Duration

	control chan func(*hub) // unbuffered: a send means the loop will run it
	events  chan Event

	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. listThrottle is the minimum spacing of the
// coarse entries.changed notice while entries churn (e.g. after a pull);
// the last change in a burst is always announced.
func NewBroker(listThrottle time.Duration) *Broker {
	if listThrottle <= 0 {
		listThrottle = 2 * time.Second
	}
	b := &Broker{
		window:  listThrottle,
		control: make(chan func(*hub)),
		events:  make(chan Event, 256),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	h := newHub(b.window)
	var (
		timer   *time.Timer
		flushAt <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-b.stop:
			h.shutdown()
			return
		case fn := <-b.control:
			fn(h)
		case e := <-b.events:
			if wait := h.dispatch(e, time.Now()); wait > 0 && flushAt == nil {
				timer = time.NewTimer(wait)
				flushAt = timer.C
			}
		case now := <-flushAt:
			flushAt = nil
			h.flush(now)
		}
	}
}

// do hands fn to the loop. It reports false once the broker is closed.
func (b *Broker) do(fn func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.control <- fn:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.stopped
}

// Subscribe registers a client. The channel is closed by Unsubscribe or
// Close; on a closed broker it comes back already closed.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if !b.do(func(h *hub) { h.join(ch) }) {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.do(func(h *hub) { h.leave(ch) })
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	n := make(chan int, 1)
	if !b.do(func(h *hub) { n <- len(h.clients) }) {
		return 0
	}
	return <-n
}

// Publish queues an event for every connected client.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.events <- event:
	case <-b.stopped:
	}
}

// PublishEntryEvent announces an entry file change ("created", "updated" or
// "deleted"). Unknown kinds are ignored.
func (b *Broker) PublishEntryEvent(kind, path string) {
	typ, ok := entryTypes[kind]
	if !ok {
		return
	}
	b.Publish(Event{Type: typ, Data: map[string]string{"path": path}})
}

// ServeHTTP streams events to one browser (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
