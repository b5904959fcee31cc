package sse

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// hub is the broker state. It is owned by the broker loop and never
// touched from another goroutine.
type hub struct {
	clients map[chan []byte]struct{}
	seq     uint64

	// lastSync is the most recent sync.* frame. Browsers that connect while
	// a run is in flight learn about it without waiting for the next event.
	lastSync []byte

	window      time.Duration
	lastList    time.Time
	listPending bool
}

func newHub(window time.Duration) *hub {
	return &hub{clients: make(map[chan []byte]struct{}), window: window}
}

func (h *hub) join(ch chan []byte) {
	h.clients[ch] = struct{}{}
	if h.lastSync != nil {
		offer(ch, h.lastSync)
	}
}

func (h *hub) leave(ch chan []byte) {
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *hub) shutdown() {
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// dispatch fans e out to every client. For entry events it returns how long
// until a held-back entries.changed notice may go out, or zero.
func (h *hub) dispatch(e Event, now time.Time) time.Duration {
	frame, ok := h.encode(e)
	if !ok {
		return 0
	}
	h.broadcast(frame)

	switch {
	case strings.HasPrefix(e.Type, "sync."):
		h.lastSync = frame
	case strings.HasPrefix(e.Type, "entry."):
		if wait := h.lastList.Add(h.window).Sub(now); wait > 0 {
			h.listPending = true
			return wait
		}
		h.announceList(now)
	}
	return 0
}

// flush sends the entries.changed notice held back by the throttle.
func (h *hub) flush(now time.Time) {
	if h.listPending {
		h.announceList(now)
	}
}

func (h *hub) announceList(now time.Time) {
	h.lastList = now
	h.listPending = false
	if frame, ok := h.encode(Event{Type: TypeEntriesChanged, Data: map[string]string{}}); ok {
		h.broadcast(frame)
	}
}

func (h *hub) broadcast(frame []byte) {
	for ch := range h.clients {
		offer(ch, frame)
	}
}

func (h *hub) encode(e Event) ([]byte, bool) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, false
	}
	h.seq++
	var b strings.Builder
	b.WriteString("id: ")
	b.WriteString(strconv.FormatUint(h.seq, 10))
	b.WriteString("\nevent: ")
	b.WriteString(e.Type)
	b.WriteString("\ndata: ")
	b.Write(payload)
	b.WriteString("\n\n")
	return []byte(b.String()), true
}

// offer delivers without blocking; a client whose buffer is full misses
// the frame.
func offer(ch chan []byte, frame []byte) {
	select {
	case ch <- frame:
	default:
	}
}
