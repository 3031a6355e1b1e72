// Package hub fans out check-in change events to SSE subscribers.
package hub

import (
	"sync"
	"time"
)

const (
	defaultBufferCap = 100
	defaultMaxTopics = 1024
)

// AllChats is the topic that receives every event regardless of chat.
const AllChats = "*"

// Event kinds.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
	KindStatus  = "status"
)

// Event describes a change to one or more check-ins.
type Event struct {
	Kind     string    `json:"kind"`
	ChatID   string    `json:"chat_id,omitempty"`
	EventIDs []int64   `json:"event_ids"`
	Category string    `json:"category,omitempty"`
	Time     string    `json:"check_in_time,omitempty"`
	Message  string    `json:"message_content,omitempty"`
	Status   string    `json:"status,omitempty"`
	At       time.Time `json:"at"`
}

// topic holds the replay buffer and subscribers for one chat.
type topic struct {
	buf     []Event // circular buffer
	pos     int     // next write position
	clients map[chan Event]struct{}
	done    bool
	last    time.Time // last publish or subscribe
}

// events returns the buffered events from oldest to newest.
func (t *topic) events() []Event {
	n := len(t.buf)
	if n == 0 || t.pos == 0 {
		return t.buf
	}
	out := make([]Event, n)
	copy(out, t.buf[t.pos:])
	copy(out[n-t.pos:], t.buf[:t.pos])
	return out
}

func (t *topic) append(ev Event) {
	if len(t.buf) < cap(t.buf) {
		t.buf = append(t.buf, ev)
	} else {
		t.buf[t.pos] = ev
	}
	t.pos = (t.pos + 1) % cap(t.buf)
}

// Hub fans out events per chat. It keeps the last few events of each chat
// so a client that connects after a send still sees what it changed.
//
// At most maxTopics topics are kept. When a new one is needed past that
// limit, the least recently active topic without subscribers is dropped.
// A topic that never received an event is dropped as soon as its last
// subscriber leaves.
type Hub struct {
	mu        sync.Mutex
	bufferCap int
	maxTopics int
	topics    map[string]*topic
}

// New creates a Hub ready for use. Non-positive values use the defaults.
func New(bufferCap, maxTopics int) *Hub {
	if bufferCap <= 0 {
		bufferCap = defaultBufferCap
	}
	if maxTopics <= 0 {
		maxTopics = defaultMaxTopics
	}
	return &Hub{
		bufferCap: bufferCap,
		maxTopics: maxTopics,
		topics:    make(map[string]*topic),
	}
}

// getOrCreate returns the topic for id, creating it if needed.
// Caller must hold h.mu.
func (h *Hub) getOrCreate(id string) *topic {
	t, ok := h.topics[id]
	if !ok {
		if len(h.topics) >= h.maxTopics {
			h.evictIdle()
		}
		t = &topic{
			buf:     make([]Event, 0, h.bufferCap),
			clients: make(map[chan Event]struct{}),
		}
		h.topics[id] = t
	}
	t.last = time.Now()
	return t
}

// evictIdle drops the least recently active topic that has no
// subscribers. AllChats is never dropped. Caller must hold h.mu.
func (h *Hub) evictIdle() {
	var (
		victim string
		oldest time.Time
	)
	for id, t := range h.topics {
		if id == AllChats || len(t.clients) > 0 {
			continue
		}
		if victim == "" || t.last.Before(oldest) {
			victim, oldest = id, t.last
		}
	}
	if victim != "" {
		h.remove(victim)
	}
}

// Publish records ev under its chat and under AllChats and sends it to
// current subscribers of both. Events without a chat go to AllChats only.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ids := []string{AllChats}
	if ev.ChatID != "" && ev.ChatID != AllChats {
		ids = append(ids, ev.ChatID)
	}
	for _, id := range ids {
		t := h.getOrCreate(id)
		if t.done {
			continue
		}
		t.append(ev)
		// Non-blocking so a slow consumer cannot stall a chat request.
		for ch := range t.clients {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribe returns a channel that first replays buffered events for the
// chat and then receives new ones, plus an unsubscribe function. If the chat
// was closed the channel is closed after the replay.
func (h *Hub) Subscribe(chatID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.getOrCreate(chatID)
	ch := make(chan Event, h.bufferCap+16)

	for _, ev := range t.events() {
		ch <- ev
	}

	if t.done {
		close(ch)
		return ch, func() {}
	}

	t.clients[ch] = struct{}{}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := t.clients[ch]; ok {
				delete(t.clients, ch)
				close(ch)
			}
			if len(t.clients) == 0 && len(t.buf) == 0 && h.topics[chatID] == t {
				delete(h.topics, chatID)
			}
		})
	}
	return ch, unsubscribe
}

// Close marks the chat as done and closes all of its subscriber channels.
// Later Publish calls skip the chat.
func (h *Hub) Close(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[chatID]
	if !ok {
		return
	}
	t.done = true
	for ch := range t.clients {
		close(ch)
	}
	t.clients = map[chan Event]struct{}{}
}

// CloseAll closes every topic. Used on shutdown so SSE handlers return.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.topics))
	for id := range h.topics {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Close(id)
	}
}

// remove deletes a chat's buffer entirely, closing remaining subscribers.
// Caller must hold h.mu.
func (h *Hub) remove(chatID string) {
	t, ok := h.topics[chatID]
	if !ok {
		return
	}
	for ch := range t.clients {
		close(ch)
	}
	t.clients = map[chan Event]struct{}{}
	delete(h.topics, chatID)
}

// Topics returns the number of topics currently held.
func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}
