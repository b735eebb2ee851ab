package progress

import (
	"sync"
)

// Event is the progress payload pushed to a single client.
type Content struct {
	Type       string `json:"type"`
	Resolution string `json:"resolution,omitempty"`
}

type Event struct {
	ClientID string  `json:"clientId"`
	Progress int     `json:"progress"`
	Content  Content `json:"content"`
}

// Content types carried on the bus.
const (
	ContentTranscode = "transcode"
	ContentUpload    = "upload"
	ContentPoster    = "poster"
	ContentTrailer   = "trailer"
	ContentDash      = "dash_generation"
)

const subscriberBuffer = 16

type subscriber struct {
	ch chan Event
}

// Bus routes progress events to per-client push channels. Delivery is best
// effort: events to a disconnected client, or to a subscriber whose buffer is
// full, are dropped. Safe under many concurrent emitters.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe registers a listener for a client id. The returned cancel func
// must be called when the consumer goes away; it closes the event channel.
func (b *Bus) Subscribe(clientID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[clientID] = append(b.subs[clientID], sub)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			subs := b.subs[clientID]
			for i, s := range subs {
				if s == sub {
					b.subs[clientID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subs[clientID]) == 0 {
				delete(b.subs, clientID)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Emit pushes an event to every subscriber of the client. Never blocks.
func (b *Bus) Emit(clientID string, progress int, content Content) {
	if clientID == "" {
		return
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	ev := Event{ClientID: clientID, Progress: progress, Content: content}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[clientID] {
		select {
		case sub.ch <- ev:
		default:
			// slow consumer, drop
		}
	}
}

// Emitter binds a client id and content shape so pipeline stages can report
// percentages without carrying routing details around.
func (b *Bus) Emitter(clientID string, content Content) func(int) {
	return func(pct int) {
		b.Emit(clientID, pct, content)
	}
}
