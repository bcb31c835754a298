package progress

import (
	"sync"
)

// eventBuffer is the per-listener channel capacity. A listener that falls
// this far behind starts missing events instead of blocking the job.
const eventBuffer = 100

// Event is a job lifecycle or progress notification.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Broadcaster fans job events out to listeners. Embed it in a job struct to
// get AddListener, RemoveListener and SendEvent methods.
type Broadcaster struct {
	bmu       sync.RWMutex
	listeners []chan Event
}

// AddListener registers a new event listener.
func (b *Broadcaster) AddListener() chan Event {
	b.bmu.Lock()
	defer b.bmu.Unlock()
	ch := make(chan Event, eventBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.bmu.Lock()
	defer b.bmu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *Broadcaster) SendEvent(event Event) {
	b.bmu.RLock()
	defer b.bmu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}
