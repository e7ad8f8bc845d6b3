package logging

import "sync"

// DefaultSubscriberBuffer is the per-viewer queue size
const DefaultSubscriberBuffer = 1000

// Broadcaster is a Sink that fans formatted log lines out to live viewers.
// Each subscriber has a bounded queue; when it is full the oldest line is
// dropped so a slow viewer never blocks logging.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan string]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to buffer lines
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[chan string]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a viewer. The first line received confirms the stream.
// Call the returned function to unsubscribe.
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, b.buffer)
	ch <- "log stream connected"

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of connected viewers
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Write implements Sink
func (b *Broadcaster) Write(_ LogEntry, line string) {
	b.Publish(line)
}

// Publish pushes a line to every subscriber
func (b *Broadcaster) Publish(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- line:
		default:
			// drop oldest, then retry once
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- line:
			default:
			}
		}
	}
}
