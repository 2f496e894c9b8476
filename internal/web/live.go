package web

import (
	"sync"

	"devicebridge"
)

const subscriberBuffer = 64

// LiveFeed is the non-blocking tap between the dispatcher and websocket
// clients. Publishing never waits: a subscriber whose buffer is full simply
// misses readings, so a slow browser cannot backpressure the run.
type LiveFeed struct {
	mu   sync.Mutex
	subs map[chan devicebridge.Reading]struct{}
}

func NewLiveFeed() *LiveFeed {
	return &LiveFeed{subs: make(map[chan devicebridge.Reading]struct{})}
}

// Publish forwards a reading to every subscriber that has room.
func (f *LiveFeed) Publish(r devicebridge.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// Subscribe registers a new client channel.
func (f *LiveFeed) Subscribe() chan devicebridge.Reading {
	ch := make(chan devicebridge.Reading, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel; the channel is not closed so a
// concurrent Publish cannot panic.
func (f *LiveFeed) Unsubscribe(ch chan devicebridge.Reading) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}
