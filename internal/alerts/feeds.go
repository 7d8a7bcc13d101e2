package alerts

import (
	"fmt"
	"sync"
)

type FeedChange struct {
	Feed      string
	Connected bool
}

func (c FeedChange) String() string {
	if c.Connected {
		return fmt.Sprintf("feed %s recovered", c.Feed)
	}
	return fmt.Sprintf("feed %s disconnected", c.Feed)
}

// FeedWatch turns connectivity observations into drop and recovery notices.
// A feed that never connected produces nothing, so startup and mode switches
// stay quiet.
type FeedWatch struct {
	mu    sync.Mutex
	feeds map[string]feedStatus
}

type feedStatus struct {
	connected bool
	everUp    bool
}

func NewFeedWatch() *FeedWatch {
	return &FeedWatch{feeds: make(map[string]feedStatus)}
}

func (w *FeedWatch) Observe(feed string, connected bool) (FeedChange, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, known := w.feeds[feed]
	next := feedStatus{connected: connected, everUp: prev.everUp || connected}
	w.feeds[feed] = next
	if !known || prev.connected == connected {
		return FeedChange{}, false
	}
	if connected && !prev.everUp {
		return FeedChange{}, false
	}
	return FeedChange{Feed: feed, Connected: connected}, true
}

// Reset forgets every feed, used when the feed set is rebuilt on a mode switch.
func (w *FeedWatch) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.feeds = make(map[string]feedStatus)
}
