package alerts

import "testing"

func TestFeedWatchQuietUntilFirstConnect(t *testing.T) {
	w := NewFeedWatch()
	if _, ok := w.Observe("spot", false); ok {
		t.Fatalf("first observation must not notify")
	}
	if _, ok := w.Observe("spot", true); ok {
		t.Fatalf("initial connect must not notify")
	}
	change, ok := w.Observe("spot", false)
	if !ok || change.Connected || change.Feed != "spot" {
		t.Fatalf("expected drop notice, got %+v %v", change, ok)
	}
	if change.String() != "feed spot disconnected" {
		t.Fatalf("unexpected text %q", change.String())
	}
	if _, ok := w.Observe("spot", false); ok {
		t.Fatalf("repeated state must not notify")
	}
	change, ok = w.Observe("spot", true)
	if !ok || !change.Connected {
		t.Fatalf("expected recovery notice, got %+v %v", change, ok)
	}
}

func TestFeedWatchTracksFeedsIndependently(t *testing.T) {
	w := NewFeedWatch()
	w.Observe("spot", true)
	w.Observe("mark", true)
	if _, ok := w.Observe("mark", true); ok {
		t.Fatalf("unchanged feed must not notify")
	}
	if change, ok := w.Observe("spot", false); !ok || change.Feed != "spot" {
		t.Fatalf("expected spot drop, got %+v", change)
	}
}

func TestFeedWatchReset(t *testing.T) {
	w := NewFeedWatch()
	w.Observe("spot", true)
	w.Reset()
	if _, ok := w.Observe("spot", false); ok {
		t.Fatalf("reset feed must be quiet")
	}
}
