package history

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRingThrottlesAppends(t *testing.T) {
	r := New(10, 5*time.Second)
	if !r.Append(Sample{Time: t0, RateA: 1}) {
		t.Fatalf("first sample should be stored")
	}
	if r.Append(Sample{Time: t0.Add(2 * time.Second), RateA: 2}) {
		t.Fatalf("sample inside the interval should be dropped")
	}
	if !r.Append(Sample{Time: t0.Add(5 * time.Second), RateA: 3}) {
		t.Fatalf("sample at the interval should be stored")
	}
	got := r.Samples()
	if len(got) != 2 || got[0].RateA != 1 || got[1].RateA != 3 {
		t.Fatalf("unexpected samples %+v", got)
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	r := New(3, 0)
	for i := 0; i < 5; i++ {
		r.Append(Sample{Time: t0.Add(time.Duration(i) * time.Second), RateA: float64(i)})
	}
	got := r.Samples()
	if len(got) != 3 || r.Len() != 3 || r.Cap() != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, want := range []float64{2, 3, 4} {
		if got[i].RateA != want {
			t.Fatalf("index %d: expected %v, got %v", i, want, got[i].RateA)
		}
	}
	latest, ok := r.Latest()
	if !ok || latest.RateA != 4 {
		t.Fatalf("unexpected latest %+v", latest)
	}
}

func TestRingSamplesIsCopy(t *testing.T) {
	r := New(2, 0)
	r.Append(Sample{Time: t0, RateB: 1})
	got := r.Samples()
	got[0].RateB = 99
	if r.Samples()[0].RateB != 1 {
		t.Fatalf("samples must be a copy")
	}
}

func TestRingReset(t *testing.T) {
	r := New(2, time.Hour)
	r.Append(Sample{Time: t0})
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("expected empty ring")
	}
	if _, ok := r.Latest(); ok {
		t.Fatalf("expected no latest sample")
	}
	if !r.Append(Sample{Time: t0.Add(time.Second)}) {
		t.Fatalf("reset should clear the throttle")
	}
}

func TestRingZeroCapacity(t *testing.T) {
	r := New(0, 0)
	r.Append(Sample{Time: t0, RateA: 1})
	r.Append(Sample{Time: t0.Add(time.Second), RateA: 2})
	got := r.Samples()
	if len(got) != 1 || got[0].RateA != 2 {
		t.Fatalf("expected single latest sample, got %+v", got)
	}
}
