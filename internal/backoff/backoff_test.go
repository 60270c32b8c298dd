package backoff

import (
	"testing"
	"time"
)

func TestFixedNext(t *testing.T) {
	f := NewFixed()
	if f.Next(1) != 5*time.Second {
		t.Errorf("expected 5s, got %v", f.Next(1))
	}
	if f.Next(10) != 5*time.Second {
		t.Errorf("fixed backoff must not vary by attempt, got %v", f.Next(10))
	}
}

func TestExponentialNext(t *testing.T) {
	e := NewExponential()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{7, 30 * time.Second},
	}

	for _, c := range cases {
		if got := e.Next(c.attempt); got != c.want {
			t.Errorf("Next(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestExponentialNextClampsLowAttempt(t *testing.T) {
	e := NewExponential()
	if e.Next(0) != e.Initial {
		t.Errorf("Next(0) should behave like Next(1), got %v", e.Next(0))
	}
}
