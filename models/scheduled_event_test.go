package models

import (
	"testing"
	"time"
)

func TestScheduledEventRemaining(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := ScheduledEvent{DelaySeconds: 15, CreatedAt: created}

	if got := e.Remaining(created.Add(4*time.Second), time.Second); got != 11*time.Second {
		t.Fatalf("Remaining = %v, want 11s", got)
	}
	if got := e.Remaining(created.Add(time.Hour), time.Second); got != time.Second {
		t.Fatalf("overdue Remaining = %v, want 1s", got)
	}
	if got := e.Remaining(created.Add(14500*time.Millisecond), time.Second); got != time.Second {
		t.Fatalf("Remaining under floor = %v, want 1s", got)
	}
}
