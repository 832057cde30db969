package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("id %d not increasing: %s <= %s", i, next, prev)
		}
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	id := At(ts)
	if len(id) != 26 {
		t.Fatalf("len(id) = %d, want 26", len(id))
	}
	got, err := Time(id)
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("Time: got %v, want %v", got, ts)
	}
}

func TestTimeInvalid(t *testing.T) {
	if _, err := Time("not-a-ulid"); err == nil {
		t.Error("expected error for invalid id")
	}
}
