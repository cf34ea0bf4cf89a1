package exclusive

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	steps := []struct {
		name  string
		do    func() (bool, error)
		want  bool
		after time.Duration
	}{
		{"first owner acquires", func() (bool, error) { return l.Acquire(ctx, "inst", "a", time.Minute) }, true, 0},
		{"second owner is refused", func() (bool, error) { return l.Acquire(ctx, "inst", "b", time.Minute) }, false, 0},
		{"holder re-acquires", func() (bool, error) { return l.Acquire(ctx, "inst", "a", time.Minute) }, true, 0},
		{"other key is free", func() (bool, error) { return l.Acquire(ctx, "other", "b", time.Minute) }, true, 0},
		{"second owner after expiry", func() (bool, error) { return l.Acquire(ctx, "inst", "b", time.Minute) }, true, 2 * time.Minute},
		{"first owner now refused", func() (bool, error) { return l.Acquire(ctx, "inst", "a", time.Minute) }, false, 0},
	}

	for _, s := range steps {
		now = now.Add(s.after)
		got, err := s.do()
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got != s.want {
			t.Fatalf("%s: got %v, want %v", s.name, got, s.want)
		}
	}
}

func TestMemoryLocker_ReleaseChecksOwner(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	if ok, _ := l.Acquire(ctx, "inst", "a", time.Minute); !ok {
		t.Fatal("expected acquire to succeed")
	}
	if err := l.Release(ctx, "inst", "b"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := l.Acquire(ctx, "inst", "b", time.Minute); ok {
		t.Fatal("release by a non-holder must not free the token")
	}
	if err := l.Release(ctx, "inst", "a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := l.Acquire(ctx, "inst", "b", time.Minute); !ok {
		t.Fatal("expected acquire after release to succeed")
	}
}
