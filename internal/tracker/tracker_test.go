package tracker_test

import (
	"testing"
	"time"

	"hammerhead/internal/logger"
	"hammerhead/internal/tracker"
)

type pending struct {
	URL string
}

func TestSetAndGet(t *testing.T) {
	tr := tracker.New[*pending](5*time.Second, logger.NewNop())
	defer tr.Stop()

	tr.Set("id1", &pending{URL: "https://example.com/"})

	if got, ok := tr.Peek("id1"); !ok || got.URL != "https://example.com/" {
		t.Fatalf("Peek() = %+v, %v", got, ok)
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}

	got, ok := tr.Get("id1")
	if !ok || got.URL != "https://example.com/" {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}

	// 第二次 Get 应该失败（已被移除）
	if _, ok := tr.Get("id1"); ok {
		t.Error("second Get() should return false")
	}
}

func TestDelete(t *testing.T) {
	tr := tracker.New[string](time.Second, nil)
	defer tr.Stop()

	tr.Set("a", "x")
	tr.Delete("a")
	if _, ok := tr.Peek("a"); ok {
		t.Error("entry should be deleted")
	}
}

func TestSweep(t *testing.T) {
	tr := tracker.New[int](time.Minute, logger.NewNop())
	defer tr.Stop()

	evicted := map[string]int{}
	tr.OnEvict(func(id string, v int) { evicted[id] = v })

	tr.Set("old", 1)
	tr.Set("new", 2)

	if n := tr.Sweep(time.Now()); n != 0 {
		t.Errorf("Sweep(now) = %d, want 0", n)
	}
	if n := tr.Sweep(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Errorf("Sweep(+2m) = %d, want 2", n)
	}
	if evicted["old"] != 1 || evicted["new"] != 2 {
		t.Errorf("evicted = %v", evicted)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestBackgroundCleanup(t *testing.T) {
	tr := tracker.New[string](20*time.Millisecond, logger.NewNop())
	defer tr.Stop()

	tr.Set("id", "v")
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tr.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expired entry was not cleaned up")
}

func TestStopTwice(t *testing.T) {
	tr := tracker.New[string](time.Second, logger.NewNop())
	tr.Stop()
	tr.Stop()
}
