package regexutil_test

import (
	"sync"
	"testing"

	"hammerhead/internal/regexutil"
)

func TestCache_Hit(t *testing.T) {
	c := regexutil.New(0)
	re1, err := c.Get(`^https?://.*`)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	re2, _ := c.Get(`^https?://.*`)
	if re1 != re2 {
		t.Error("same pattern returned different objects")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_InvalidPattern(t *testing.T) {
	c := regexutil.New(0)
	if _, err := c.Get(`[`); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if _, err := c.Get(`[`); err == nil {
		t.Fatal("cached invalid pattern lost its error")
	}
	if c.MatchString(`[`, "[") {
		t.Error("invalid pattern must not match")
	}
}

func TestCache_MatchString(t *testing.T) {
	c := regexutil.New(0)
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{`/api/`, "https://a.com/api/x", true},
		{`\.js$`, "https://a.com/app.js", true},
		{`\.js$`, "https://a.com/app.css", false},
	}
	for _, tt := range tests {
		if got := c.MatchString(tt.pattern, tt.s); got != tt.want {
			t.Errorf("MatchString(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}

func TestCache_Bounded(t *testing.T) {
	c := regexutil.New(2)
	for _, p := range []string{`a`, `b`, `c`} {
		_, _ = c.Get(p)
	}
	if c.Len() > 2 {
		t.Errorf("Len() = %d, want <= 2", c.Len())
	}
	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len() after Reset = %d", c.Len())
	}
}

func TestCache_Concurrency(t *testing.T) {
	c := regexutil.New(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.MatchString(`[a-z]+`, "abc") {
				t.Error("concurrent match failed")
			}
		}()
	}
	wg.Wait()
}
