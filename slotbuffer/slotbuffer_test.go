package slotbuffer

import (
	"testing"

	"pgregory.net/rapid"
)

func TestGrowable_PutTakeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := NewGrowable[int]()
		values := rapid.SliceOf(rapid.Int()).Draw(t, "values")
		tokens := make([]Token, len(values))
		for i, v := range values {
			tokens[i] = g.Put(v)
		}
		for i, v := range values {
			got := g.Take(tokens[i])
			if got != v {
				t.Fatalf("take(put(%d)) = %d, want %d", v, got, v)
			}
		}
	})
}

func TestGrowable_GrowsBeyondInitialCapacity(t *testing.T) {
	g := NewGrowable[string]()
	tokens := make([]Token, 0, initialCapacity*3)
	for i := 0; i < initialCapacity*3; i++ {
		tokens = append(tokens, g.Put("v"))
	}
	seen := make(map[Token]bool)
	for _, tok := range tokens {
		if seen[tok] {
			t.Fatalf("token %d reused while outstanding", tok)
		}
		seen[tok] = true
	}
}

func TestFixed_PutBlocksUntilFree(t *testing.T) {
	f := NewFixed[int](1)
	tok := f.Put(42)

	done := make(chan Token, 1)
	go func() {
		done <- f.Put(99)
	}()

	select {
	case <-done:
		t.Fatal("Put should have blocked with no free slots")
	default:
	}

	if got := f.Take(tok); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}

	second := <-done
	if got := f.Take(second); got != 99 {
		t.Fatalf("got %d, want 99", got)
	}
}
