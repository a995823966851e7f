package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/pubtree/tree"
)

func TestWriterFlushIsImmediate(t *testing.T) {
	s := New(testPath(t))
	src := testTree()
	w := NewWriter(s, func() *tree.Tree { return src }, WriterOptions{})

	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if !s.Exists() {
		t.Fatal("flush did not write")
	}
	if got := w.Stats().Writes; got != 1 {
		t.Fatalf("writes: got %d, want 1", got)
	}
}

func TestWriterCoalescesBursts(t *testing.T) {
	s := New(testPath(t))
	src := testTree()
	w := NewWriter(s, func() *tree.Tree { return src }, WriterOptions{
		Debounce: 30 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		w.Touch()
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.Stats().Writes == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no write after debounce window")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Give a second burst a chance to misfire extra writes.
	time.Sleep(100 * time.Millisecond)

	st := w.Stats()
	if st.Writes != 1 {
		t.Fatalf("writes: got %d, want 1 (coalesced burst)", st.Writes)
	}
	if st.Touches != 10 {
		t.Fatalf("touches: got %d, want 10", st.Touches)
	}
	if !s.Exists() {
		t.Fatal("snapshot missing")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not stop on cancellation")
	}
}

func TestWriterFlushesPendingOnShutdown(t *testing.T) {
	s := New(testPath(t))
	src := testTree()
	w := NewWriter(s, func() *tree.Tree { return src }, WriterOptions{
		Debounce: time.Hour, // never elapses in the test
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Touch()
	// Wait for the worker to enter the debounce window, then shut down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not stop")
	}
	if !s.Exists() {
		t.Fatal("pending change lost on shutdown")
	}
}
