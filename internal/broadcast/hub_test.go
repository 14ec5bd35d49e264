// SPDX-License-Identifier: MIT
package broadcast

import (
	"sync"
	"testing"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub[int](8)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelA()
	defer cancelB()

	h.Publish(1)
	h.Publish(2)

	for _, ch := range []<-chan int{a, b} {
		if got := <-ch; got != 1 {
			t.Errorf("first value = %d, want 1", got)
		}
		if got := <-ch; got != 2 {
			t.Errorf("second value = %d, want 2", got)
		}
	}
}

func TestHubDropsOldestOnOverflow(t *testing.T) {
	h := NewHub[int](4)
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 1; i <= 10; i++ {
		h.Publish(i)
	}

	// The slow consumer sees the newest window, not the oldest.
	want := []int{7, 8, 9, 10}
	for _, w := range want {
		if got := <-ch; got != w {
			t.Fatalf("got %d, want %d", got, w)
		}
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	h := NewHub[int](1)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			h.Publish(i)
		}
		close(done)
	}()
	<-done
}

func TestHubCancelIdempotent(t *testing.T) {
	h := NewHub[int](4)
	_, cancel := h.Subscribe()

	cancel()
	cancel()

	if h.Len() != 0 {
		t.Errorf("subscriber count = %d after cancel, want 0", h.Len())
	}
	h.Publish(1)
}

func TestHubClose(t *testing.T) {
	h := NewHub[int](4)
	ch, _ := h.Subscribe()

	h.Publish(1)
	h.Close()

	if got, ok := <-ch; !ok || got != 1 {
		t.Errorf("buffered value lost on close: %d %v", got, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}

	// Publishing and subscribing after close must not panic.
	h.Publish(2)
	late, cancel := h.Subscribe()
	defer cancel()
	if _, ok := <-late; ok {
		t.Error("post-close subscription should be closed immediately")
	}
}

func TestHubConcurrentPublishers(t *testing.T) {
	h := NewHub[int](16)
	ch, cancel := h.Subscribe()

	var wg sync.WaitGroup
	const publishers, each = 4, 1000
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				h.Publish(i)
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		for range ch {
			received++
		}
		close(done)
	}()

	wg.Wait()
	cancel()
	<-done

	if received == 0 {
		t.Error("consumer received nothing")
	}
	if received > publishers*each {
		t.Errorf("received %d values, more than published", received)
	}
}
