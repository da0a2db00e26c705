// Copyright 2024-2026 Aiku AI

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]()
	for i := 0; i < 200; i++ {
		q.Push(i)
	}
	if q.Len() != 200 {
		t.Fatalf("Len: got %d, want 200", q.Len())
	}
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if got != i {
			t.Fatalf("Pop #%d: got %d", i, got)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain: got %d, want 0", q.Len())
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()
	q := NewQueue[string]()
	done := make(chan string)
	go func() {
		v, _ := q.Pop(context.Background())
		done <- v
	}()
	select {
	case v := <-done:
		t.Fatalf("Pop returned %q before Push", v)
	case <-time.After(20 * time.Millisecond):
	}
	q.Push("hello")
	select {
	case v := <-done:
		if v != "hello" {
			t.Errorf("Pop: got %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueuePopCancelled(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Pop: got %v, want context.Canceled", err)
	}
}

func TestQueueInterleavedCompaction(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]()
	ctx := context.Background()
	next := 0
	want := 0
	for round := 0; round < 50; round++ {
		for i := 0; i < 10; i++ {
			q.Push(next)
			next++
		}
		for i := 0; i < 7; i++ {
			got, _ := q.Pop(ctx)
			if got != want {
				t.Fatalf("round %d: got %d, want %d", round, got, want)
			}
			want++
		}
	}
	if q.Len() != next-want {
		t.Errorf("Len: got %d, want %d", q.Len(), next-want)
	}
}

func TestQueueMultipleProducers(t *testing.T) {
	t.Parallel()
	q := NewQueue[[2]int]()
	const producers, perProducer = 4, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push([2]int{p, i})
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for n := 0; n < producers*perProducer; n++ {
		item, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop #%d: %v", n, err)
		}
		if item[1] <= last[item[0]] {
			t.Fatalf("producer %d: got %d after %d", item[0], item[1], last[item[0]])
		}
		last[item[0]] = item[1]
	}
	wg.Wait()
}
