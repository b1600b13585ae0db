package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherRunsJobs(t *testing.T) {
	d := NewDispatcher(2, 8)
	defer d.Close()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.Do(context.Background(), func(context.Context) error {
				ran.Add(1)
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := ran.Load(); got != 20 {
		t.Fatalf("ran %d jobs; want 20", got)
	}
}

func TestDispatcherPropagatesError(t *testing.T) {
	d := NewDispatcher(1, 1)
	defer d.Close()

	sentinel := errors.New("boom")
	err := d.Do(context.Background(), func(context.Context) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do = %v; want sentinel", err)
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	const workers = 3
	d := NewDispatcher(workers, 32)
	defer d.Close()

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Do(context.Background(), func(context.Context) error {
				n := cur.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				cur.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if p := peak.Load(); p > workers {
		t.Fatalf("peak concurrency %d exceeds worker count %d", p, workers)
	}
}

func TestDispatcherClosedRejects(t *testing.T) {
	d := NewDispatcher(1, 1)
	d.Close()

	err := d.Do(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Do after Close = %v; want ErrDispatcherClosed", err)
	}
}

func TestDispatcherHonorsContext(t *testing.T) {
	d := NewDispatcher(1, 1)
	defer d.Close()

	// Occupy the single worker.
	block := make(chan struct{})
	go d.Do(context.Background(), func(context.Context) error {
		<-block
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Do(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do with canceled context = %v; want context.Canceled", err)
	}
	close(block)
}
