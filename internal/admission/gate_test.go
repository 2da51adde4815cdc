package admission

import (
	"context"
	"testing"
	"time"
)

func TestAcquireUpToLimit(t *testing.T) {
	g := NewGate(2, 20*time.Millisecond)
	ctx := context.Background()

	if !g.Acquire(ctx) {
		t.Fatal("first acquire failed")
	}
	if !g.Acquire(ctx) {
		t.Fatal("second acquire failed")
	}
	if g.Acquire(ctx) {
		t.Fatal("third acquire should time out with the pool exhausted")
	}

	g.Release()
	if !g.Acquire(ctx) {
		t.Fatal("acquire after release failed")
	}
	g.Release()
	g.Release()
}

func TestDrainWaitsForInFlight(t *testing.T) {
	g := NewGate(1, 50*time.Millisecond)
	if !g.Acquire(context.Background()) {
		t.Fatal("acquire failed")
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Release()
		close(released)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !g.Drain(ctx) {
		t.Fatal("drain did not complete after release")
	}
	<-released
}

func TestDrainSafeUnderConcurrentAcquires(t *testing.T) {
	g := NewGate(4, 10*time.Millisecond)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if g.Acquire(context.Background()) {
				g.Release()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !g.Drain(ctx) {
		t.Fatal("drain failed with only transient holders")
	}
	close(stop)
	<-done
}

func TestDrainHonorsDeadline(t *testing.T) {
	g := NewGate(1, 50*time.Millisecond)
	if !g.Acquire(context.Background()) {
		t.Fatal("acquire failed")
	}
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if g.Drain(ctx) {
		t.Fatal("drain reported success with a write still in flight")
	}
}
