package watch

import (
	"context"
	"slices"
	"sync"
	"syscall"
	"testing"
	"time"
)

// blockingRunner records when Run returns.
type blockingRunner struct {
	mu      *sync.Mutex
	order   *[]string
	started chan struct{}
}

func (r blockingRunner) Run(ctx context.Context) error {
	close(r.started)
	<-ctx.Done()
	r.mu.Lock()
	*r.order = append(*r.order, "loop returned")
	r.mu.Unlock()
	return nil
}

func TestRunUntilSignalCleansUpAfterLoop(t *testing.T) {
	var mu sync.Mutex
	var order []string
	r := blockingRunner{mu: &mu, order: &order, started: make(chan struct{})}

	cleanups := 0
	cleanup := func() {
		cleanups++
		mu.Lock()
		order = append(order, "cleanup")
		mu.Unlock()
	}

	type result struct {
		sig string
		err error
	}
	done := make(chan result, 1)
	go func() {
		sig, err := RunUntilSignal(context.Background(), r, cleanup, testLogger(), syscall.SIGUSR1)
		res := result{err: err}
		if sig != nil {
			res.sig = sig.String()
		}
		done <- res
	}()

	<-r.started
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Errorf("err = %v", res.err)
		}
		if res.sig != syscall.SIGUSR1.String() {
			t.Errorf("signal = %q, want SIGUSR1", res.sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunUntilSignal did not return after the signal")
	}

	if cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleanups)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(order, []string{"loop returned", "cleanup"}) {
		t.Errorf("order = %v, want loop to return before cleanup", order)
	}
}

func TestRunUntilSignalContextCancel(t *testing.T) {
	var mu sync.Mutex
	var order []string
	r := blockingRunner{mu: &mu, order: &order, started: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.started
		cancel()
	}()

	cleaned := false
	sig, err := RunUntilSignal(ctx, r, func() { cleaned = true }, testLogger(), syscall.SIGUSR2)
	if sig != nil || err != nil {
		t.Errorf("RunUntilSignal() = %v, %v; want nil, nil", sig, err)
	}
	if !cleaned {
		t.Error("cleanup must run on context cancellation too")
	}
}

func TestRunUntilSignalStopsPipelineStartedByLoop(t *testing.T) {
	probes := &scriptedProbes{cycles: []cycle{ready}}
	streamer := &fakeStreamer{t: t}
	loop := NewLoop(Options{
		Device:   probes,
		Consumer: probes,
		Streamer: streamer,
		Stream:   testStream,
		Interval: 5 * time.Millisecond,
		Logger:   testLogger(),
	})

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if streamer.isRunning() {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
	}()

	if _, err := RunUntilSignal(context.Background(), loop, streamer.Stop, testLogger(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	if calls := streamer.takeCalls(); !slices.Equal(calls, []string{"start", "stop"}) {
		t.Errorf("calls = %v, want [start stop]", calls)
	}
}
