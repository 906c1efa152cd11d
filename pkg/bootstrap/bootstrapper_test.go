package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeReadiness fails ApplyChanges until succeedOn attempts have been made
// (0 means never succeed).
type fakeReadiness struct {
	mu        sync.Mutex
	pending   bool
	succeedOn int
	checkErr  error
	applies   []time.Time
	block     chan struct{}
}

func (f *fakeReadiness) PendingChangesExist(ctx context.Context) (bool, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		f.applies = append(f.applies, time.Now())
		return false, f.checkErr
	}
	return f.pending, nil
}

func (f *fakeReadiness) ApplyChanges(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies = append(f.applies, time.Now())
	if f.succeedOn > 0 && len(f.applies) >= f.succeedOn {
		f.pending = false
		return nil
	}
	return errors.New("database is starting up")
}

func (f *fakeReadiness) attempts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.applies...)
}

func TestStart_AlwaysFailingStopsAfterMaxRetries(t *testing.T) {
	target := &fakeReadiness{pending: true}
	delay := 20 * time.Millisecond
	core, logs := observer.New(zap.WarnLevel)
	b := New(target, Config{MaxRetries: 4, RetryDelay: delay}, zap.New(core))

	start := time.Now()
	if b.Start(context.Background()) {
		t.Fatal("expected Start to report failure")
	}

	attempts := target.attempts()
	if len(attempts) != 4 {
		t.Fatalf("expected exactly 4 attempts, got %d", len(attempts))
	}
	for i := 1; i < len(attempts); i++ {
		if gap := attempts[i].Sub(attempts[i-1]); gap < delay {
			t.Errorf("attempts %d and %d only %v apart, want >= %v", i, i+1, gap, delay)
		}
	}
	if elapsed := time.Since(start); elapsed < 3*delay {
		t.Errorf("expected at least %v total wait, got %v", 3*delay, elapsed)
	}

	if n := logs.FilterMessage("bootstrap attempt failed, retrying").Len(); n != 3 {
		t.Errorf("expected 3 retry warnings, got %d", n)
	}
	if n := logs.FilterMessage("bootstrap failed after all attempts").Len(); n != 1 {
		t.Errorf("expected 1 terminal failure log, got %d", n)
	}
}

func TestStart_StopsAtFirstSuccess(t *testing.T) {
	target := &fakeReadiness{pending: true, succeedOn: 2}
	b := New(target, Config{MaxRetries: 5, RetryDelay: time.Millisecond}, zap.NewNop())

	if !b.Start(context.Background()) {
		t.Fatal("expected Start to succeed")
	}
	if n := len(target.attempts()); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestStart_NothingPending(t *testing.T) {
	target := &fakeReadiness{pending: false}
	b := New(target, Config{MaxRetries: 3, RetryDelay: time.Hour}, zap.NewNop())

	if !b.Start(context.Background()) {
		t.Fatal("expected immediate success")
	}
	if n := len(target.attempts()); n != 0 {
		t.Errorf("expected no apply calls, got %d", n)
	}
}

func TestStart_CheckFailureIsRetried(t *testing.T) {
	target := &fakeReadiness{checkErr: errors.New("connection refused")}
	b := New(target, Config{MaxRetries: 2, RetryDelay: time.Millisecond}, zap.NewNop())

	if b.Start(context.Background()) {
		t.Fatal("expected failure")
	}
	if n := len(target.attempts()); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestStart_CancelledDuringDelay(t *testing.T) {
	target := &fakeReadiness{pending: true}
	b := New(target, Config{MaxRetries: 10, RetryDelay: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- b.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected false after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not honour cancellation")
	}
	if n := len(target.attempts()); n != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", n)
	}
}

func TestStart_ConcurrentCallRefused(t *testing.T) {
	target := &fakeReadiness{pending: false, block: make(chan struct{})}
	b := New(target, Config{MaxRetries: 1}, zap.NewNop())

	first := make(chan bool, 1)
	go func() { first <- b.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !b.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first Start never began")
		}
		time.Sleep(time.Millisecond)
	}

	if b.Start(context.Background()) {
		t.Error("expected concurrent Start to be refused")
	}

	close(target.block)
	if !<-first {
		t.Error("expected first Start to succeed")
	}
}

func TestNew_DefaultsToSingleAttempt(t *testing.T) {
	target := &fakeReadiness{pending: true}
	b := New(target, Config{}, zap.NewNop())

	if b.Start(context.Background()) {
		t.Fatal("expected failure")
	}
	if n := len(target.attempts()); n != 1 {
		t.Errorf("expected 1 attempt, got %d", n)
	}
}
