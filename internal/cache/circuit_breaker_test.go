package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures, halfOpen int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:      maxFailures,
		Timeout:          time.Second,
		HalfOpenMaxCalls: halfOpen,
	})
	cb.now = clock.Now
	return cb, clock
}

func fail() error { return fmt.Errorf("operation failed") }
func ok() error   { return nil }

func TestCircuitBreakerBasicFlow(t *testing.T) {
	cb, _ := newTestBreaker(3, 2)

	if cb.State() != CircuitBreakerClosed {
		t.Errorf("Expected initial state to be Closed, got %v", cb.State())
	}

	if err := cb.Execute(ok); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cb.State() != CircuitBreakerClosed {
		t.Errorf("Expected state to remain Closed after success, got %v", cb.State())
	}
}

func TestCircuitBreakerFailureTransition(t *testing.T) {
	cb, _ := newTestBreaker(2, 2)

	if err := cb.Execute(fail); err == nil {
		t.Error("Expected error, got nil")
	}
	if cb.State() != CircuitBreakerClosed {
		t.Errorf("Expected state to be Closed after first failure, got %v", cb.State())
	}

	_ = cb.Execute(fail)
	if cb.State() != CircuitBreakerOpen {
		t.Errorf("Expected state to be Open after reaching failure threshold, got %v", cb.State())
	}
}

func TestCircuitBreakerOpenState(t *testing.T) {
	cb, _ := newTestBreaker(1, 2)
	_ = cb.Execute(fail)

	err := cb.Execute(func() error {
		t.Error("Operation should not be executed when circuit is open")
		return nil
	})
	if err != ErrCircuitBreakerOpen {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb, clock := newTestBreaker(1, 2)
	_ = cb.Execute(fail)
	clock.Advance(2 * time.Second)

	executed := false
	if err := cb.Execute(func() error { executed = true; return nil }); err != nil {
		t.Fatalf("Expected probe to pass, got %v", err)
	}
	if !executed {
		t.Error("Expected operation to be executed in half-open state")
	}
	if cb.State() != CircuitBreakerHalfOpen {
		t.Errorf("Expected HalfOpen after first probe, got %v", cb.State())
	}

	_ = cb.Execute(ok)
	if cb.State() != CircuitBreakerClosed {
		t.Errorf("Expected Closed after enough probes, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, 2)
	_ = cb.Execute(fail)
	clock.Advance(2 * time.Second)

	_ = cb.Execute(fail)
	if cb.State() != CircuitBreakerOpen {
		t.Errorf("Expected Open after failed probe, got %v", cb.State())
	}
	if err := cb.Execute(ok); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected ErrCircuitBreakerOpen right after reopening, got %v", err)
	}
}

func TestCircuitBreakerStats(t *testing.T) {
	cb, _ := newTestBreaker(1, 1)
	_ = cb.Execute(fail)

	stats := cb.Stats()
	if stats["state"] != "open" {
		t.Errorf("Expected state open, got %v", stats["state"])
	}
	if stats["failure_count"] != 1 {
		t.Errorf("Expected failure_count 1, got %v", stats["failure_count"])
	}
}

func TestCircuitBreakerConcurrency(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:      5,
		Timeout:          100 * time.Millisecond,
		HalfOpenMaxCalls: 3,
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = cb.Execute(func() error {
					if (id+j)%3 == 0 {
						return fmt.Errorf("failure %d-%d", id, j)
					}
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	if err := cb.Execute(ok); err != nil && err != ErrCircuitBreakerOpen {
		t.Errorf("Unexpected error after concurrent operations: %v", err)
	}
}
