package wifi

import (
	"context"
	"sync"
	"time"
)

// TestResult is the outcome of a credential test so far.
type TestResult int

const (
	// TestRunning means the join attempt is still in flight.
	TestRunning TestResult = iota

	// TestSucceeded means the join completed with the candidate credentials.
	TestSucceeded

	// TestFailed means the join failed or hit its deadline.
	TestFailed
)

// ConnectivityTester runs one credential test in the background.
//
// The caller polls Result and Elapsed; nothing blocks. The tester owns a
// deadline-bound join attempt and nothing else - persisting credentials
// on success is the caller's job.
type ConnectivityTester struct {
	mgr     *Manager
	start   time.Time
	timeout time.Duration
	cancel  context.CancelFunc

	mu     sync.Mutex
	result TestResult
}

// StartTest begins a join attempt with the candidate credentials,
// bounded by timeout.
func (m *Manager) StartTest(ssid, password string, timeout time.Duration) *ConnectivityTester {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t := &ConnectivityTester{
		mgr:     m,
		start:   time.Now(),
		timeout: timeout,
		cancel:  cancel,
	}

	go func() {
		defer cancel()
		err := m.Connect(ctx, ssid, password)

		t.mu.Lock()
		if err != nil {
			t.result = TestFailed
		} else {
			t.result = TestSucceeded
		}
		t.mu.Unlock()
	}()

	return t
}

// Result returns the test outcome so far.
func (t *ConnectivityTester) Result() TestResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Elapsed returns time since the test started.
func (t *ConnectivityTester) Elapsed() time.Duration {
	return time.Since(t.start)
}

// TimedOut reports whether the deadline has passed without success.
func (t *ConnectivityTester) TimedOut() bool {
	return t.Result() != TestSucceeded && t.Elapsed() >= t.timeout
}

// Progress maps elapsed time onto 0-99. It never reports 100; completion
// is signalled by Result, not by the clock.
func (t *ConnectivityTester) Progress() int {
	if t.timeout <= 0 {
		return 99
	}
	p := int(t.Elapsed() * 100 / t.timeout)
	if p > 99 {
		p = 99
	}
	return p
}

// Stop aborts the attempt and leaves whatever network the test joined.
func (t *ConnectivityTester) Stop(ctx context.Context) {
	t.cancel()
	t.mgr.Disconnect(ctx) //nolint:errcheck // Best effort teardown
}
