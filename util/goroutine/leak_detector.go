package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks records the current goroutine count and, when the test
// finishes, fails it if the count has not dropped back within five seconds.
// Call it first in tests that start goroutines.
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	baseline := runtime.NumGoroutine()

	t.Cleanup(func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if runtime.NumGoroutine() <= baseline {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
		current := runtime.NumGoroutine()
		if current <= baseline {
			return
		}
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Errorf("goroutine leak: started with %d goroutines, ended with %d", baseline, current)
		t.Logf("active goroutines:\n%s", buf[:n])
	})
}
