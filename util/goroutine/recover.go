package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// stackBufferSize bounds the stack captured for a recovered panic.
const stackBufferSize = 4096

// PanicError is returned by SafeCall when fn panics.
type PanicError struct {
	Name  string
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

func captureStack() string {
	buf := make([]byte, stackBufferSize)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Recover is deferred at the top of long-running goroutines. It logs a panic
// with its stack instead of crashing the process. With a nil logger the
// report goes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}
	stack := captureStack()
	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, stack)
		return
	}
	logger.Errorw("Goroutine panic recovered",
		"goroutine", name,
		"panic", r,
		"stack", stack)
}

// SafeCall runs fn and converts a panic into a *PanicError.
func SafeCall(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Name: name, Value: r, Stack: captureStack()}
		}
	}()
	return fn()
}
