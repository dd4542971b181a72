package recovery

import (
	"bytes"
	"strings"
	"testing"

	"github.com/HaoQinLandv/Redola/internal/logging"
)

func TestLogPanicRecovers(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter("error", "text", &buf)

	func() {
		defer LogPanic(logger, "test.goroutine")
		panic("boom")
	}()

	out := buf.String()
	if !strings.Contains(out, "panic recovered") || !strings.Contains(out, "boom") {
		t.Errorf("panic not logged: %q", out)
	}
	if !strings.Contains(out, "test.goroutine") {
		t.Errorf("goroutine name missing: %q", out)
	}
}

func TestLogPanicNoPanicIsSilent(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter("error", "text", &buf)

	func() {
		defer LogPanic(logger, "test.goroutine")
	}()

	if buf.Len() != 0 {
		t.Errorf("nothing should be logged without a panic, got %q", buf.String())
	}
}

func TestCloseOnPanicInvokesClose(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter("error", "text", &buf)

	closed := false
	func() {
		defer CloseOnPanic(logger, "test.goroutine", func() { closed = true })
		panic("boom")
	}()

	if !closed {
		t.Error("close callback not invoked on panic")
	}
	if !strings.Contains(buf.String(), "closing") {
		t.Errorf("panic not logged: %q", buf.String())
	}
}

func TestCloseOnPanicNotInvokedWithoutPanic(t *testing.T) {
	closed := false
	func() {
		defer CloseOnPanic(logging.NopLogger(), "test.goroutine", func() { closed = true })
	}()
	if closed {
		t.Error("close callback must not run without a panic")
	}
}
