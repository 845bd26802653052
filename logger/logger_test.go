package logger

import "testing"

func TestHelpersSafeBeforeInitialize(t *testing.T) {
	// The package-load logger is a no-op; helpers must not panic
	Info("startup message")
	Infof("formatted %d", 1)
	Infow("structured", "key", "value")
	Error("error message")
	Errorw("structured error", "key", "value")
	Warnw("warning", "key", "value")
	Debugw("debug", "key", "value")
}

func TestInitializeConsole(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize(false) failed: %v", err)
	}
	if Logger == nil {
		t.Fatal("Logger not set")
	}
	if JSONOutput {
		t.Error("JSONOutput should be false for console mode")
	}
	Cleanup()
}

func TestInitializeJSON(t *testing.T) {
	if err := Initialize(true); err != nil {
		t.Fatalf("Initialize(true) failed: %v", err)
	}
	if !JSONOutput {
		t.Error("JSONOutput should be true for JSON mode")
	}
	Cleanup()
}
