package lifecycle

import (
	"testing"
	"time"
)

func TestDraining_DefaultFalse(t *testing.T) {
	Reset()
	if Draining() {
		t.Error("Draining() = true, want false before BeginDrain")
	}
	if d := DrainDuration(); d != 0 {
		t.Errorf("DrainDuration() = %v, want 0 while serving", d)
	}
}

func TestBeginDrain_KeepsFirstStart(t *testing.T) {
	Reset()
	defer Reset()

	BeginDrain()
	first := drainStart.Load()
	time.Sleep(2 * time.Millisecond)
	BeginDrain()

	if !Draining() {
		t.Fatal("Draining() = false after BeginDrain, want true")
	}
	if got := drainStart.Load(); got != first {
		t.Errorf("second BeginDrain moved start from %d to %d", first, got)
	}
	if d := DrainDuration(); d < 2*time.Millisecond {
		t.Errorf("DrainDuration() = %v, want >= 2ms", d)
	}
}

func TestReset(t *testing.T) {
	BeginDrain()
	Reset()
	if Draining() {
		t.Error("Draining() = true after Reset, want false")
	}
}
