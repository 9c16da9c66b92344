package clock

import (
	"testing"
	"time"
)

func TestStopwatchElapsedBeforeStart(t *testing.T) {
	var sw Stopwatch
	if sw.Elapsed() != 0 {
		t.Errorf("Elapsed() before Start() = %d, want 0", sw.Elapsed())
	}
	if sw.StartTimeMillis() != 0 {
		t.Errorf("StartTimeMillis() before Start() = %d, want 0", sw.StartTimeMillis())
	}
}

func TestStopwatchElapsedAfterStart(t *testing.T) {
	var sw Stopwatch
	sw.Start()
	time.Sleep(5 * time.Millisecond)
	if elapsed := sw.Elapsed(); elapsed < 5 {
		t.Errorf("Elapsed() = %d, want >= 5", elapsed)
	}
	if sw.StartTimeMillis() <= 0 {
		t.Errorf("StartTimeMillis() = %d, want > 0", sw.StartTimeMillis())
	}
}
