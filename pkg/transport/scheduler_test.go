package transport

import (
	"testing"
	"time"
)

func TestIntervalSchedulerImmediate(t *testing.T) {
	s := NewIntervalScheduler(10*time.Millisecond, true)
	defer s.Stop()

	ticks := make(chan struct{}, 16)
	s.Start(func() { ticks <- struct{}{} })

	if !s.Active() {
		t.Error("scheduler not active after Start")
	}

	waitSignal(t, ticks, "immediate tick")
	waitSignal(t, ticks, "interval tick")

	s.Stop()
	if s.Active() {
		t.Error("scheduler active after Stop")
	}

	// Drain whatever was in flight, then expect silence.
	for {
		select {
		case <-ticks:
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	expectQuiet(t, ticks, "tick after Stop")
}

func TestIntervalSchedulerRestart(t *testing.T) {
	s := NewIntervalScheduler(5*time.Millisecond, true)
	defer s.Stop()

	first := make(chan struct{}, 16)
	s.Start(func() { first <- struct{}{} })
	waitSignal(t, first, "first loop tick")

	// Restart replaces the scheduled function.
	second := make(chan struct{}, 16)
	s.Start(func() { second <- struct{}{} })
	waitSignal(t, second, "second loop tick")
}

func TestDelaySchedulerFiresOnce(t *testing.T) {
	s := NewDelayScheduler(10 * time.Millisecond)
	defer s.Stop()

	fired := make(chan struct{}, 4)
	s.Start(func() { fired <- struct{}{} })
	if !s.Active() {
		t.Error("scheduler not active while armed")
	}

	waitSignal(t, fired, "delayed invocation")
	eventually(t, func() bool { return !s.Active() }, "inactive after firing")
	expectQuiet(t, fired, "second invocation")
}

func TestDelaySchedulerStopCancels(t *testing.T) {
	s := NewDelayScheduler(20 * time.Millisecond)

	fired := make(chan struct{}, 1)
	s.Start(func() { fired <- struct{}{} })
	s.Stop()

	if s.Active() {
		t.Error("scheduler active after Stop")
	}
	expectQuiet(t, fired, "invocation after Stop")
}

func TestDelaySchedulerRearm(t *testing.T) {
	s := NewDelayScheduler(10 * time.Millisecond)
	defer s.Stop()

	fired := make(chan struct{}, 4)
	s.Start(func() { fired <- struct{}{} })
	waitSignal(t, fired, "first invocation")

	s.Start(func() { fired <- struct{}{} })
	waitSignal(t, fired, "re-armed invocation")
}
