package tracking

import (
	"sync"
	"testing"
	"time"
)

func TestSelectAndClear(t *testing.T) {
	s := New()
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	if !s.Select("D1", SourceUser) {
		t.Fatal("Select(D1) = false, want true")
	}
	if s.Select("D1", SourceUser) {
		t.Error("re-selecting the tracked device should not report a change")
	}
	if got := s.TrackedDeviceID(); got != "D1" {
		t.Errorf("TrackedDeviceID() = %q, want D1", got)
	}
	if !s.Clear() {
		t.Error("Clear() = false, want true")
	}
	if s.Clear() {
		t.Error("second Clear() should report no change")
	}
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if changes[1].DeviceID != "" || changes[1].Previous != "D1" {
		t.Errorf("clear change = %+v", changes[1])
	}
}

func TestManualOverrideLatch(t *testing.T) {
	s := New()
	if !s.Select("DEFAULT", SourceAuto) {
		t.Fatal("auto select before any manual selection should succeed")
	}
	if s.ManualOverride() {
		t.Error("auto select must not set the latch")
	}
	s.Select("D2", SourceUser)
	if !s.ManualOverride() {
		t.Fatal("user select should set the latch")
	}
	if s.Select("DEFAULT", SourceAuto) {
		t.Error("auto select after manual selection must be refused")
	}
	s.Clear()
	if s.Select("DEFAULT", SourceAuto) {
		t.Error("latch must survive Clear")
	}
	s.Reset()
	if s.ManualOverride() || s.TrackedDeviceID() != "" {
		t.Error("Reset should clear latch and selection")
	}
	if !s.Select("DEFAULT", SourceAuto) {
		t.Error("auto select after Reset should succeed")
	}
}

func TestUnsubscribe(t *testing.T) {
	s := New()
	n := 0
	unsub := s.Subscribe(func(Change) { n++ })
	s.Select("D1", SourceUser)
	unsub()
	s.Select("D2", SourceUser)
	if n != 1 {
		t.Errorf("listener calls = %d, want 1", n)
	}
}

func TestConcurrentSelectsDeliveredInOrder(t *testing.T) {
	s := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		last string
	)
	s.Subscribe(func(c Change) {
		if c.DeviceID == "DEF" {
			close(entered)
			<-release
		}
		mu.Lock()
		last = c.DeviceID
		mu.Unlock()
	})

	autoDone := make(chan struct{})
	go func() {
		defer close(autoDone)
		s.Select("DEF", SourceAuto)
	}()
	<-entered

	userDone := make(chan struct{})
	go func() {
		defer close(userDone)
		s.Select("D1", SourceUser)
	}()
	select {
	case <-userDone:
		t.Fatal("user selection completed while the previous change was still being delivered")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-autoDone
	<-userDone

	mu.Lock()
	defer mu.Unlock()
	if got := s.TrackedDeviceID(); got != "D1" || last != "D1" {
		t.Errorf("TrackedDeviceID() = %q, last delivered = %q, want D1 for both", got, last)
	}
}
