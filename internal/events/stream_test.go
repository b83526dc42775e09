package events

import (
	"errors"
	"testing"
	"time"

	"github.com/anvilrun/anvil/pkg/models"
)

func TestPushThenNextReturnsInOrder(t *testing.T) {
	s := New()
	s.Push(models.NewMessageStart())
	s.Push(models.NewMessageDelta("hi", false))

	ev, ok, err := s.Next()
	if err != nil || !ok || ev.Type != models.EventMessageStart {
		t.Fatalf("first Next() = %+v, %v, %v", ev, ok, err)
	}
	ev, ok, err = s.Next()
	if err != nil || !ok || ev.Type != models.EventMessageDelta {
		t.Fatalf("second Next() = %+v, %v, %v", ev, ok, err)
	}
}

func TestNextBlocksUntilPush(t *testing.T) {
	s := New()
	done := make(chan models.AgentEvent, 1)
	go func() {
		ev, ok, err := s.Next()
		if !ok || err != nil {
			t.Errorf("unexpected result: %+v %v %v", ev, ok, err)
		}
		done <- ev
	}()

	select {
	case <-done:
		t.Fatalf("Next() returned before any push")
	case <-time.After(50 * time.Millisecond):
	}

	s.Push(models.NewMessageStart())

	select {
	case ev := <-done:
		if ev.Type != models.EventMessageStart {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("Next() did not wake after push")
	}
}

func TestCloseWakesParkedConsumerWithDone(t *testing.T) {
	s := New()
	done := make(chan struct{})
	go func() {
		_, ok, err := s.Next()
		if ok || err != nil {
			t.Errorf("expected (false, nil) after close, got ok=%v err=%v", ok, err)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Next() did not wake after close")
	}
}

func TestFailWakesParkedConsumerWithErrorExactlyOnce(t *testing.T) {
	s := New()
	cause := errors.New("boom")

	errs := make(chan error, 1)
	go func() {
		_, _, err := s.Next()
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	s.Fail(cause)

	got := <-errs
	if !errors.Is(got, cause) {
		t.Fatalf("expected cause error, got %v", got)
	}

	_, ok, err := s.Next()
	if ok || err != nil {
		t.Fatalf("expected terminal done state after error delivered once, got ok=%v err=%v", ok, err)
	}
}

func TestPushAfterCloseIsNoOp(t *testing.T) {
	s := New()
	s.Close()
	s.Push(models.NewMessageStart())

	_, ok, err := s.Next()
	if ok || err != nil {
		t.Fatalf("expected done, got ok=%v err=%v", ok, err)
	}
}

func TestPushAfterFailIsNoOp(t *testing.T) {
	s := New()
	s.Fail(errors.New("x"))
	s.Push(models.NewMessageStart())

	_, _, err := s.Next()
	if err == nil {
		t.Fatalf("expected the fail error on first Next()")
	}

	_, ok, err := s.Next()
	if ok || err != nil {
		t.Fatalf("expected no further events to be delivered, got ok=%v err=%v", ok, err)
	}
}

func TestCloseAndFailAreNoOpOnceTerminal(t *testing.T) {
	s := New()
	s.Close()
	s.Fail(errors.New("ignored"))

	if s.State() != StateClosed {
		t.Fatalf("expected state to remain closed, got %v", s.State())
	}
}

func TestQueuedEventsDrainBeforeTerminalSignal(t *testing.T) {
	s := New()
	s.Push(models.NewMessageStart())
	s.Close()

	ev, ok, err := s.Next()
	if !ok || err != nil || ev.Type != models.EventMessageStart {
		t.Fatalf("expected queued event before terminal signal, got %+v %v %v", ev, ok, err)
	}
	_, ok, err = s.Next()
	if ok || err != nil {
		t.Fatalf("expected done after queue drained, got ok=%v err=%v", ok, err)
	}
}
