package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

func TestOfferReplacesPending(t *testing.T) {
	ch := make(chan device.State, 1)

	first := device.DefaultState()
	second := first
	second.Power = true

	Offer(ch, first)
	Offer(ch, second)

	got := <-ch
	if !got.Power {
		t.Errorf("Offer() kept stale value %+v, want latest", got)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra value %+v", extra)
	default:
	}
}

func TestConnectGuard(t *testing.T) {
	var g ConnectGuard

	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := g.Acquire(); !errors.Is(err, device.ErrConnectInProgress) {
		t.Errorf("second Acquire() error = %v, want ErrConnectInProgress", err)
	}
	g.Release()
	if err := g.Acquire(); err != nil {
		t.Errorf("Acquire() after Release() error = %v", err)
	}
}

func TestContextError(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ContextError(cancelled); !errors.Is(err, device.ErrSuperseded) {
		t.Errorf("ContextError(cancelled) = %v, want ErrSuperseded", err)
	}

	expired, cancel2 := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel2()
	<-expired.Done()
	if err := ContextError(expired); !errors.Is(err, device.ErrTimeout) {
		t.Errorf("ContextError(expired) = %v, want ErrTimeout", err)
	}

	if err := ContextError(context.Background()); err != nil {
		t.Errorf("ContextError(live) = %v, want nil", err)
	}
}

func TestKindSimulated(t *testing.T) {
	if !KindSimulated.Simulated() {
		t.Error("KindSimulated.Simulated() = false")
	}
	if KindBLE.Simulated() {
		t.Error("KindBLE.Simulated() = true")
	}
}
