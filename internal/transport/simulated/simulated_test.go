package simulated

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

// memIdentities is an in-memory IdentityStore.
type memIdentities struct {
	mu    sync.Mutex
	ids   []string
	saves int
}

func (m *memIdentities) SimulatedIdentities(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...), nil
}

func (m *memIdentities) SaveSimulatedIdentities(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append([]string(nil), ids...)
	m.saves++
	return nil
}

func fastOptions(store IdentityStore) Options {
	return Options{
		DiscoveryDelay: time.Millisecond,
		EmitInterval:   time.Millisecond,
		ScanWindow:     time.Second,
		ConnectDelay:   time.Millisecond,
		Identities:     store,
	}
}

func collect(t *testing.T, ch <-chan device.Descriptor) []device.Descriptor {
	t.Helper()
	var out []device.Descriptor
	timeout := time.After(5 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, d)
		case <-timeout:
			t.Fatal("scan channel did not close")
			return nil
		}
	}
}

// =============================================================================
// Scan Tests
// =============================================================================

func TestScanEmitsFleet(t *testing.T) {
	tr := New(fastOptions(&memIdentities{}))

	ch, err := tr.Scan(context.Background(), 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	got := collect(t, ch)

	if len(got) != 3 {
		t.Fatalf("Scan() emitted %d descriptors, want 3", len(got))
	}
	for i, d := range got {
		if !d.IsSimulated {
			t.Errorf("descriptor %d IsSimulated = false", i)
		}
		if d.Name != fleetNames[i] {
			t.Errorf("descriptor %d Name = %q, want %q", i, d.Name, fleetNames[i])
		}
		if want := -45 - 10*i; d.SignalStrength != want {
			t.Errorf("descriptor %d SignalStrength = %d, want %d", i, d.SignalStrength, want)
		}
	}
}

func TestScanIdentitiesStable(t *testing.T) {
	store := &memIdentities{}

	first := collect(t, mustScan(t, New(fastOptions(store))))
	second := collect(t, mustScan(t, New(fastOptions(store))))

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("scan sizes = %d, %d, want 3, 3", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("slot %d ID changed across restart: %q -> %q", i, first[i].ID, second[i].ID)
		}
	}
	if store.saves != 1 {
		t.Errorf("identities saved %d times, want 1", store.saves)
	}
}

func TestScanRegeneratesShortIdentitySet(t *testing.T) {
	store := &memIdentities{ids: []string{"only-one"}}
	tr := New(fastOptions(store))

	ids, err := tr.Identities(context.Background())
	if err != nil {
		t.Fatalf("Identities() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("Identities() len = %d, want 3", len(ids))
	}
	if store.saves != 1 {
		t.Errorf("identities saved %d times, want 1", store.saves)
	}
}

func TestScanCancelStopsEmission(t *testing.T) {
	opts := fastOptions(&memIdentities{})
	opts.EmitInterval = 200 * time.Millisecond
	tr := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := tr.Scan(ctx, 5*time.Second)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no descriptor before cancel")
	}
	cancel()

	rest := collect(t, ch)
	if len(rest) != 0 {
		t.Errorf("received %d descriptors after cancel, want 0", len(rest))
	}
}

func TestScanWindowShorterThanDiscoveryDelay(t *testing.T) {
	opts := fastOptions(&memIdentities{})
	opts.DiscoveryDelay = time.Second
	tr := New(opts)

	got := collect(t, mustScan(t, tr, 10*time.Millisecond))
	if len(got) != 0 {
		t.Errorf("Scan() emitted %d descriptors inside a window shorter than discovery delay", len(got))
	}
}

func mustScan(t *testing.T, tr *Transport, window ...time.Duration) <-chan device.Descriptor {
	t.Helper()
	w := 300 * time.Millisecond
	if len(window) > 0 {
		w = window[0]
	}
	ch, err := tr.Scan(context.Background(), w)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return ch
}

// =============================================================================
// Connect Tests
// =============================================================================

func TestConnectWrongMode(t *testing.T) {
	tr := New(fastOptions(nil))

	_, err := tr.Connect(context.Background(), device.Descriptor{ID: "AA:BB", IsSimulated: false})
	if !errors.Is(err, device.ErrWrongMode) {
		t.Errorf("Connect() error = %v, want ErrWrongMode", err)
	}
}

func TestConnectCancelled(t *testing.T) {
	opts := fastOptions(nil)
	opts.ConnectDelay = time.Minute
	tr := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Connect(ctx, device.Descriptor{ID: "x", IsSimulated: true})
	if !errors.Is(err, device.ErrSuperseded) {
		t.Errorf("Connect() error = %v, want ErrSuperseded", err)
	}
}

func TestConnectTimeout(t *testing.T) {
	opts := fastOptions(nil)
	opts.ConnectDelay = time.Minute
	tr := New(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := tr.Connect(ctx, device.Descriptor{ID: "x", IsSimulated: true})
	if !errors.Is(err, device.ErrTimeout) {
		t.Errorf("Connect() error = %v, want ErrTimeout", err)
	}
}

func TestConnectSingleAttempt(t *testing.T) {
	opts := fastOptions(nil)
	opts.ConnectDelay = 200 * time.Millisecond
	tr := New(opts)

	errs := make(chan error, 1)
	go func() {
		_, err := tr.Connect(context.Background(), device.Descriptor{ID: "a", IsSimulated: true})
		errs <- err
	}()

	// Wait for the first attempt to take the guard.
	deadline := time.Now().Add(time.Second)
	for !tr.guard.Busy.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	_, err := tr.Connect(context.Background(), device.Descriptor{ID: "b", IsSimulated: true})
	if !errors.Is(err, device.ErrConnectInProgress) {
		t.Errorf("second Connect() error = %v, want ErrConnectInProgress", err)
	}
	if err := <-errs; err != nil {
		t.Errorf("first Connect() error = %v", err)
	}
}

// =============================================================================
// Command Tests
// =============================================================================

func TestSendAppliesAndEmits(t *testing.T) {
	tr := New(fastOptions(nil))
	link, err := tr.Connect(context.Background(), device.Descriptor{ID: "a", IsSimulated: true})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if link.InitialState() != device.DefaultState() {
		t.Errorf("InitialState() = %+v, want default", link.InitialState())
	}

	if err := tr.Send(context.Background(), link, device.SetPower(true)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case s := <-tr.Updates(link):
		if !s.Power {
			t.Errorf("update Power = false, want true")
		}
		if s.Brightness != 255 {
			t.Errorf("update Brightness = %d, want 255", s.Brightness)
		}
	case <-time.After(time.Second):
		t.Fatal("no state update after Send()")
	}
}

func TestSendLatestUpdateWins(t *testing.T) {
	tr := New(fastOptions(nil))
	link, _ := tr.Connect(context.Background(), device.Descriptor{ID: "a", IsSimulated: true})

	for _, level := range []int{10, 20, 30} {
		if err := tr.Send(context.Background(), link, device.SetBrightness(level)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	s := <-tr.Updates(link)
	if s.Brightness != 30 {
		t.Errorf("Brightness = %d, want 30", s.Brightness)
	}
}

func TestSendInjectedFailure(t *testing.T) {
	tr := New(fastOptions(nil))
	link, _ := tr.Connect(context.Background(), device.Descriptor{ID: "a", IsSimulated: true})

	tr.FailNext("a", nil)
	if err := tr.Send(context.Background(), link, device.SetPower(true)); !errors.Is(err, device.ErrWriteFailed) {
		t.Errorf("Send() error = %v, want ErrWriteFailed", err)
	}

	select {
	case s := <-tr.Updates(link):
		t.Errorf("unexpected update after failed write: %+v", s)
	default:
	}

	if err := tr.Send(context.Background(), link, device.SetPower(true)); err != nil {
		t.Errorf("Send() after one-shot failure error = %v", err)
	}
}

func TestSendAfterDisconnect(t *testing.T) {
	tr := New(fastOptions(nil))
	link, _ := tr.Connect(context.Background(), device.Descriptor{ID: "a", IsSimulated: true})

	if err := tr.Disconnect(link); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := tr.Disconnect(link); err != nil {
		t.Errorf("second Disconnect() error = %v, want nil", err)
	}

	select {
	case <-link.Done():
	default:
		t.Error("Done() not closed after Disconnect()")
	}

	if err := tr.Send(context.Background(), link, device.SetPower(true)); !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestSendForeignLink(t *testing.T) {
	a := New(fastOptions(nil))
	b := New(fastOptions(nil))
	link, _ := a.Connect(context.Background(), device.Descriptor{ID: "a", IsSimulated: true})

	if err := b.Send(context.Background(), link, device.SetPower(true)); !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("Send() on foreign link error = %v, want ErrNotConnected", err)
	}
}

func TestCloseEndsLinks(t *testing.T) {
	tr := New(fastOptions(nil))
	link, _ := tr.Connect(context.Background(), device.Descriptor{ID: "a", IsSimulated: true})

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-link.Done():
	default:
		t.Error("Done() not closed after Close()")
	}

	_, err := tr.Connect(context.Background(), device.Descriptor{ID: "a", IsSimulated: true})
	if !errors.Is(err, device.ErrUnreachable) {
		t.Errorf("Connect() after Close() error = %v, want ErrUnreachable", err)
	}
}
