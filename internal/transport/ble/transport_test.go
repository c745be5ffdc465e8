package ble

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRadio struct {
	mu           sync.Mutex
	ads          []Advertisement
	peripherals  map[string]*fakePeripheral
	blockConnect bool
	enableErr    error
	scans        int
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{peripherals: make(map[string]*fakePeripheral)}
}

func (r *fakeRadio) add(addr, name string, rssi int, p *fakePeripheral) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads = append(r.ads, Advertisement{Address: addr, Name: name, RSSI: rssi})
	if p != nil {
		r.peripherals[addr] = p
	}
}

func (r *fakeRadio) Enable() error {
	return r.enableErr
}

func (r *fakeRadio) Scan(ctx context.Context, _ string, fn func(Advertisement)) error {
	r.mu.Lock()
	ads := append([]Advertisement(nil), r.ads...)
	r.scans++
	r.mu.Unlock()

	for _, a := range ads {
		if ctx.Err() != nil {
			return nil
		}
		fn(a)
	}
	<-ctx.Done()
	return nil
}

func (r *fakeRadio) Connect(ctx context.Context, address string) (Peripheral, error) {
	r.mu.Lock()
	p, ok := r.peripherals[address]
	block := r.blockConnect
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, ErrUnknownAddress
	}
	return p, nil
}

type fakePeripheral struct {
	services    []Service
	gone        chan struct{}
	goneOnce    sync.Once
	disconnects atomic.Int32
}

func newFakePeripheral(services ...Service) *fakePeripheral {
	return &fakePeripheral{services: services, gone: make(chan struct{})}
}

func (p *fakePeripheral) DiscoverServices([]string) ([]Service, error) {
	return p.services, nil
}

func (p *fakePeripheral) Disconnect() error {
	p.disconnects.Add(1)
	p.drop()
	return nil
}

func (p *fakePeripheral) Disconnected() <-chan struct{} { return p.gone }

func (p *fakePeripheral) drop() {
	p.goneOnce.Do(func() { close(p.gone) })
}

type fakeService struct {
	uuid  string
	chars []Characteristic
}

func (s *fakeService) UUID() string { return s.uuid }

func (s *fakeService) DiscoverCharacteristics([]string) ([]Characteristic, error) {
	return s.chars, nil
}

type fakeChar struct {
	uuid     string
	value    []byte
	readErr  error
	writeErr error

	mu     sync.Mutex
	writes [][]byte
	notify func([]byte)
}

func (c *fakeChar) UUID() string { return c.uuid }

func (c *fakeChar) Read() ([]byte, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	return c.value, nil
}

func (c *fakeChar) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeChar) EnableNotifications(fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
	return nil
}

func (c *fakeChar) push(b []byte) {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

func (c *fakeChar) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

// bulb is a fully featured fake peripheral.
type bulb struct {
	power, brightness, color, mode, status *fakeChar
	peripheral                             *fakePeripheral
}

func newBulb() *bulb {
	b := &bulb{
		power:      &fakeChar{uuid: PowerUUID, value: []byte{1}},
		brightness: &fakeChar{uuid: BrightnessUUID, value: []byte{128}},
		color:      &fakeChar{uuid: ColorUUID, value: []byte{10, 20, 30}},
		mode:       &fakeChar{uuid: ModeUUID, value: []byte{2}},
		status:     &fakeChar{uuid: StatusUUID},
	}
	svc := &fakeService{uuid: ServiceUUID, chars: []Characteristic{b.power, b.brightness, b.color, b.mode, b.status}}
	b.peripheral = newFakePeripheral(svc)
	return b
}

type phaseLog struct {
	mu     sync.Mutex
	phases []Phase
}

func (l *phaseLog) record(_ string, _, to Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, to)
}

func (l *phaseLog) snapshot() []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Phase(nil), l.phases...)
}

func testOptions(log *phaseLog) Options {
	opts := Options{
		ScanWindow:     time.Second,
		ConnectTimeout: 2 * time.Second,
		CommandTimeout: time.Second,
	}
	if log != nil {
		opts.OnPhase = log.record
	}
	return opts
}

func realDescriptor(id string) device.Descriptor {
	return device.Descriptor{ID: id, Name: "Desk"}
}

// =============================================================================
// Scan Tests
// =============================================================================

func TestScanDeduplicatesAndNames(t *testing.T) {
	radio := newFakeRadio()
	radio.add("AA", "Desk", -40, nil)
	radio.add("AA", "Desk", -38, nil)
	radio.add("BB", "", -70, nil)
	tr := New(radio, testOptions(nil))

	ch, err := tr.Scan(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	var got []device.Descriptor
	for d := range ch {
		got = append(got, d)
	}
	if len(got) != 2 {
		t.Fatalf("Scan() emitted %d descriptors, want 2", len(got))
	}
	if got[0].ID != "AA" || got[0].SignalStrength != -40 {
		t.Errorf("first descriptor = %+v, want AA at -40", got[0])
	}
	if got[1].Name != unnamedDevice {
		t.Errorf("unnamed descriptor Name = %q, want %q", got[1].Name, unnamedDevice)
	}
	for _, d := range got {
		if d.IsSimulated {
			t.Errorf("descriptor %s IsSimulated = true", d.ID)
		}
	}
}

func TestScanRadioUnavailable(t *testing.T) {
	radio := newFakeRadio()
	radio.enableErr = errors.New("adapter powered off")
	tr := New(radio, testOptions(nil))

	if _, err := tr.Scan(context.Background(), time.Second); !errors.Is(err, device.ErrUnreachable) {
		t.Errorf("Scan() error = %v, want ErrUnreachable", err)
	}
}

func TestScanCancel(t *testing.T) {
	tr := New(newFakeRadio(), testOptions(nil))
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := tr.Scan(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("descriptor received after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scan channel not closed after cancel")
	}
}

// =============================================================================
// Connect Tests
// =============================================================================

func TestConnectReady(t *testing.T) {
	radio := newFakeRadio()
	b := newBulb()
	radio.add("AA", "Desk", -40, b.peripheral)
	log := &phaseLog{}
	tr := New(radio, testOptions(log))

	link, err := tr.Connect(context.Background(), realDescriptor("AA"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	want := device.State{Power: true, Brightness: 128, Red: 10, Green: 20, Blue: 30, Mode: device.ModeRainbow}
	if got := link.InitialState(); got != want {
		t.Errorf("InitialState() = %+v, want %+v", got, want)
	}
	if !link.Device().IsConnected {
		t.Error("Device().IsConnected = false")
	}
	if tr.Phase(link) != PhaseReady {
		t.Errorf("Phase() = %s, want ready", tr.Phase(link))
	}

	wantPhases := []Phase{PhaseScanning, PhaseDiscovered, PhaseConnecting, PhaseServiceDiscovery, PhaseCharacteristicDiscovery, PhaseReady}
	got := log.snapshot()
	if len(got) != len(wantPhases) {
		t.Fatalf("phases = %v, want %v", got, wantPhases)
	}
	for i := range wantPhases {
		if got[i] != wantPhases[i] {
			t.Errorf("phase[%d] = %s, want %s", i, got[i], wantPhases[i])
		}
	}
}

func TestConnectSeenDeviceSkipsScanning(t *testing.T) {
	radio := newFakeRadio()
	b := newBulb()
	radio.add("AA", "Desk", -40, b.peripheral)
	log := &phaseLog{}
	tr := New(radio, testOptions(log))
	tr.remember("AA")

	if _, err := tr.Connect(context.Background(), realDescriptor("AA")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := log.snapshot(); len(got) == 0 || got[0] != PhaseDiscovered {
		t.Errorf("phases = %v, want to start at discovered", got)
	}
}

func TestConnectWrongMode(t *testing.T) {
	tr := New(newFakeRadio(), testOptions(nil))

	_, err := tr.Connect(context.Background(), device.Descriptor{ID: "sim", IsSimulated: true})
	if !errors.Is(err, device.ErrWrongMode) {
		t.Errorf("Connect() error = %v, want ErrWrongMode", err)
	}
}

func TestConnectServiceMissing(t *testing.T) {
	radio := newFakeRadio()
	p := newFakePeripheral(&fakeService{uuid: "0000180f-0000-1000-8000-00805f9b34fb"})
	radio.add("AA", "Other", -40, p)
	log := &phaseLog{}
	tr := New(radio, testOptions(log))

	_, err := tr.Connect(context.Background(), realDescriptor("AA"))
	if !errors.Is(err, device.ErrServiceMissing) {
		t.Fatalf("Connect() error = %v, want ErrServiceMissing", err)
	}
	if p.disconnects.Load() == 0 {
		t.Error("peripheral not released after failed attempt")
	}
	got := log.snapshot()
	if got[len(got)-1] != PhaseFailed {
		t.Errorf("final phase = %s, want failed", got[len(got)-1])
	}
}

func TestConnectNoCharacteristics(t *testing.T) {
	radio := newFakeRadio()
	p := newFakePeripheral(&fakeService{uuid: ServiceUUID})
	radio.add("AA", "Empty", -40, p)
	tr := New(radio, testOptions(nil))

	_, err := tr.Connect(context.Background(), realDescriptor("AA"))
	if !errors.Is(err, device.ErrServiceMissing) || !errors.Is(err, ErrNoCharacteristics) {
		t.Errorf("Connect() error = %v, want ErrServiceMissing wrapping ErrNoCharacteristics", err)
	}
}

func TestConnectTimeout(t *testing.T) {
	radio := newFakeRadio()
	radio.add("AA", "Desk", -40, newBulb().peripheral)
	radio.blockConnect = true
	log := &phaseLog{}
	opts := testOptions(log)
	opts.ConnectTimeout = 30 * time.Millisecond
	tr := New(radio, opts)

	_, err := tr.Connect(context.Background(), realDescriptor("AA"))
	if !errors.Is(err, device.ErrTimeout) {
		t.Fatalf("Connect() error = %v, want ErrTimeout", err)
	}
	got := log.snapshot()
	if got[len(got)-1] != PhaseFailed {
		t.Errorf("final phase = %s, want failed", got[len(got)-1])
	}
}

func TestConnectOutOfRange(t *testing.T) {
	opts := testOptions(nil)
	opts.ConnectTimeout = 30 * time.Millisecond
	tr := New(newFakeRadio(), opts)

	_, err := tr.Connect(context.Background(), realDescriptor("gone"))
	if !errors.Is(err, device.ErrUnreachable) {
		t.Errorf("Connect() error = %v, want ErrUnreachable", err)
	}
}

func TestConnectSuperseded(t *testing.T) {
	radio := newFakeRadio()
	radio.add("AA", "Desk", -40, newBulb().peripheral)
	radio.blockConnect = true
	tr := New(radio, testOptions(nil))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := tr.Connect(ctx, realDescriptor("AA"))
	if !errors.Is(err, device.ErrSuperseded) {
		t.Errorf("Connect() error = %v, want ErrSuperseded", err)
	}
}

// =============================================================================
// Command and Notification Tests
// =============================================================================

func connectBulb(t *testing.T) (*Transport, *bulb, *link) {
	t.Helper()
	radio := newFakeRadio()
	b := newBulb()
	radio.add("AA", "Desk", -40, b.peripheral)
	tr := New(radio, testOptions(nil))

	tl, err := tr.Connect(context.Background(), realDescriptor("AA"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return tr, b, tl.(*link)
}

func TestSendWritesEncoding(t *testing.T) {
	tr, b, l := connectBulb(t)

	if err := tr.Send(context.Background(), l, device.SetColor(1, 2, 3)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := b.color.lastWrite(); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("color write = %v, want [1 2 3]", got)
	}

	if err := tr.Send(context.Background(), l, device.SetPower(false)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := b.power.lastWrite(); !bytes.Equal(got, []byte{0}) {
		t.Errorf("power write = %v, want [0]", got)
	}
}

func TestSendWriteFailed(t *testing.T) {
	tr, b, l := connectBulb(t)
	b.mode.writeErr = errors.New("gatt error 0x03")

	err := tr.Send(context.Background(), l, device.SetMode(device.ModePulse))
	if !errors.Is(err, device.ErrWriteFailed) {
		t.Errorf("Send() error = %v, want ErrWriteFailed", err)
	}
}

func TestSendMissingCharacteristic(t *testing.T) {
	radio := newFakeRadio()
	power := &fakeChar{uuid: PowerUUID, value: []byte{0}}
	radio.add("AA", "Basic", -40, newFakePeripheral(&fakeService{uuid: ServiceUUID, chars: []Characteristic{power}}))
	tr := New(radio, testOptions(nil))

	link, err := tr.Connect(context.Background(), realDescriptor("AA"))
	if err != nil {
		t.Fatalf("Connect() error = %v, want partial profile tolerated", err)
	}
	if err := tr.Send(context.Background(), link, device.SetBrightness(10)); !errors.Is(err, device.ErrWriteFailed) {
		t.Errorf("Send() error = %v, want ErrWriteFailed", err)
	}
	if err := tr.Send(context.Background(), link, device.SetPower(true)); err != nil {
		t.Errorf("Send(power) error = %v", err)
	}
}

func TestInitialReadFailureTolerated(t *testing.T) {
	radio := newFakeRadio()
	b := newBulb()
	b.brightness.readErr = errors.New("read not permitted")
	radio.add("AA", "Desk", -40, b.peripheral)
	tr := New(radio, testOptions(nil))

	link, err := tr.Connect(context.Background(), realDescriptor("AA"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := link.InitialState().Brightness; got != device.DefaultState().Brightness {
		t.Errorf("Brightness = %d, want default after failed read", got)
	}
}

func TestStatusNotificationReplacesState(t *testing.T) {
	tr, b, l := connectBulb(t)

	b.status.push([]byte{1, 2, 3})
	b.status.push([]byte{1, 128, 255, 0, 0, 2})

	select {
	case got := <-tr.Updates(l):
		want := device.State{Power: true, Brightness: 128, Red: 255, Green: 0, Blue: 0, Mode: device.ModeRainbow}
		if got != want {
			t.Errorf("update = %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no update after status notification")
	}

	select {
	case extra := <-tr.Updates(l):
		t.Errorf("short payload produced an update: %+v", extra)
	default:
	}
}

func TestPhysicalDisconnect(t *testing.T) {
	tr, b, l := connectBulb(t)

	b.peripheral.drop()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("link not torn down after physical disconnect")
	}
	if tr.Phase(l) != PhaseDisconnected {
		t.Errorf("Phase() = %s, want disconnected", tr.Phase(l))
	}
	if err := tr.Send(context.Background(), l, device.SetPower(true)); !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if l.characteristic(RolePower) != nil {
		t.Error("characteristic references survived disconnect")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	tr, b, l := connectBulb(t)

	for i := 0; i < 3; i++ {
		if err := tr.Disconnect(l); err != nil {
			t.Errorf("Disconnect() #%d error = %v", i, err)
		}
	}
	if b.peripheral.disconnects.Load() != 1 {
		t.Errorf("peripheral disconnected %d times, want 1", b.peripheral.disconnects.Load())
	}
	if err := tr.Disconnect(nil); err != nil {
		t.Errorf("Disconnect(nil) error = %v", err)
	}
}
