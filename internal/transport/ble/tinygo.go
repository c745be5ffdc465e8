package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// TinyGoRadio adapts a tinygo bluetooth adapter to Radio.
//
// Thread Safety: All methods are safe for concurrent use, but the
// platform allows one scan at a time; the Transport serialises scans.
type TinyGoRadio struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu          sync.Mutex
	addresses   map[string]bluetooth.Address
	peripherals map[string]*tinyPeripheral
}

// NewTinyGoRadio wraps adapter. A nil adapter selects the platform default.
func NewTinyGoRadio(adapter *bluetooth.Adapter) *TinyGoRadio {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	return &TinyGoRadio{
		adapter:     adapter,
		addresses:   make(map[string]bluetooth.Address),
		peripherals: make(map[string]*tinyPeripheral),
	}
}

// Enable implements Radio.
func (r *TinyGoRadio) Enable() error {
	r.enableOnce.Do(func() {
		if err := r.adapter.Enable(); err != nil {
			r.enableErr = fmt.Errorf("enabling bluetooth adapter: %w", err)
			return
		}
		r.adapter.SetConnectHandler(r.handleConnectEvent)
	})
	return r.enableErr
}

// handleConnectEvent marks peripherals gone on a link-layer disconnect.
func (r *TinyGoRadio) handleConnectEvent(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := dev.Address.String()

	r.mu.Lock()
	p, ok := r.peripherals[addr]
	delete(r.peripherals, addr)
	r.mu.Unlock()

	if ok {
		p.markGone()
	}
}

// Scan implements Radio.
func (r *TinyGoRadio) Scan(ctx context.Context, serviceUUID string, fn func(Advertisement)) error {
	want, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("parsing service uuid: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.adapter.StopScan()
		case <-stop:
		}
	}()

	err = r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil || !result.HasServiceUUID(want) {
			return
		}
		addr := result.Address.String()

		r.mu.Lock()
		r.addresses[addr] = result.Address
		r.mu.Unlock()

		fn(Advertisement{
			Address: addr,
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Connect implements Radio. The platform call is not cancellable, so an
// abandoned attempt that later succeeds is disconnected on arrival.
func (r *TinyGoRadio) Connect(ctx context.Context, address string) (Peripheral, error) {
	r.mu.Lock()
	addr, ok := r.addresses[address]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}

	var params bluetooth.ConnectionParams
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	go func() {
		dev, err := r.adapter.Connect(addr, params)
		done <- result{dev: dev, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		p := &tinyPeripheral{dev: res.dev, gone: make(chan struct{})}
		r.mu.Lock()
		r.peripherals[address] = p
		r.mu.Unlock()
		return p, nil

	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				_ = res.dev.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type tinyPeripheral struct {
	dev      bluetooth.Device
	gone     chan struct{}
	goneOnce sync.Once
}

func (p *tinyPeripheral) markGone() {
	p.goneOnce.Do(func() { close(p.gone) })
}

func (p *tinyPeripheral) DiscoverServices(uuids []string) ([]Service, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}
	services, err := p.dev.DiscoverServices(filter)
	if err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(services))
	for _, s := range services {
		out = append(out, tinyService{svc: s})
	}
	return out, nil
}

func (p *tinyPeripheral) Disconnect() error {
	select {
	case <-p.gone:
		return nil
	default:
	}
	err := p.dev.Disconnect()
	p.markGone()
	return err
}

func (p *tinyPeripheral) Disconnected() <-chan struct{} {
	return p.gone
}

type tinyService struct {
	svc bluetooth.DeviceService
}

func (s tinyService) UUID() string {
	return s.svc.UUID().String()
}

func (s tinyService) DiscoverCharacteristics(uuids []string) ([]Characteristic, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics(filter)
	if err != nil {
		return nil, err
	}
	out := make([]Characteristic, 0, len(chars))
	for _, c := range chars {
		out = append(out, tinyCharacteristic{char: c})
	}
	return out, nil
}

type tinyCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c tinyCharacteristic) UUID() string {
	return c.char.UUID().String()
}

func (c tinyCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, 32)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c tinyCharacteristic) Write(p []byte) error {
	_, err := c.char.Write(p)
	return err
}

func (c tinyCharacteristic) EnableNotifications(fn func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The platform reuses buf between callbacks.
		fn(append([]byte(nil), buf...))
	})
}

func parseUUIDs(in []string) ([]bluetooth.UUID, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]bluetooth.UUID, 0, len(in))
	for _, s := range in {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("parsing uuid %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}
