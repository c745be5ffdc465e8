package ble

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name     string
		cmd      device.Command
		wantRole Role
		wantData []byte
	}{
		{"power on", device.SetPower(true), RolePower, []byte{1}},
		{"power off", device.SetPower(false), RolePower, []byte{0}},
		{"brightness", device.SetBrightness(128), RoleBrightness, []byte{128}},
		{"brightness clamped", device.SetBrightness(999), RoleBrightness, []byte{255}},
		{"color", device.SetColor(255, 0, 10), RoleColor, []byte{255, 0, 10}},
		{"mode", device.SetMode(device.ModeRainbow), RoleMode, []byte{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, data, err := EncodeCommand(tt.cmd)
			if err != nil {
				t.Fatalf("EncodeCommand() error = %v", err)
			}
			if role != tt.wantRole {
				t.Errorf("EncodeCommand() role = %v, want %v", role, tt.wantRole)
			}
			if !bytes.Equal(data, tt.wantData) {
				t.Errorf("EncodeCommand() data = %v, want %v", data, tt.wantData)
			}
		})
	}
}

func TestEncodeCommandInvalid(t *testing.T) {
	if _, _, err := EncodeCommand(device.Command{Kind: "reboot"}); !errors.Is(err, device.ErrInvalidCommand) {
		t.Errorf("EncodeCommand() error = %v, want ErrInvalidCommand", err)
	}
	if _, _, err := EncodeCommand(device.Command{Kind: device.CommandSetMode, Mode: 9}); !errors.Is(err, device.ErrInvalidCommand) {
		t.Errorf("EncodeCommand() error = %v for mode 9, want ErrInvalidCommand", err)
	}
}

func TestDecodeStatus(t *testing.T) {
	got, err := DecodeStatus([]byte{1, 128, 255, 0, 0, 2})
	if err != nil {
		t.Fatalf("DecodeStatus() error = %v", err)
	}
	want := device.State{Power: true, Brightness: 128, Red: 255, Green: 0, Blue: 0, Mode: device.ModeRainbow}
	if got != want {
		t.Errorf("DecodeStatus() = %+v, want %+v", got, want)
	}
}

func TestDecodeStatusEdges(t *testing.T) {
	if _, err := DecodeStatus([]byte{1, 2, 3, 4, 5}); !errors.Is(err, ErrShortStatus) {
		t.Errorf("DecodeStatus(5 bytes) error = %v, want ErrShortStatus", err)
	}

	got, err := DecodeStatus([]byte{7, 0, 0, 0, 0, 200, 99})
	if err != nil {
		t.Fatalf("DecodeStatus() error = %v", err)
	}
	if !got.Power {
		t.Error("non-zero power byte decoded as off")
	}
	if got.Mode != device.ModePulse {
		t.Errorf("Mode = %v, want pulse for out-of-range byte", got.Mode)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	s := device.State{Power: true, Brightness: 10, Red: 20, Green: 30, Blue: 40, Mode: device.ModeFade}
	got, err := DecodeStatus(EncodeStatus(s))
	if err != nil {
		t.Fatalf("DecodeStatus() error = %v", err)
	}
	if got != s {
		t.Errorf("round trip = %+v, want %+v", got, s)
	}
}

func TestRoleFor(t *testing.T) {
	tests := map[string]Role{
		PowerUUID:                              RolePower,
		"BEB5483E-36E1-4688-B7F5-EA07361B26A9": RoleBrightness,
		ColorUUID:                              RoleColor,
		ModeUUID:                               RoleMode,
		StatusUUID:                             RoleStatus,
		ServiceUUID:                            RoleUnknown,
	}
	for uuid, want := range tests {
		if got := RoleFor(uuid); got != want {
			t.Errorf("RoleFor(%q) = %v, want %v", uuid, got, want)
		}
	}
}
