package audio

import (
	"context"
	"log/slog"

	"github.com/audiolibrelab/memocapture/internal/recording"
)

var _ recording.Permissions = (*DevicePermission)(nil)

// PermissionConfig controls how microphone access is decided.
type PermissionConfig struct {
	AssumeGranted bool
	Source        string // optional PipeWire port that must be present
}

// DevicePermission treats microphone access as granted when the PipeWire
// graph exposes a capture port. There is no interactive prompt on the
// desktop, so a request re-checks the graph.
type DevicePermission struct {
	cfg PermissionConfig
	pw  *PipeWire
}

func NewDevicePermission(cfg PermissionConfig, pw *PipeWire) *DevicePermission {
	if pw == nil {
		pw = NewPipeWire(nil)
	}
	return &DevicePermission{cfg: cfg, pw: pw}
}

func (d *DevicePermission) HasMicrophonePermission(ctx context.Context) (bool, error) {
	if d.cfg.AssumeGranted {
		return true, nil
	}
	ports, err := d.pw.CapturePorts(ctx)
	if err != nil {
		return false, err
	}
	if len(ports) == 0 {
		return false, nil
	}
	if d.cfg.Source != "" && d.cfg.Source != "disabled" {
		all, err := d.pw.ListPorts(ctx)
		if err != nil {
			return false, err
		}
		if err := validatePortIn(d.cfg.Source, all); err != nil {
			slog.Warn("Configured capture source unavailable", "source", d.cfg.Source, "error", err)
			return false, nil
		}
	}
	return true, nil
}

func (d *DevicePermission) RequestMicrophonePermission(ctx context.Context) (bool, error) {
	granted, err := d.HasMicrophonePermission(ctx)
	if err == nil && !granted {
		slog.Info("No capture device available; connect a microphone or set permission.assume_granted")
	}
	return granted, err
}
