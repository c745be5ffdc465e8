package history

import (
	"strconv"
	"time"

	"github.com/nerrad567/smartbulb-core/internal/control"
)

// Measurement names.
const (
	MeasurementState          = "bulb_state"
	MeasurementCommandFailure = "bulb_command_failures"
)

// PointWriter queues a single time-series point.
// Satisfied by *influxdb.Client.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time)
}

// EventSource is the subset of the control facade the recorder listens to.
type EventSource interface {
	Subscribe(fn control.Subscriber) (unsubscribe func())
}

// Recorder turns facade events into history points.
type Recorder struct {
	writer      PointWriter
	unsubscribe func()
}

// Start subscribes a recorder to source. Call Stop to detach it.
func Start(source EventSource, writer PointWriter) *Recorder {
	r := &Recorder{writer: writer}
	r.unsubscribe = source.Subscribe(r.handle)
	return r
}

// Stop detaches the recorder. Safe to call more than once.
func (r *Recorder) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func (r *Recorder) handle(ev control.Event) {
	switch ev.Kind {
	case control.EventStateChanged:
		r.writer.WritePoint(MeasurementState, tagsFor(ev), map[string]any{
			"power":      ev.State.Power,
			"brightness": int(ev.State.Brightness),
			"red":        int(ev.State.Red),
			"green":      int(ev.State.Green),
			"blue":       int(ev.State.Blue),
			"mode":       int(ev.State.Mode),
		}, ev.Timestamp)
	case control.EventCommandFailed:
		tags := tagsFor(ev)
		tags["command"] = string(ev.Command.Kind)
		r.writer.WritePoint(MeasurementCommandFailure, tags, map[string]any{
			"count": 1,
			"error": ev.Error,
		}, ev.Timestamp)
	}
}

func tagsFor(ev control.Event) map[string]string {
	tags := map[string]string{
		"device_id": ev.Device.ID,
		"simulated": strconv.FormatBool(ev.Device.IsSimulated),
	}
	if ev.Source != "" {
		tags["source"] = string(ev.Source)
	}
	return tags
}
