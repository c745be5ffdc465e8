// Package history records bulb state changes and command failures as
// time-series points.
//
// A Recorder subscribes to the control facade and writes one bulb_state
// point per StateChanged event (tags device_id, source, simulated) and
// one bulb_command_failures point per CommandFailed event. Writing is
// delegated to a PointWriter, normally the InfluxDB client.
package history
