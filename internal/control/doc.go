// Package control provides the Facade, the single entry point the rest of
// the service uses to discover, connect to and command bulbs.
//
// The facade owns the dispatch executor that serialises all registry and
// session mutations, selects the simulated or BLE transport from the
// cached simulator-mode flag and republishes session events to its
// subscribers (REST/WebSocket, MQTT bridge, history recorder).
//
// # Supersession
//
// A newer Scan cancels the running one and a newer Connect cancels the
// one in flight. The cancelled operation ends without an error event;
// a superseded Connect returns device.ErrSuperseded, logged at debug.
//
// # Mode Changes
//
// When the mode flag changes the facade cancels any scan or connect,
// closes the active session (commands against it then fail with
// device.ErrNotConnected), clears the registry and emits ModeChanged.
package control
