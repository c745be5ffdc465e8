// Package session implements the controller for one connected bulb.
//
// A Session owns the bulb's DeviceState for the lifetime of one link. It
// applies commands optimistically, forwards them to the transport and
// reconciles device-reported state with a last-writer-wins rule: a state
// from the device always replaces the local state entirely.
//
// All state mutations run inside a dispatch.Executor shared with the
// control facade; observers receive Events in order on the executor's
// delivery goroutine.
//
//	s := session.New(session.Config{Transport: tr, Link: link, Executor: exec, Observer: onEvent})
//	if err := <-s.SetColor(255, 0, 0); err != nil {
//		// local state already shows red; the bulb may not
//	}
package session
