// Package simulated implements a transport with no hardware behind it.
//
// Three bulbs are always discoverable. Their IDs are generated once and
// persisted through an IdentityStore, so a simulated bulb saved to the
// account still resolves after a restart. Timings model a real radio:
// discovery begins after DiscoveryDelay and a connect takes ConnectDelay.
//
// FailNext injects a write failure for tests and demos.
package simulated
