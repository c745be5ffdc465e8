// Package settings is the local settings store of the smart-bulb core.
//
// A Store keeps, in the SQLite database:
//   - the simulator-mode flag, with change notification (Watch)
//   - free-form keys such as the signed-in account email
//   - the stable IDs of the simulated bulb fleet
//   - an offline cache of the saved devices held by the account backend
//
// *Store satisfies control.ModeSource and simulated.IdentityStore.
package settings
