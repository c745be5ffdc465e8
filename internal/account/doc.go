// Package account is the client of the account backend.
//
// The backend owns user accounts and the list of bulbs registered to
// each account. Client wraps its JSON POST endpoints behind a circuit
// breaker so an unreachable backend fails fast with ErrUnavailable.
// Directory scopes bulb operations to the signed-in email, filters them
// by the current simulator mode and keeps an offline cache in the local
// settings store.
//
// Passwords never leave Client: they are not logged and not cached.
package account
