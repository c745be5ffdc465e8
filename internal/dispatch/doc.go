// Package dispatch provides the executor that serialises state mutations
// and delivers observer notifications in order.
package dispatch
