// Package stack defines the boundary to a running stack's migration API.
//
// The engine never talks to a stack directly; it consumes the Client
// interface. HTTPClient implements Client over the stack's JSON admin API.
// Tests use the in-memory implementation in internal/testutil.
package stack
