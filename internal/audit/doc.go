// Package audit buffers security events and relays them to a sink off the
// request path.
//
// The package does not decide which events exist or when they are emitted;
// the engine does. It must not import authcore or any sibling internal
// package.
package audit
