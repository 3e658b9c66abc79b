// Package connlib is the boundary to the external Connection Library that
// speaks the messaging wire protocol.
//
// The core only needs four things from it: open one connection per attempt
// against a per-session credential scope, a stream of connection events,
// a pairing-code request and a message send. Driver and Conn capture exactly
// that surface; BridgeDriver implements it over a WebSocket to a sidecar
// process that hosts the real library.
package connlib
