// Package transport is the per-connection codec between raw socket bytes
// and frames.
//
// Ownership boundary:
//   - A Codec performs no I/O and is owned by one goroutine.
//   - PushInbound copies the bytes it is given; PopFrame hands out frames
//     whose payload lives in a buffer the caller must Release.
//   - PopOutbound hands the pending wire bytes to the caller, who writes
//     them and releases the handle.
//   - The first fatal error is terminal for the connection.
package transport
