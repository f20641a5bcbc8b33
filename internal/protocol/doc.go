// Package protocol groups the SV2 wire contract and its encrypted transport.
//
// Ownership boundary:
// - wire: field encoding and decoding primitives
// - frame: the 6-byte header and frame splitting
// - schema: message catalog and the reserved handshake pair
// - noise: Noise NX handshake, certificates and cipher states
// - buffer: buffer ownership strategies
// - transport: the per-connection codec tying the layers together
package protocol
