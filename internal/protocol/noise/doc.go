// Package noise implements the Noise_NX_25519_ChaChaPoly_SHA256 handshake
// and the transport cipher states it produces.
//
// Ownership boundary:
//   - Initiator and Responder are single-use, per-connection state machines.
//   - Every transition method is total: a call in the wrong state fails with
//     ErrUnexpectedStep and moves the machine to StateFailed.
//   - Handshake secrets are zeroized on completion, on failure and on Destroy.
//   - The package performs no I/O; callers carry the handshake messages.
package noise
