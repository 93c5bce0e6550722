// Package wire implements the wire-protocol codec for MoQ Transport
// (draft-ietf-moq-transport-15): control message parsing and
// serialization, object/datagram framing, and the uintvar integer
// encoding QUIC streams carry everything else on top of.
//
// This package contains no session, cache, or scheduling logic; those
// higher-level concerns live in sibling packages (moqsession, cache,
// scheduler).
package wire
