// Package xrce contains the protocol data types and constants shared by the
// agent, the dispatcher and the transports. It mirrors the session and object
// vocabulary of the DDS-XRCE bridge protocol (client keys, object ids,
// creation modes and result statuses) while keeping the surface Go-friendly:
// fixed-size identifiers are byte arrays, enumerations are small integer
// types with String methods, and request payloads are plain structs.
//
// The package is free of transport and framing logic. The wire codec in
// internal/wire, the dispatcher and the agent all import these types but none
// of them is imported from here. The one codec hook is UnmarshalCBOR on the
// fixed-size identifiers: a CBOR byte string of the wrong length is an error,
// never padded or truncated into a valid key, id or cookie.
//
// # Status Model
//
// Every mutating operation answers with a ResultStatus. Status carries the
// kind of operation that was attempted (CREATE, DELETE, ...) even when it
// failed; Implementation carries the fine grained outcome; RequestID echoes
// the caller's request id so batched or asynchronous responses can be
// correlated without extra state:
//
//	res := xrce.NewResultStatus(req.RequestID, xrce.StatusLastOpCreate, xrce.StatusOK)
//	if !res.OK() { /* inspect res.Implementation */ }
//
// # Compatibility
//
// SupportedVersion holds the protocol version the agent implements. A client
// is admissible when its major version matches; minor versions are accepted
// in both directions. ExpectedCookie is the magic value every admission
// request must carry byte for byte.
package xrce
