// Package wire defines the datagram framing spoken by the agent's transports.
//
// Every datagram (or WebSocket binary message) carries exactly one CBOR
// encoded Frame. Frames use small integer map keys to stay compact on
// constrained links. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2) so identical frames always produce identical bytes.
//
// Request frames carry one of the Op* request operations and a typed Body;
// the agent answers each request frame with one OpStatus frame that echoes
// the request id and client key.
//
//	frame, err := wire.NewCreateClientFrame(req)
//	data, err := wire.EncodeFrame(frame)
//	// ... send data, receive reply ...
//	frame, err = wire.DecodeFrame(reply)
//	res, err := frame.Result()
package wire
