package xrce

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// UnmarshalCBOR decodes a byte string of exactly four bytes.
func (k *ClientKey) UnmarshalCBOR(data []byte) error {
	return unmarshalFixedCBOR(k[:], data, "client key")
}

// UnmarshalCBOR decodes a byte string of exactly two bytes.
func (id *ObjectID) UnmarshalCBOR(data []byte) error {
	return unmarshalFixedCBOR(id[:], data, "object id")
}

// UnmarshalCBOR decodes a byte string of exactly two bytes. A longer cookie
// that merely starts with ExpectedCookie is an error, not a match.
func (c *Cookie) UnmarshalCBOR(data []byte) error {
	return unmarshalFixedCBOR(c[:], data, "cookie")
}

// unmarshalFixedCBOR fills dst from a CBOR byte string whose length must be
// len(dst). The library default pads or truncates fixed-size arrays.
func unmarshalFixedCBOR(dst, data []byte, what string) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%s: want %d bytes, got %d", what, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

var (
	_ cbor.Unmarshaler = (*ClientKey)(nil)
	_ cbor.Unmarshaler = (*ObjectID)(nil)
	_ cbor.Unmarshaler = (*Cookie)(nil)
)
