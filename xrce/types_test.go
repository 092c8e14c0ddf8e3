package xrce

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestParseClientKey(t *testing.T) {
	k, err := ParseClientKey("aabbccdd")
	if err != nil {
		t.Fatalf("ParseClientKey: %v", err)
	}
	if k != (ClientKey{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Fatalf("unexpected key: %v", k)
	}
	if k.String() != "aabbccdd" {
		t.Fatalf("String() = %q", k.String())
	}

	for _, bad := range []string{"", "aabbcc", "aabbccddee", "zzbbccdd"} {
		if _, err := ParseClientKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestObjectIDJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		ID ObjectID `json:"id"`
	}{ID: ObjectID{0x00, 0x14}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"id":"0014"}` {
		t.Fatalf("unexpected json: %s", b)
	}
}

func TestVersionCompatibility(t *testing.T) {
	tests := []struct {
		name string
		v    Version
		want bool
	}{
		{"same", SupportedVersion, true},
		{"newer minor", Version{Major: SupportedVersion.Major, Minor: 0x20}, true},
		{"older minor", Version{Major: SupportedVersion.Major, Minor: 0}, true},
		{"other major", Version{Major: 0x02, Minor: SupportedVersion.Minor}, false},
		{"zero major", Version{Major: 0x00, Minor: SupportedVersion.Minor}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.CompatibleWith(SupportedVersion); got != tt.want {
				t.Fatalf("CompatibleWith(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestImplStatusIsError(t *testing.T) {
	for _, s := range []ImplStatus{StatusOK, StatusOKMatched} {
		if s.IsError() {
			t.Fatalf("%v should not be an error", s)
		}
	}
	for _, s := range []ImplStatus{StatusErrAlreadyExists, StatusErrInvalidData, StatusErrIncompatible, StatusErrUnknownReference, StatusErrResources} {
		if !s.IsError() {
			t.Fatalf("%v should be an error", s)
		}
	}
	res := NewResultStatus(7, StatusLastOpDelete, StatusErrUnknownReference)
	if res.OK() {
		t.Fatalf("expected failed result")
	}
	if res.String() != "DELETE/ERR_UNKNOWN_REFERENCE (request 7)" {
		t.Fatalf("String() = %q", res.String())
	}
}

func TestParseObjectKind(t *testing.T) {
	k, err := ParseObjectKind("subscriber")
	if err != nil {
		t.Fatalf("ParseObjectKind: %v", err)
	}
	if k != ObjectKindSubscriber || !k.Valid() {
		t.Fatalf("unexpected kind %v", k)
	}
	if _, err := ParseObjectKind("gizmo"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if ObjectKindInvalid.Valid() {
		t.Fatalf("invalid kind reported valid")
	}
}

func TestFixedSizeCBOR(t *testing.T) {
	enc := func(t *testing.T, b []byte) []byte {
		t.Helper()
		data, err := cbor.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}

	var k ClientKey
	if err := cbor.Unmarshal(enc(t, []byte{1, 2, 3, 4}), &k); err != nil || k != (ClientKey{1, 2, 3, 4}) {
		t.Fatalf("exact key: %v %v", k, err)
	}
	var c Cookie
	if err := cbor.Unmarshal(enc(t, []byte("XR")), &c); err != nil || c != ExpectedCookie {
		t.Fatalf("exact cookie: %v %v", c, err)
	}

	tests := []struct {
		name string
		data []byte
		dst  any
	}{
		{"long cookie", []byte("XRZZ"), new(Cookie)},
		{"short cookie", []byte("X"), new(Cookie)},
		{"short key", []byte{1}, new(ClientKey)},
		{"long key", []byte{9, 9, 9, 9, 9, 9, 9, 9}, new(ClientKey)},
		{"empty object id", []byte{}, new(ObjectID)},
		{"long object id", []byte{0, 1, 2}, new(ObjectID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cbor.Unmarshal(enc(t, tt.data), tt.dst); err == nil {
				t.Fatalf("expected length error, decoded %v", tt.dst)
			}
		})
	}

	var id ObjectID
	text, err := cbor.Marshal("0001")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := cbor.Unmarshal(text, &id); err == nil {
		t.Fatalf("text string must not decode as an object id")
	}
}
