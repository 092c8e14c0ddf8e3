package xrce

import (
	"encoding/hex"
	"fmt"
)

// ClientKey identifies an admitted client session. It is chosen by the client
// in its admission request and is unique among the sessions currently
// admitted by an agent.
type ClientKey [4]byte

// ParseClientKey parses the hexadecimal form produced by ClientKey.String.
func ParseClientKey(s string) (ClientKey, error) {
	var k ClientKey
	if err := decodeFixedHex(k[:], s); err != nil {
		return ClientKey{}, fmt.Errorf("invalid client key %q: %w", s, err)
	}
	return k, nil
}

func (k ClientKey) String() string { return hex.EncodeToString(k[:]) }

// MarshalText renders the key as lower-case hex, which keeps JSON output and
// log attributes readable.
func (k ClientKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses the hex form written by MarshalText.
func (k *ClientKey) UnmarshalText(b []byte) error {
	parsed, err := ParseClientKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ObjectID identifies an object within one client session. The same value may
// be used independently by different sessions.
type ObjectID [2]byte

// ParseObjectID parses the hexadecimal form produced by ObjectID.String.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	if err := decodeFixedHex(id[:], s); err != nil {
		return ObjectID{}, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return id, nil
}

func (id ObjectID) String() string { return hex.EncodeToString(id[:]) }

// MarshalText renders the id as lower-case hex.
func (id ObjectID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText parses the hex form written by MarshalText.
func (id *ObjectID) UnmarshalText(b []byte) error {
	parsed, err := ParseObjectID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func decodeFixedHex(dst []byte, s string) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("want %d hex characters, got %d", hex.EncodedLen(len(dst)), len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}

// RequestID is the caller-chosen identifier echoed in every ResultStatus.
type RequestID uint16

// Cookie is the magic value carried by admission requests.
type Cookie [2]byte

// ExpectedCookie is the only cookie value an agent accepts.
var ExpectedCookie = Cookie{'X', 'R'}

// Version is a protocol (major, minor) pair.
type Version struct {
	Major uint8 `json:"major"`
	Minor uint8 `json:"minor"`
}

// SupportedVersion is the protocol version implemented by this module.
var SupportedVersion = Version{Major: 0x01, Minor: 0x00}

// CompatibleWith reports whether v can talk to an agent implementing other.
// Only the major component matters.
func (v Version) CompatibleWith(other Version) bool { return v.Major == other.Major }

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// ObjectKind tags the entity an object descriptor refers to.
type ObjectKind uint8

const (
	ObjectKindInvalid     ObjectKind = 0x00
	ObjectKindParticipant ObjectKind = 0x01
	ObjectKindTopic       ObjectKind = 0x02
	ObjectKindPublisher   ObjectKind = 0x03
	ObjectKindSubscriber  ObjectKind = 0x04
	ObjectKindDataWriter  ObjectKind = 0x05
	ObjectKindDataReader  ObjectKind = 0x06
	ObjectKindType        ObjectKind = 0x0A
	ObjectKindQosProfile  ObjectKind = 0x0B
	ObjectKindApplication ObjectKind = 0x0C
)

var objectKindNames = map[ObjectKind]string{
	ObjectKindParticipant: "participant",
	ObjectKindTopic:       "topic",
	ObjectKindPublisher:   "publisher",
	ObjectKindSubscriber:  "subscriber",
	ObjectKindDataWriter:  "datawriter",
	ObjectKindDataReader:  "datareader",
	ObjectKindType:        "type",
	ObjectKindQosProfile:  "qos_profile",
	ObjectKindApplication: "application",
}

// Valid reports whether k is one of the defined entity kinds.
func (k ObjectKind) Valid() bool {
	_, ok := objectKindNames[k]
	return ok
}

func (k ObjectKind) String() string {
	if name, ok := objectKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(0x%02x)", uint8(k))
}

// MarshalText renders the kind by name.
func (k ObjectKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText accepts the names written by MarshalText.
func (k *ObjectKind) UnmarshalText(b []byte) error {
	v, err := ParseObjectKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseObjectKind maps the names returned by ObjectKind.String back to kinds.
func ParseObjectKind(s string) (ObjectKind, error) {
	for k, name := range objectKindNames {
		if name == s {
			return k, nil
		}
	}
	return ObjectKindInvalid, fmt.Errorf("unknown object kind %q", s)
}

// CreationMode governs what happens when a create targets an object id that
// is already present in the session.
type CreationMode struct {
	Reuse   bool `json:"reuse"`
	Replace bool `json:"replace"`
}

// RepresentationFormat selects how an object descriptor is expressed.
type RepresentationFormat uint8

const (
	RepresentationByReference RepresentationFormat = 0x01
	RepresentationAsXMLString RepresentationFormat = 0x02
	RepresentationInBinary    RepresentationFormat = 0x03
)

func (f RepresentationFormat) String() string {
	switch f {
	case RepresentationByReference:
		return "reference"
	case RepresentationAsXMLString:
		return "xml"
	case RepresentationInBinary:
		return "binary"
	default:
		return fmt.Sprintf("format(0x%02x)", uint8(f))
	}
}

// Representation is the payload of an object descriptor. Exactly one of
// Reference, XML or Binary is meaningful, as selected by Format.
type Representation struct {
	Format    RepresentationFormat `json:"format"`
	Reference string               `json:"reference,omitempty"`
	XML       string               `json:"xml,omitempty"`
	Binary    []byte               `json:"binary,omitempty"`
}

// ObjectVariant is the kind-tagged descriptor of an entity. Beyond Kind the
// agent treats it as opaque and hands it to the entity factory.
type ObjectVariant struct {
	Kind           ObjectKind     `json:"kind"`
	Parent         ObjectID       `json:"parent"`
	Representation Representation `json:"representation"`
}
