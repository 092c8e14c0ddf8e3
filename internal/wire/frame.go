package wire

import (
	"errors"
	"fmt"

	"github.com/ggoodman/xrce-agent-go/xrce"
)

// Op identifies the operation a frame carries.
type Op uint8

const (
	OpInvalid      Op = 0x00
	OpCreateClient Op = 0x01
	OpDeleteClient Op = 0x02
	OpCreate       Op = 0x03
	OpDelete       Op = 0x04
	OpStatus       Op = 0x05
)

func (o Op) String() string {
	switch o {
	case OpCreateClient:
		return "create_client"
	case OpDeleteClient:
		return "delete_client"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpStatus:
		return "status"
	default:
		return fmt.Sprintf("op(0x%02x)", uint8(o))
	}
}

// IsRequest reports whether o is an operation the agent serves.
func (o Op) IsRequest() bool {
	return o >= OpCreateClient && o <= OpDelete
}

// ErrUnknownOp is returned by DecodeFrame for an unrecognized operation.
var ErrUnknownOp = errors.New("wire: unknown op")

// ErrBodyMismatch is returned when a frame is asked for a body of the wrong
// operation.
var ErrBodyMismatch = errors.New("wire: body does not match op")

// Frame is the envelope of every datagram.
type Frame struct {
	Op        Op             `cbor:"1,keyasint"`
	RequestID xrce.RequestID `cbor:"2,keyasint"`
	ClientKey xrce.ClientKey `cbor:"3,keyasint"`
	Body      RawMessage     `cbor:"4,keyasint,omitempty"`
}

// CreateClientBody is the body of OpCreateClient.
type CreateClientBody struct {
	Cookie       xrce.Cookie       `cbor:"1,keyasint"`
	VersionMajor uint8             `cbor:"2,keyasint"`
	VersionMinor uint8             `cbor:"3,keyasint"`
	RootObjectID xrce.ObjectID     `cbor:"4,keyasint"`
	Properties   map[string]string `cbor:"5,keyasint,omitempty"`
}

// DeleteClientBody is the body of OpDeleteClient.
type DeleteClientBody struct {
	ObjectID xrce.ObjectID `cbor:"1,keyasint"`
}

// CreateBody is the body of OpCreate.
type CreateBody struct {
	ObjectID  xrce.ObjectID             `cbor:"1,keyasint"`
	Kind      xrce.ObjectKind           `cbor:"2,keyasint"`
	Parent    xrce.ObjectID             `cbor:"3,keyasint"`
	Reuse     bool                      `cbor:"4,keyasint,omitempty"`
	Replace   bool                      `cbor:"5,keyasint,omitempty"`
	Format    xrce.RepresentationFormat `cbor:"6,keyasint"`
	Reference string                    `cbor:"7,keyasint,omitempty"`
	XML       string                    `cbor:"8,keyasint,omitempty"`
	Binary    []byte                    `cbor:"9,keyasint,omitempty"`
}

// DeleteBody is the body of OpDelete.
type DeleteBody struct {
	ObjectID xrce.ObjectID `cbor:"1,keyasint"`
}

// StatusBody is the body of OpStatus.
type StatusBody struct {
	Status         xrce.LastOp     `cbor:"1,keyasint"`
	Implementation xrce.ImplStatus `cbor:"2,keyasint"`
}

// EncodeFrame encodes f.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s frame: %w", f.Op, err)
	}
	return data, nil
}

// DecodeFrame decodes the envelope of data. The body stays raw until one of
// the typed accessors is called.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	if !f.Op.IsRequest() && f.Op != OpStatus {
		return Frame{}, fmt.Errorf("%w: %s", ErrUnknownOp, f.Op)
	}
	return f, nil
}

func newFrame(op Op, id xrce.RequestID, key xrce.ClientKey, body any) (Frame, error) {
	raw, err := Marshal(body)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: encode %s body: %w", op, err)
	}
	return Frame{Op: op, RequestID: id, ClientKey: key, Body: raw}, nil
}

func (f Frame) decodeBody(want Op, v any) error {
	if f.Op != want {
		return fmt.Errorf("%w: have %s, want %s", ErrBodyMismatch, f.Op, want)
	}
	if len(f.Body) == 0 {
		return fmt.Errorf("wire: %s frame has no body", f.Op)
	}
	if err := Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("wire: decode %s body: %w", f.Op, err)
	}
	return nil
}

// NewCreateClientFrame builds the admission frame for req.
func NewCreateClientFrame(req *xrce.CreateClientRequest) (Frame, error) {
	return newFrame(OpCreateClient, req.RequestID, req.ClientKey, CreateClientBody{
		Cookie:       req.Cookie,
		VersionMajor: req.Version.Major,
		VersionMinor: req.Version.Minor,
		RootObjectID: req.RootObjectID,
		Properties:   req.Properties,
	})
}

// CreateClientRequest decodes an OpCreateClient frame. origin is recorded on
// the returned request.
func (f Frame) CreateClientRequest(origin string) (*xrce.CreateClientRequest, error) {
	var b CreateClientBody
	if err := f.decodeBody(OpCreateClient, &b); err != nil {
		return nil, err
	}
	return &xrce.CreateClientRequest{
		RequestID:    f.RequestID,
		ClientKey:    f.ClientKey,
		RootObjectID: b.RootObjectID,
		Cookie:       b.Cookie,
		Version:      xrce.Version{Major: b.VersionMajor, Minor: b.VersionMinor},
		Properties:   b.Properties,
		Origin:       origin,
	}, nil
}

// NewDeleteClientFrame builds the teardown frame for req.
func NewDeleteClientFrame(req *xrce.DeleteClientRequest) (Frame, error) {
	return newFrame(OpDeleteClient, req.RequestID, req.ClientKey, DeleteClientBody{ObjectID: req.ObjectID})
}

// DeleteClientRequest decodes an OpDeleteClient frame.
func (f Frame) DeleteClientRequest() (*xrce.DeleteClientRequest, error) {
	var b DeleteClientBody
	if err := f.decodeBody(OpDeleteClient, &b); err != nil {
		return nil, err
	}
	return &xrce.DeleteClientRequest{RequestID: f.RequestID, ClientKey: f.ClientKey, ObjectID: b.ObjectID}, nil
}

// NewCreateFrame builds an object creation frame addressed to key.
func NewCreateFrame(key xrce.ClientKey, mode xrce.CreationMode, req *xrce.CreateObjectRequest) (Frame, error) {
	rep := req.Object.Representation
	return newFrame(OpCreate, req.RequestID, key, CreateBody{
		ObjectID:  req.ObjectID,
		Kind:      req.Object.Kind,
		Parent:    req.Object.Parent,
		Reuse:     mode.Reuse,
		Replace:   mode.Replace,
		Format:    rep.Format,
		Reference: rep.Reference,
		XML:       rep.XML,
		Binary:    rep.Binary,
	})
}

// CreateRequest decodes an OpCreate frame.
func (f Frame) CreateRequest() (xrce.CreationMode, *xrce.CreateObjectRequest, error) {
	var b CreateBody
	if err := f.decodeBody(OpCreate, &b); err != nil {
		return xrce.CreationMode{}, nil, err
	}
	return xrce.CreationMode{Reuse: b.Reuse, Replace: b.Replace}, &xrce.CreateObjectRequest{
		RequestID: f.RequestID,
		ObjectID:  b.ObjectID,
		Object: xrce.ObjectVariant{
			Kind:   b.Kind,
			Parent: b.Parent,
			Representation: xrce.Representation{
				Format:    b.Format,
				Reference: b.Reference,
				XML:       b.XML,
				Binary:    b.Binary,
			},
		},
	}, nil
}

// NewDeleteFrame builds an object deletion frame addressed to key.
func NewDeleteFrame(key xrce.ClientKey, req *xrce.DeleteObjectRequest) (Frame, error) {
	return newFrame(OpDelete, req.RequestID, key, DeleteBody{ObjectID: req.ObjectID})
}

// DeleteRequest decodes an OpDelete frame.
func (f Frame) DeleteRequest() (*xrce.DeleteObjectRequest, error) {
	var b DeleteBody
	if err := f.decodeBody(OpDelete, &b); err != nil {
		return nil, err
	}
	return &xrce.DeleteObjectRequest{RequestID: f.RequestID, ObjectID: b.ObjectID}, nil
}

// NewStatusFrame builds the response frame for res.
func NewStatusFrame(key xrce.ClientKey, res xrce.ResultStatus) (Frame, error) {
	return newFrame(OpStatus, res.RequestID, key, StatusBody{Status: res.Status, Implementation: res.Implementation})
}

// Result decodes an OpStatus frame.
func (f Frame) Result() (xrce.ResultStatus, error) {
	var b StatusBody
	if err := f.decodeBody(OpStatus, &b); err != nil {
		return xrce.ResultStatus{}, err
	}
	return xrce.NewResultStatus(f.RequestID, b.Status, b.Implementation), nil
}

// LastOp returns the status tag a response to op carries.
func (o Op) LastOp() xrce.LastOp {
	switch o {
	case OpCreateClient, OpCreate:
		return xrce.StatusLastOpCreate
	case OpDeleteClient, OpDelete:
		return xrce.StatusLastOpDelete
	default:
		return xrce.StatusLastOpNone
	}
}
