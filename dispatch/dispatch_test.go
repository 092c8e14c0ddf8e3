package dispatch

import (
	"context"
	"testing"

	"github.com/ggoodman/xrce-agent-go/agent"
	"github.com/ggoodman/xrce-agent-go/entities"
	"github.com/ggoodman/xrce-agent-go/internal/wire"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

var (
	key    = xrce.ClientKey{0x01, 0x02, 0x03, 0x04}
	origin = Origin{Transport: "test", Addr: "peer-1"}
)

func send(t *testing.T, d *Dispatcher, f wire.Frame, err error) xrce.ResultStatus {
	t.Helper()
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	data, err := wire.EncodeFrame(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	reply, err := d.Handle(context.Background(), origin, data)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	rf, err := wire.DecodeFrame(reply)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if rf.Op != wire.OpStatus || rf.ClientKey != f.ClientKey {
		t.Fatalf("unexpected reply envelope: %+v", rf)
	}
	res, err := rf.Result()
	if err != nil {
		t.Fatalf("reply result: %v", err)
	}
	if res.RequestID != f.RequestID {
		t.Fatalf("request id not echoed: got %d want %d", res.RequestID, f.RequestID)
	}
	return res
}

func TestDispatcherRoutesLifecycle(t *testing.T) {
	mem := entities.NewMemory()
	a := agent.New(agent.WithFactory(mem))
	d := New(a)

	tests := []struct {
		name  string
		build func() (wire.Frame, error)
		op    xrce.LastOp
		want  xrce.ImplStatus
	}{
		{"admit", func() (wire.Frame, error) {
			return wire.NewCreateClientFrame(&xrce.CreateClientRequest{RequestID: 1, ClientKey: key, Cookie: xrce.ExpectedCookie, Version: xrce.SupportedVersion})
		}, xrce.StatusLastOpCreate, xrce.StatusOK},
		{"create", func() (wire.Frame, error) {
			return wire.NewCreateFrame(key, xrce.CreationMode{}, &xrce.CreateObjectRequest{RequestID: 2, ObjectID: xrce.ObjectID{0, 1}, Object: xrce.ObjectVariant{Kind: xrce.ObjectKindParticipant}})
		}, xrce.StatusLastOpCreate, xrce.StatusOK},
		{"duplicate create", func() (wire.Frame, error) {
			return wire.NewCreateFrame(key, xrce.CreationMode{}, &xrce.CreateObjectRequest{RequestID: 3, ObjectID: xrce.ObjectID{0, 1}, Object: xrce.ObjectVariant{Kind: xrce.ObjectKindParticipant}})
		}, xrce.StatusLastOpCreate, xrce.StatusErrAlreadyExists},
		{"delete unknown object", func() (wire.Frame, error) {
			return wire.NewDeleteFrame(key, &xrce.DeleteObjectRequest{RequestID: 4, ObjectID: xrce.ObjectID{0, 9}})
		}, xrce.StatusLastOpDelete, xrce.StatusErrUnknownReference},
		{"delete object", func() (wire.Frame, error) {
			return wire.NewDeleteFrame(key, &xrce.DeleteObjectRequest{RequestID: 5, ObjectID: xrce.ObjectID{0, 1}})
		}, xrce.StatusLastOpDelete, xrce.StatusOK},
		{"delete client", func() (wire.Frame, error) {
			return wire.NewDeleteClientFrame(&xrce.DeleteClientRequest{RequestID: 6, ClientKey: key})
		}, xrce.StatusLastOpDelete, xrce.StatusOK},
		{"delete client again", func() (wire.Frame, error) {
			return wire.NewDeleteClientFrame(&xrce.DeleteClientRequest{RequestID: 7, ClientKey: key})
		}, xrce.StatusLastOpDelete, xrce.StatusErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.build()
			res := send(t, d, f, err)
			if res.Status != tt.op || res.Implementation != tt.want {
				t.Fatalf("want %s/%s, got %s", tt.op, tt.want, res)
			}
		})
	}
}

func TestDispatcherRecordsOrigin(t *testing.T) {
	a := agent.New()
	d := New(a)
	f, err := wire.NewCreateClientFrame(&xrce.CreateClientRequest{ClientKey: key, Cookie: xrce.ExpectedCookie, Version: xrce.SupportedVersion})
	send(t, d, f, err)

	c, ok := a.Client(key)
	if !ok {
		t.Fatalf("client not admitted")
	}
	if got := c.Info().Origin; got != "test://peer-1" {
		t.Fatalf("want origin test://peer-1, got %q", got)
	}
}

func TestDispatcherMalformedBody(t *testing.T) {
	d := New(agent.New())
	// A valid envelope whose body is a CBOR text string, not a map.
	body, err := wire.Marshal("not a body")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f := wire.Frame{Op: wire.OpDelete, RequestID: 11, ClientKey: key, Body: body}
	res := send(t, d, f, nil)
	if res.Status != xrce.StatusLastOpDelete || res.Implementation != xrce.StatusErrInvalidData {
		t.Fatalf("want DELETE/ERR_INVALID_DATA, got %s", res)
	}

	// Missing body entirely.
	f = wire.Frame{Op: wire.OpCreateClient, RequestID: 12, ClientKey: key}
	res = send(t, d, f, nil)
	if res.Status != xrce.StatusLastOpCreate || res.Implementation != xrce.StatusErrInvalidData {
		t.Fatalf("want CREATE/ERR_INVALID_DATA, got %s", res)
	}
}

func TestDispatcherRejectsUndecodable(t *testing.T) {
	d := New(agent.New())
	if reply, err := d.Handle(context.Background(), origin, []byte("garbage")); err == nil || reply != nil {
		t.Fatalf("expected error and no reply, got %x, %v", reply, err)
	}

	status, err := wire.NewStatusFrame(key, xrce.NewResultStatus(1, xrce.StatusLastOpCreate, xrce.StatusOK))
	if err != nil {
		t.Fatalf("status frame: %v", err)
	}
	data, err := wire.EncodeFrame(status)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if reply, err := d.Handle(context.Background(), origin, data); err == nil || reply != nil {
		t.Fatalf("status frames must not be answered")
	}
}

func rawAdmission(t *testing.T, k, cookie []byte) []byte {
	t.Helper()
	body, err := wire.Marshal(map[int]any{1: cookie, 2: 1, 3: 0, 4: []byte{0, 1}})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	data, err := wire.Marshal(map[int]any{1: uint8(wire.OpCreateClient), 2: uint16(21), 3: k, 4: wire.RawMessage(body)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestDispatcherRejectsWrongLengthFields(t *testing.T) {
	t.Run("long cookie", func(t *testing.T) {
		a := agent.New()
		d := New(a)
		reply, err := d.Handle(context.Background(), origin, rawAdmission(t, key[:], []byte("XRZZ")))
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		rf, err := wire.DecodeFrame(reply)
		if err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		res, err := rf.Result()
		if err != nil {
			t.Fatalf("reply result: %v", err)
		}
		if res.Status != xrce.StatusLastOpCreate || res.Implementation != xrce.StatusErrInvalidData || res.RequestID != 21 {
			t.Fatalf("want CREATE/ERR_INVALID_DATA for request 21, got %s", res)
		}
		if a.Len() != 0 {
			t.Fatalf("cookie XRZZ must not admit a session")
		}
	})

	keys := []struct {
		name string
		key  []byte
	}{
		{"short key", []byte{0x01}},
		{"long key", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}},
	}
	for _, tt := range keys {
		t.Run(tt.name, func(t *testing.T) {
			a := agent.New()
			d := New(a)
			reply, err := d.Handle(context.Background(), origin, rawAdmission(t, tt.key, []byte("XR")))
			if err == nil || reply != nil {
				t.Fatalf("expected error and no reply, got %x, %v", reply, err)
			}
			if a.Len() != 0 {
				t.Fatalf("no session may be admitted, have %v", a.Clients())
			}
			for _, alias := range []xrce.ClientKey{{0x01, 0, 0, 0}, key} {
				if _, ok := a.Client(alias); ok {
					t.Fatalf("key %x aliased to session %s", tt.key, alias)
				}
			}
		})
	}
}
