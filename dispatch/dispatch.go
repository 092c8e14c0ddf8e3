// Package dispatch turns decoded wire frames into Agent calls and encodes
// the resulting status frames. It is shared by every transport.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/xrce-agent-go/agent"
	"github.com/ggoodman/xrce-agent-go/internal/logctx"
	"github.com/ggoodman/xrce-agent-go/internal/wire"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

// Agent is the subset of *agent.Agent the dispatcher drives.
type Agent interface {
	CreateClient(ctx context.Context, req *xrce.CreateClientRequest) xrce.ResultStatus
	DeleteClient(ctx context.Context, req *xrce.DeleteClientRequest) xrce.ResultStatus
	CreateObject(ctx context.Context, key xrce.ClientKey, mode xrce.CreationMode, req *xrce.CreateObjectRequest) xrce.ResultStatus
	DeleteObject(ctx context.Context, key xrce.ClientKey, req *xrce.DeleteObjectRequest) xrce.ResultStatus
}

var _ Agent = (*agent.Agent)(nil)

// Origin identifies the peer a frame arrived from.
type Origin struct {
	// Transport is a short name such as "udp" or "ws".
	Transport string
	// Addr is the peer address as reported by the transport.
	Addr string
}

func (o Origin) String() string {
	if o.Transport == "" {
		return o.Addr
	}
	return o.Transport + "://" + o.Addr
}

// Dispatcher routes frames to an Agent.
type Dispatcher struct {
	agent Agent
	log   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// New returns a Dispatcher serving a.
func New(a Agent, opts ...Option) *Dispatcher {
	d := &Dispatcher{agent: a, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle decodes frame, routes it and returns the encoded status frame.
// Undecodable frames and non-request frames return an error and no
// response. A request frame whose body cannot be decoded is answered with
// ERR_INVALID_DATA.
func (d *Dispatcher) Handle(ctx context.Context, origin Origin, frame []byte) ([]byte, error) {
	f, err := wire.DecodeFrame(frame)
	if err != nil {
		d.log.DebugContext(ctx, "dropping undecodable frame", slog.String("origin", origin.String()), slog.String("err", err.Error()))
		return nil, err
	}
	if !f.Op.IsRequest() {
		return nil, fmt.Errorf("dispatch: unexpected %s frame", f.Op)
	}

	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{
		RequestID: uint16(f.RequestID),
		Op:        f.Op.String(),
		Origin:    origin.Addr,
		Transport: origin.Transport,
	})

	res := d.route(ctx, origin, f)
	out, err := wire.NewStatusFrame(f.ClientKey, res)
	if err != nil {
		return nil, err
	}
	data, err := wire.EncodeFrame(out)
	if err != nil {
		return nil, err
	}
	d.log.DebugContext(ctx, "request handled", slog.String("result", res.String()))
	return data, nil
}

func (d *Dispatcher) route(ctx context.Context, origin Origin, f wire.Frame) xrce.ResultStatus {
	invalid := func(err error) xrce.ResultStatus {
		d.log.InfoContext(ctx, "rejecting malformed body", slog.String("err", err.Error()))
		return xrce.NewResultStatus(f.RequestID, f.Op.LastOp(), xrce.StatusErrInvalidData)
	}

	switch f.Op {
	case wire.OpCreateClient:
		req, err := f.CreateClientRequest(origin.String())
		if err != nil {
			return invalid(err)
		}
		return d.agent.CreateClient(ctx, req)
	case wire.OpDeleteClient:
		req, err := f.DeleteClientRequest()
		if err != nil {
			return invalid(err)
		}
		return d.agent.DeleteClient(ctx, req)
	case wire.OpCreate:
		mode, req, err := f.CreateRequest()
		if err != nil {
			return invalid(err)
		}
		return d.agent.CreateObject(ctx, f.ClientKey, mode, req)
	case wire.OpDelete:
		req, err := f.DeleteRequest()
		if err != nil {
			return invalid(err)
		}
		return d.agent.DeleteObject(ctx, f.ClientKey, req)
	default:
		// IsRequest was checked by the caller.
		panic(fmt.Sprintf("dispatch: unroutable op %s", f.Op))
	}
}
