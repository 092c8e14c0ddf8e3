// Package ws serves the agent over WebSocket: every binary message carries
// one CBOR frame and is answered with at most one binary status message.
// Text messages close the connection with StatusUnsupportedData.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ggoodman/xrce-agent-go/dispatch"
)

// Subprotocol is the WebSocket subprotocol the handler negotiates.
const Subprotocol = "xrce.cbor"

// FrameHandler processes one inbound frame and returns the reply, if any.
type FrameHandler interface {
	Handle(ctx context.Context, origin dispatch.Origin, frame []byte) ([]byte, error)
}

// Handler is an http.Handler upgrading requests to WebSocket sessions.
type Handler struct {
	frames         FrameHandler
	log            *slog.Logger
	readLimit      int64
	originPatterns []string
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithReadLimit caps the size of a single message. Defaults to 64KiB.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients whose Origin host
// matches one of the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.originPatterns = append([]string(nil), patterns...)
	}
}

// New returns a Handler delivering frames to fh.
func New(fh FrameHandler, opts ...Option) *Handler {
	h := &Handler{frames: fh, log: slog.Default(), readLimit: 64 << 10}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.DebugContext(r.Context(), "websocket accept failed", slog.String("err", err.Error()))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	origin := dispatch.Origin{Transport: "ws", Addr: r.RemoteAddr}
	ctx := r.Context()
	h.log.DebugContext(ctx, "websocket session opened", slog.String("peer", origin.Addr))

	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return
			}
			h.log.DebugContext(ctx, "websocket read ended", slog.String("peer", origin.Addr), slog.String("err", err.Error()))
			return
		}
		if typ != websocket.MessageBinary {
			_ = conn.Close(websocket.StatusUnsupportedData, "binary frames only")
			return
		}
		reply, err := h.frames.Handle(ctx, origin, msg)
		if err != nil {
			h.log.DebugContext(ctx, "websocket frame dropped", slog.String("peer", origin.Addr), slog.String("err", err.Error()))
			continue
		}
		if len(reply) == 0 {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageBinary, reply); err != nil {
			h.log.DebugContext(ctx, "websocket write failed", slog.String("peer", origin.Addr), slog.String("err", err.Error()))
			return
		}
	}
}
