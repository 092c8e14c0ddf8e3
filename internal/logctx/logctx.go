package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with request, client and object attributes found
// in the context passed to the logger.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.Int("id", int(rd.RequestID)),
			slog.String("op", rd.Op),
			slog.String("origin", rd.Origin),
			slog.String("transport", rd.Transport),
		))
	}

	if cd, ok := ctx.Value(clientDataKey{}).(*ClientData); ok {
		r.AddAttrs(slog.Group("client",
			slog.String("key", cd.ClientKey),
			slog.String("version", cd.Version),
			slog.String("subject", cd.Subject),
		))
	}

	if od, ok := ctx.Value(objectDataKey{}).(*ObjectData); ok {
		r.AddAttrs(slog.Group("object",
			slog.String("id", od.ObjectID),
			slog.String("kind", od.Kind),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type requestDataKey struct{}

type RequestData struct {
	RequestID uint16
	Op        string
	Origin    string
	Transport string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type clientDataKey struct{}

type ClientData struct {
	ClientKey string
	Version   string
	Subject   string
}

func WithClientData(ctx context.Context, data *ClientData) context.Context {
	return context.WithValue(ctx, clientDataKey{}, data)
}

type objectDataKey struct{}

type ObjectData struct {
	ObjectID string
	Kind     string
}

func WithObjectData(ctx context.Context, data *ObjectData) context.Context {
	return context.WithValue(ctx, objectDataKey{}, data)
}
