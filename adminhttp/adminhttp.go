// Package adminhttp exposes a read-only operator view of a running agent:
// liveness, the local session table, and, when a session host is attached,
// the shared directory of sessions across agents.
//
// Every JSON route also renders as text/plain; the representation is chosen
// from the request's Accept header.
package adminhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/ggoodman/xrce-agent-go/agent"
	"github.com/ggoodman/xrce-agent-go/sessions"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

var (
	jsonMediaType      = contenttype.NewMediaType("application/json")
	textMediaType      = contenttype.NewMediaType("text/plain")
	renderedMediaTypes = []contenttype.MediaType{jsonMediaType, textMediaType}
)

// Agent is the read side of *agent.Agent the handler reports on.
type Agent interface {
	ID() string
	Clients() []agent.ClientInfo
	Client(key xrce.ClientKey) (*agent.ProxyClient, bool)
	Len() int
	Objects() int
	Dropped() int64
}

var _ Agent = (*agent.Agent)(nil)

// Handler serves the admin routes.
type Handler struct {
	agent   Agent
	host    sessions.Host
	metrics http.Handler
	log     *slog.Logger
	mux     *http.ServeMux
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

// WithHost enables GET /v1/directory backed by host.
func WithHost(host sessions.Host) Option {
	return func(h *Handler) { h.host = host }
}

// WithMetricsHandler mounts m at GET /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// New returns a Handler reporting on a.
func New(a Agent, opts ...Option) *Handler {
	h := &Handler{agent: a, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /v1/clients", h.handleListClients)
	mux.HandleFunc("GET /v1/clients/{key}", h.handleGetClient)
	if h.host != nil {
		mux.HandleFunc("GET /v1/directory", h.handleDirectory)
	}
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Health is the body of GET /healthz.
type Health struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id"`
	Clients int    `json:"clients"`
	Objects int    `json:"objects"`
	Dropped int64  `json:"directory_events_dropped"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := Health{
		Status:  "ok",
		AgentID: h.agent.ID(),
		Clients: h.agent.Len(),
		Objects: h.agent.Objects(),
		Dropped: h.agent.Dropped(),
	}
	h.render(w, r, http.StatusOK, body, func(tw io.Writer) {
		fmt.Fprintf(tw, "status\t%s\n", body.Status)
		fmt.Fprintf(tw, "agent\t%s\n", body.AgentID)
		fmt.Fprintf(tw, "clients\t%d\n", body.Clients)
		fmt.Fprintf(tw, "objects\t%d\n", body.Objects)
		fmt.Fprintf(tw, "dropped\t%d\n", body.Dropped)
	})
}

func (h *Handler) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients := h.agent.Clients()
	h.render(w, r, http.StatusOK, clients, func(tw io.Writer) {
		fmt.Fprintln(tw, "KEY\tVERSION\tORIGIN\tSUBJECT\tOBJECTS\tADMITTED")
		for _, c := range clients {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", c.Key, c.Version, dash(c.Origin), dash(c.Subject), len(c.Objects), c.AdmittedAt.UTC().Format(time.RFC3339))
		}
	})
}

func (h *Handler) handleGetClient(w http.ResponseWriter, r *http.Request) {
	key, err := xrce.ParseClientKey(r.PathValue("key"))
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, err)
		return
	}
	c, ok := h.agent.Client(key)
	if !ok {
		h.renderError(w, r, http.StatusNotFound, fmt.Errorf("client %s not found", key))
		return
	}
	info := c.Info()
	h.render(w, r, http.StatusOK, info, func(tw io.Writer) {
		fmt.Fprintf(tw, "key\t%s\n", info.Key)
		fmt.Fprintf(tw, "root\t%s\n", info.RootObjectID)
		fmt.Fprintf(tw, "version\t%s\n", info.Version)
		fmt.Fprintf(tw, "state\t%s\n", info.State)
		fmt.Fprintf(tw, "origin\t%s\n", dash(info.Origin))
		fmt.Fprintf(tw, "subject\t%s\n", dash(info.Subject))
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "ID\tKIND\tPARENT\tFORMAT")
		for _, o := range info.Objects {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.ID, o.Kind, o.Parent, o.Format)
		}
	})
}

func (h *Handler) handleDirectory(w http.ResponseWriter, r *http.Request) {
	records, err := h.host.ListClients(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "directory list failed", slog.String("err", err.Error()))
		h.renderError(w, r, http.StatusBadGateway, errors.New("session directory unavailable"))
		return
	}
	h.render(w, r, http.StatusOK, records, func(tw io.Writer) {
		fmt.Fprintln(tw, "KEY\tAGENT\tVERSION\tOBJECTS\tUPDATED")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", rec.ClientKey, rec.AgentID, rec.Version, rec.Objects, rec.UpdatedAt.UTC().Format(time.RFC3339))
		}
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := errorBody{Error: err.Error()}
	h.render(w, r, status, body, func(tw io.Writer) {
		fmt.Fprintln(tw, body.Error)
	})
}

// render writes v as JSON or runs text against a tabwriter, whichever the
// client accepts. Unacceptable requests get 406 with no body.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, v any, text func(io.Writer)) {
	mt, _, err := contenttype.GetAcceptableMediaType(r, renderedMediaTypes)
	if err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	if mt.Subtype == textMediaType.Subtype {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		text(tw)
		if err := tw.Flush(); err != nil {
			h.log.DebugContext(r.Context(), "write response failed", slog.String("err", err.Error()))
		}
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.DebugContext(r.Context(), "write response failed", slog.String("err", err.Error()))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
