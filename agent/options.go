package agent

import (
	"log/slog"
	"time"

	"github.com/ggoodman/xrce-agent-go/auth"
	"github.com/ggoodman/xrce-agent-go/entities"
	"github.com/ggoodman/xrce-agent-go/sessions"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger used by the Agent and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// WithFactory sets the downstream entity factory. Defaults to entities.Nop.
func WithFactory(f entities.Factory) Option {
	return func(a *Agent) {
		if f != nil {
			a.factory = f
		}
	}
}

// WithMetrics sets the sink receiving operation metrics.
func WithMetrics(m MetricsSink) Option {
	return func(a *Agent) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithAuthenticator requires every admission to carry a token accepted by
// authn in the xrce.TokenProperty property.
func WithAuthenticator(authn auth.Authenticator) Option {
	return func(a *Agent) { a.authn = authn }
}

// WithHost mirrors session lifecycle changes into h. Run must be called for
// the mirror to make progress.
func WithHost(h sessions.Host) Option {
	return func(a *Agent) { a.host = h }
}

// WithEventBuffer sets the capacity of the directory queue. Defaults to 1024.
func WithEventBuffer(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.bufferSize = n
		}
	}
}

// WithSupportedVersion overrides the protocol version the Agent admits.
// Only the major component is compared.
func WithSupportedVersion(v xrce.Version) Option {
	return func(a *Agent) { a.version = v }
}

// WithInstanceID overrides the generated instance id recorded in the session
// directory.
func WithInstanceID(id string) Option {
	return func(a *Agent) {
		if id != "" {
			a.id = id
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}
