package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/pflag"
)

// Config is the agent's runtime configuration.
type Config struct {
	LogLevel  string `env:"XRCE_LOG_LEVEL,default=info"`
	LogFormat string `env:"XRCE_LOG_FORMAT,default=text"`

	UDPAddr        string `env:"XRCE_UDP_ADDR,default=:8888"`
	MaxDatagram    int    `env:"XRCE_MAX_DATAGRAM,default=1500"`
	UDPConcurrency int    `env:"XRCE_UDP_CONCURRENCY,default=64"`

	// HTTPAddr serves WebSocket clients, the admin routes and /metrics.
	// Empty disables the HTTP listener.
	HTTPAddr    string   `env:"XRCE_HTTP_ADDR,default=:8080"`
	WSOrigins   []string `env:"XRCE_WS_ORIGINS"`
	WSReadLimit int64    `env:"XRCE_WS_READ_LIMIT,default=65536"`

	// RefsPath names the YAML file of reference profiles. Empty disables
	// by-reference creation.
	RefsPath string `env:"XRCE_REFS_PATH"`

	// SessionHost is "memory", "redis" or "none". The redis host reads its
	// own REDIS_ADDR and XRCE_SESSIONS_* variables.
	SessionHost string `env:"XRCE_SESSION_HOST,default=memory"`
	EventBuffer int    `env:"XRCE_EVENT_BUFFER,default=1024"`
	InstanceID  string `env:"XRCE_INSTANCE_ID"`

	// AuthIssuer enables token admission when set.
	AuthIssuer   string        `env:"XRCE_AUTH_ISSUER"`
	AuthAudience string        `env:"XRCE_AUTH_AUDIENCE"`
	AuthJWKSURL  string        `env:"XRCE_AUTH_JWKS_URL"`
	AuthScopes   []string      `env:"XRCE_AUTH_SCOPES"`
	AuthLeeway   time.Duration `env:"XRCE_AUTH_LEEWAY,default=60s"`

	ShutdownTimeout time.Duration `env:"XRCE_SHUTDOWN_TIMEOUT,default=5s"`
}

var commands = []string{"serve", "schema", "version"}

// parseArgs loads the environment, then applies flags explicitly given in
// args. It returns the selected command, "serve" when none is named.
func parseArgs(args []string) (Config, string, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, "", fmt.Errorf("environment: %w", err)
	}

	fs := pflag.NewFlagSet("xrce-agent", pflag.ContinueOnError)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.StringVar(&cfg.UDPAddr, "udp-addr", cfg.UDPAddr, "UDP listen address; empty disables UDP")
	fs.IntVar(&cfg.MaxDatagram, "max-datagram", cfg.MaxDatagram, "largest accepted datagram in bytes")
	fs.IntVar(&cfg.UDPConcurrency, "udp-concurrency", cfg.UDPConcurrency, "UDP peers served in parallel")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address for WebSocket, admin and metrics; empty disables HTTP")
	fs.StringSliceVar(&cfg.WSOrigins, "ws-origin", cfg.WSOrigins, "allowed cross-origin WebSocket host patterns")
	fs.Int64Var(&cfg.WSReadLimit, "ws-read-limit", cfg.WSReadLimit, "largest accepted WebSocket message in bytes")
	fs.StringVar(&cfg.RefsPath, "refs", cfg.RefsPath, "YAML file of reference profiles")
	fs.StringVar(&cfg.SessionHost, "session-host", cfg.SessionHost, "session directory: memory, redis or none")
	fs.IntVar(&cfg.EventBuffer, "event-buffer", cfg.EventBuffer, "pending session directory changes before dropping")
	fs.StringVar(&cfg.InstanceID, "instance-id", cfg.InstanceID, "agent instance id recorded in the session directory (default random)")
	fs.StringVar(&cfg.AuthIssuer, "auth-issuer", cfg.AuthIssuer, "OIDC issuer; enables token admission")
	fs.StringVar(&cfg.AuthAudience, "auth-audience", cfg.AuthAudience, "expected token audience")
	fs.StringVar(&cfg.AuthJWKSURL, "auth-jwks-url", cfg.AuthJWKSURL, "JWKS URL; skips OIDC discovery")
	fs.StringSliceVar(&cfg.AuthScopes, "auth-scope", cfg.AuthScopes, "scope every admission token must carry")
	fs.DurationVar(&cfg.AuthLeeway, "auth-leeway", cfg.AuthLeeway, "clock skew tolerated on token timestamps")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "grace period for HTTP connections on shutdown")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: xrce-agent [%s] [flags]\n\nFlags:\n", strings.Join(commands, "|"))
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, "", err
	}

	cmd := "serve"
	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		cmd = rest[0]
	default:
		return Config{}, "", fmt.Errorf("unexpected argument %q", rest[1])
	}
	if !isCommand(cmd) {
		return Config{}, "", fmt.Errorf("unknown command %q", cmd)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, cmd, nil
}

func isCommand(name string) bool {
	for _, c := range commands {
		if c == name {
			return true
		}
	}
	return false
}

func (c Config) validate() error {
	var problems []string
	if _, err := c.level(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log format %q: want text or json", c.LogFormat))
	}
	switch c.SessionHost {
	case "memory", "redis", "none":
	default:
		problems = append(problems, fmt.Sprintf("session host %q: want memory, redis or none", c.SessionHost))
	}
	if c.UDPAddr == "" && c.HTTPAddr == "" {
		problems = append(problems, "at least one of udp-addr or http-addr is required")
	}
	if c.MaxDatagram <= 0 {
		problems = append(problems, "max-datagram must be positive")
	}
	if c.AuthIssuer == "" && (c.AuthAudience != "" || c.AuthJWKSURL != "" || len(c.AuthScopes) > 0) {
		problems = append(problems, "auth settings require auth-issuer")
	}
	if c.AuthIssuer != "" && c.AuthAudience == "" {
		problems = append(problems, "auth-issuer requires auth-audience")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
