package udp

import "log/slog"

// Option customizes a Server.
type Option func(*Server)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMaxDatagramSize sets the read buffer size. Larger datagrams are
// truncated by the kernel and then fail to decode. Defaults to 1500.
func WithMaxDatagramSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxDatagram = n
		}
	}
}

// WithConcurrency bounds how many peers are served at once. Each peer's
// datagrams are handled in order by a single worker. Defaults to 64.
func WithConcurrency(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPeerQueue sets how many datagrams may wait behind the one being handled
// for the same peer. Further datagrams are dropped. Defaults to 32.
func WithPeerQueue(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.peerQueue = n
		}
	}
}
