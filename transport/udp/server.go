package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ggoodman/xrce-agent-go/dispatch"
)

// Handler processes one inbound frame and returns the reply, if any.
type Handler interface {
	Handle(ctx context.Context, origin dispatch.Origin, frame []byte) ([]byte, error)
}

// Server is a UDP datagram server.
type Server struct {
	handler     Handler
	log         *slog.Logger
	maxDatagram int
	concurrency int
	peerQueue   int
}

// New returns a Server delivering datagrams to h.
func New(h Handler, opts ...Option) *Server {
	s := &Server{
		handler:     h,
		log:         slog.Default(),
		maxDatagram: 1500,
		concurrency: 64,
		peerQueue:   32,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", addr, err)
	}
	return s.Serve(ctx, conn)
}

// Serve reads datagrams from conn until ctx ends. Serve closes conn.
// Datagrams from one peer address are handled one at a time in arrival
// order; different peers are handled concurrently.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = conn.Close()
		close(closed)
	}()

	s.log.InfoContext(ctx, "udp transport listening", slog.String("addr", conn.LocalAddr().String()))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)
	peers := newPeerQueues()
	defer wg.Wait()

	buf := make([]byte, s.maxDatagram)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				cancel()
				<-closed
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("udp read: %w", err)
		}
		frame := append([]byte(nil), buf[:n]...)
		id := peer.String()

		if active, dropped := peers.offer(id, frame); active {
			if dropped {
				s.log.WarnContext(ctx, "udp peer queue full; dropping datagram", slog.String("peer", id))
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}
		q := peers.start(id, frame, s.peerQueue)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			for {
				frame, ok := peers.next(id, q)
				if !ok {
					return
				}
				s.handle(ctx, conn, peer, frame)
			}
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.PacketConn, peer net.Addr, frame []byte) {
	origin := dispatch.Origin{Transport: "udp", Addr: peer.String()}
	reply, err := s.handler.Handle(ctx, origin, frame)
	if err != nil {
		s.log.DebugContext(ctx, "udp frame dropped", slog.String("peer", origin.Addr), slog.String("err", err.Error()))
		return
	}
	if len(reply) == 0 {
		return
	}
	if _, err := conn.WriteTo(reply, peer); err != nil && ctx.Err() == nil {
		s.log.WarnContext(ctx, "udp write failed", slog.String("peer", origin.Addr), slog.String("err", err.Error()))
	}
}
