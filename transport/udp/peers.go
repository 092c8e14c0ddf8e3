package udp

import "sync"

// peerQueues holds the pending frames of every peer that has a worker.
type peerQueues struct {
	mu sync.Mutex
	m  map[string]chan []byte
}

func newPeerQueues() *peerQueues {
	return &peerQueues{m: make(map[string]chan []byte)}
}

// offer queues frame behind the peer's pending frames. active is false when
// the peer has no worker; dropped is true when its queue is full.
func (p *peerQueues) offer(id string, frame []byte) (active, dropped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.m[id]
	if !ok {
		return false, false
	}
	select {
	case q <- frame:
		return true, false
	default:
		return true, true
	}
}

// start registers a queue for id holding frame. Only the read loop calls it.
func (p *peerQueues) start(id string, frame []byte, depth int) chan []byte {
	q := make(chan []byte, depth)
	q <- frame
	p.mu.Lock()
	p.m[id] = q
	p.mu.Unlock()
	return q
}

// next returns the peer's next frame. When none is pending it unregisters
// the queue and reports false.
func (p *peerQueues) next(id string, q chan []byte) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case frame := <-q:
		return frame, true
	default:
		delete(p.m, id)
		return nil, false
	}
}
