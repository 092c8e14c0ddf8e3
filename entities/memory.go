package entities

import (
	"context"
	"sync"

	"github.com/ggoodman/xrce-agent-go/xrce"
)

// Memory is an in-process Factory that records every live entity. It backs
// tests and single-process deployments where no downstream middleware is
// attached but operators still want to see what clients created.
type Memory struct {
	mu   sync.Mutex
	live map[xrce.ClientKey]map[*memoryHandle]struct{}

	// Fail, when set, is consulted before every instantiation; a non-nil
	// return aborts it.
	Fail func(req Request) error
}

// NewMemory returns an empty Memory factory.
func NewMemory() *Memory {
	return &Memory{live: make(map[xrce.ClientKey]map[*memoryHandle]struct{})}
}

type memoryHandle struct {
	m    *Memory
	req  Request
	once sync.Once
}

func (h *memoryHandle) Release(ctx context.Context) error {
	h.once.Do(func() {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		set := h.m.live[h.req.ClientKey]
		delete(set, h)
		if len(set) == 0 {
			delete(h.m.live, h.req.ClientKey)
		}
	})
	return nil
}

// Instantiate records req as live and returns its handle.
func (m *Memory) Instantiate(ctx context.Context, req Request) (Handle, error) {
	if m.Fail != nil {
		if err := m.Fail(req); err != nil {
			return nil, err
		}
	}
	h := &memoryHandle{m: m, req: req}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.live[req.ClientKey]
	if !ok {
		set = make(map[*memoryHandle]struct{})
		m.live[req.ClientKey] = set
	}
	set[h] = struct{}{}
	return h, nil
}

// Live returns the descriptors currently instantiated for key.
func (m *Memory) Live(key xrce.ClientKey) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.live[key]))
	for h := range m.live[key] {
		out = append(out, h.req)
	}
	return out
}

// Count returns the total number of live entities across all clients.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, set := range m.live {
		n += len(set)
	}
	return n
}
