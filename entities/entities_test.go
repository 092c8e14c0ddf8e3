package entities

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ggoodman/xrce-agent-go/xrce"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want xrce.ImplStatus
	}{
		{"nil", nil, xrce.StatusOK},
		{"invalid", &InvalidDescriptorError{Kind: xrce.ObjectKindTopic, Reason: "bad"}, xrce.StatusErrInvalidData},
		{"wrapped invalid", fmt.Errorf("topic: %w", &InvalidDescriptorError{Reason: "bad"}), xrce.StatusErrInvalidData},
		{"resources", &ResourceError{Err: errors.New("no memory")}, xrce.StatusErrResources},
		{"other", errors.New("boom"), xrce.StatusErrResources},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.want {
				t.Fatalf("Status(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMemoryTracksLiveHandles(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := xrce.ClientKey{1, 2, 3, 4}

	h1, err := m.Instantiate(ctx, Request{ClientKey: key, ObjectID: xrce.ObjectID{0, 1}})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	h2, err := m.Instantiate(ctx, Request{ClientKey: key, ObjectID: xrce.ObjectID{0, 2}})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if got := len(m.Live(key)); got != 2 {
		t.Fatalf("live = %d, want 2", got)
	}

	if err := h1.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Releasing twice is harmless.
	_ = h1.Release(ctx)
	if got := m.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	_ = h2.Release(ctx)
	if got := m.Count(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}

func TestMemoryFailHook(t *testing.T) {
	m := NewMemory()
	m.Fail = func(req Request) error {
		return &ResourceError{Kind: req.Object.Kind, Err: errors.New("exhausted")}
	}
	_, err := m.Instantiate(context.Background(), Request{Object: xrce.ObjectVariant{Kind: xrce.ObjectKindPublisher}})
	var re *ResourceError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResourceError, got %v", err)
	}
	if m.Count() != 0 {
		t.Fatalf("failed instantiation must not be tracked")
	}
}
