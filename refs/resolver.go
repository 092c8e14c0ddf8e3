package refs

import (
	"context"
	"fmt"

	"github.com/ggoodman/xrce-agent-go/entities"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

// Lookuper finds profiles by name.
type Lookuper interface {
	Lookup(name string) (Profile, bool)
}

// Resolver is an entities.Factory that expands by-reference descriptors
// before delegating to the next factory. Other descriptors pass through.
type Resolver struct {
	profiles Lookuper
	next     entities.Factory
}

// NewResolver returns a Resolver backed by profiles. A nil next defaults to
// entities.Nop.
func NewResolver(profiles Lookuper, next entities.Factory) *Resolver {
	if next == nil {
		next = entities.Nop
	}
	return &Resolver{profiles: profiles, next: next}
}

func (r *Resolver) Instantiate(ctx context.Context, req entities.Request) (entities.Handle, error) {
	rep := req.Object.Representation
	if rep.Format != xrce.RepresentationByReference {
		return r.next.Instantiate(ctx, req)
	}
	p, ok := r.profiles.Lookup(rep.Reference)
	if !ok {
		return nil, &entities.InvalidDescriptorError{Kind: req.Object.Kind, Reason: fmt.Sprintf("unknown reference %q", rep.Reference)}
	}
	if p.Kind != req.Object.Kind {
		return nil, &entities.InvalidDescriptorError{Kind: req.Object.Kind, Reason: fmt.Sprintf("reference %q is a %s profile", rep.Reference, p.Kind)}
	}
	req.Object.Representation = xrce.Representation{
		Format:    xrce.RepresentationAsXMLString,
		Reference: rep.Reference,
		XML:       p.XML,
	}
	return r.next.Instantiate(ctx, req)
}

var _ entities.Factory = (*Resolver)(nil)
