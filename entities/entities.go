// Package entities defines the contract between the agent and the downstream
// middleware that actually instantiates publish/subscribe entities. The agent
// only manages identity and lifecycle; a Factory turns an object descriptor
// into a live Handle and releases it again when the object is deleted or
// replaced.
package entities

import (
	"context"
	"errors"
	"fmt"

	"github.com/ggoodman/xrce-agent-go/xrce"
)

// Request describes one instantiation.
type Request struct {
	ClientKey xrce.ClientKey
	ObjectID  xrce.ObjectID
	Object    xrce.ObjectVariant
}

// Handle is a live downstream entity owned by exactly one session object.
type Handle interface {
	// Release tears the entity down. It is called at most once.
	Release(ctx context.Context) error
}

// Factory instantiates downstream entities.
//
// Implementations MUST be safe for concurrent use: the agent calls Instantiate
// for different sessions in parallel. Calls for the same session are
// serialized. Instantiate must not block for long since it runs while the
// session is locked.
type Factory interface {
	Instantiate(ctx context.Context, req Request) (Handle, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, req Request) (Handle, error)

// Instantiate calls f(ctx, req).
func (f FactoryFunc) Instantiate(ctx context.Context, req Request) (Handle, error) {
	return f(ctx, req)
}

// InvalidDescriptorError indicates the descriptor itself is unusable (bad
// representation, unknown reference, wrong kind). The agent answers with
// ERR_INVALID_DATA.
type InvalidDescriptorError struct {
	Kind   xrce.ObjectKind
	Reason string
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid %s descriptor: %s", e.Kind, e.Reason)
}

// ResourceError indicates the downstream middleware could not allocate the
// entity. The agent answers with ERR_RESOURCES. Any error that is not an
// InvalidDescriptorError is treated the same way.
type ResourceError struct {
	Kind xrce.ObjectKind
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s resources unavailable: %v", e.Kind, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Status maps an instantiation error to the status code reported to the
// client.
func Status(err error) xrce.ImplStatus {
	if err == nil {
		return xrce.StatusOK
	}
	var invalid *InvalidDescriptorError
	if errors.As(err, &invalid) {
		return xrce.StatusErrInvalidData
	}
	return xrce.StatusErrResources
}

type nopHandle struct{}

func (nopHandle) Release(context.Context) error { return nil }

// Nop accepts every descriptor and returns handles that do nothing.
var Nop Factory = FactoryFunc(func(context.Context, Request) (Handle, error) {
	return nopHandle{}, nil
})
