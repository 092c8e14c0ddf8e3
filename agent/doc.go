// Package agent implements the session core of an XRCE bridge agent.
//
// An Agent owns the registry of admitted client sessions, keyed by
// xrce.ClientKey. Each admitted session is a ProxyClient that owns a table of
// entities keyed by xrce.ObjectID. Every entry point returns exactly one
// xrce.ResultStatus: the Status field names the attempted operation, the
// Implementation field the outcome and RequestID echoes the caller's id.
// Expected failures never surface as Go errors or panics.
//
// # Admission
//
// CreateClient validates, in order, the session cookie (ERR_INVALID_DATA),
// the protocol major version (ERR_INCOMPATIBLE) and, when an Authenticator is
// configured, the token carried in the xrce.TokenProperty property
// (ERR_INVALID_DATA). A key that is already registered is re-admitted only
// while its session holds no entities; otherwise ERR_ALREADY_EXISTS.
//
// The token is checked at admission only. Later requests addressed to an
// admitted ClientKey are accepted from any origin without a credential, so
// knowing the key is enough to act on, or delete, the session. The admitting
// origin and subject are recorded in ClientInfo and the session directory.
// Deployments that cannot trust the network must restrict who can reach the
// transports.
//
// # Not found
//
// Referencing an unknown or deleted client yields ERR_INVALID_DATA, while
// deleting an unknown object within a live session yields
// ERR_UNKNOWN_REFERENCE.
//
// # Concurrency
//
// The registry is guarded by a single RWMutex and every ProxyClient by its
// own mutex, always acquired in that order. A ProxyClient holds its mutex
// while the Factory instantiates an entity, so the registry lock is never
// held while waiting on a client: deletion unregisters the key first and
// terminates the session afterwards, and re-admission terminates the old
// session before taking the registry lock. Operations on different keys run
// in parallel; operations on the same key are serialized.
//
// # Session directory
//
// When configured with a sessions.Host (WithHost), lifecycle changes are
// queued on a bounded channel without blocking and applied to the host by
// Run. A full queue drops the change; drops are logged and counted.
//
// Example:
//
//	a := agent.New(
//	    agent.WithLogger(logger),
//	    agent.WithFactory(factory),
//	    agent.WithHost(memoryhost.New()),
//	)
//	go a.Run(ctx)
//
//	res := a.CreateClient(ctx, &xrce.CreateClientRequest{...})
//	if !res.OK() { ... }
package agent
