// Package memoryhost provides an in-memory sessions.Host implementation
// suitable for tests, development, and single-process agents. All state is
// ephemeral and discarded on process exit.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Ordering          : monotonic decimal event IDs
//	Event delivery    : in order, per subscriber
//	Concurrency       : safe (RWMutex + broadcast channel)
//
// Example:
//
//	host := memoryhost.New()
//	a := agent.New(agent.WithHost(host))
//
// For multi-process deployments prefer a shared host like redishost.
package memoryhost
