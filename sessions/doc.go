// Package sessions defines the session directory: a shared, informational
// view of the client sessions an agent has admitted. The agent owns the
// authoritative registry in memory and mirrors it into a Host so that
// operators and other processes can observe which clients are connected,
// which agent instance holds them and how many objects each one owns.
//
// The directory is never consulted for admission decisions.
//
// # Host Interface
//
// Host abstracts persistence and ordered fan-out:
//   - PutClient / GetClient / ListClients / DeleteClient : per-client records
//   - PublishEvent / SubscribeEvents                     : ordered lifecycle event log
//
// Implementations
//
//	memoryhost : in-memory reference used for tests / single-process agents
//	redishost  : Redis hashes + Streams for multi-process deployments
//
// Conformance of an implementation is checked with the shared suite in
// sessionhosttest.
package sessions
