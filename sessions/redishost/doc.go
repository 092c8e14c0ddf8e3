// Package redishost implements sessions.Host using Redis primitives so that
// several agent processes (and operator tooling) can share one session
// directory.
//
// Design Notes
//   - Records: one hash per client key plus a set indexing all keys
//   - Events: a single Stream read with XREAD polling; approximate MAXLEN trim
//   - Subscriptions that start "from now" resolve the current stream tail
//     first so that no event is lost between polls
//
// Example:
//
//	host, err := redishost.NewFromEnv()
//	if err != nil { log.Fatal(err) }
//	defer host.Close()
//
// Use memoryhost for ephemeral development; use redishost where several
// processes need the same view.
package redishost
