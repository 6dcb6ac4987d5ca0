// Package dispatch is the calling side of the bridge: it turns typed calls into
// protocol Commands, spawns one worker per Command and decodes its Result.
//
// Invocation contract:
//   - Command line: `<runtime> <entrypoint> <json>`, runtime optional
//   - The JSON Command is the worker's only argument
//   - The worker prints exactly one JSON Result on stdout
//   - Ledger endpoints and the invocation id travel in AOBRIDGE_* env vars
//
// Timeout handling:
//   - Each command has a configured timeout (config.TimeoutsConfig)
//   - When it expires SIGTERM is sent, then SIGKILL after a 5 second grace period
//   - Context cancellation terminates the worker the same way
//
// Error handling:
//   - Signed command without a wallet path → ErrConfiguration, no worker spawned
//   - Command rejected by the schema → kind=invalid, no worker spawned
//   - Runtime or entrypoint missing, start failure → kind=spawn
//   - Timeout or caller deadline → kind=timeout (raw carries any partial stdout)
//   - Context cancelled → kind=cancelled
//   - Stdout empty, truncated or not a Result → kind=decode (raw carries stdout)
//   - Worker reported failure → passed through, kind=operation unless the worker set one
//
// Non-zero exit codes are logged but never override a decodable Result.
package dispatch
