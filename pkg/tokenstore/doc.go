// Package tokenstore keeps custody of the local backend's credential bundle.
//
// A Store persists one Bundle under a single key of a Storage backend
// (memory, a JSON file, or the OS keyring) and evaluates expiry every time it
// is read; nothing is cached and no background timer is needed to notice an
// expired session. Storage failures and corrupt entries degrade to "no
// tokens" instead of surfacing to callers.
package tokenstore
