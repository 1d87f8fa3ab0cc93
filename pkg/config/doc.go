// Package config reads the observastack client configuration: a YAML file
// merged over built-in defaults, then overridden by OBSERVASTACK_*
// environment variables. The result is read once per process and handed to
// the API client, the auth facade and the token store.
package config
